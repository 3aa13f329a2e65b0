// Package di contains dependency injection tokens for the pricing context.
package di

import (
	"github.com/fd1az/dex-arb-engine/business/pricing/app"
	"github.com/fd1az/dex-arb-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	PricingService = di.NewToken[*app.PricingService]("pricing.PricingService")
)

// Private dependency tokens - internal to pricing module
var (
	PoolReader      = di.NewToken[app.PoolReader]("pricing:poolReader")
	ExecutionQuoter = di.NewToken[app.ExecutionQuoter]("pricing:executionQuoter")
	UsdOracle       = di.NewToken[app.UsdOracle]("pricing:usdOracle")
)

// Helper functions for type-safe access
func GetPricingService(c di.ServiceRegistry) *app.PricingService {
	return di.GetToken(c, PricingService)
}

func GetPoolReader(c di.ServiceRegistry) app.PoolReader {
	return di.GetToken(c, PoolReader)
}

func GetExecutionQuoter(c di.ServiceRegistry) app.ExecutionQuoter {
	return di.GetToken(c, ExecutionQuoter)
}

func GetUsdOracle(c di.ServiceRegistry) app.UsdOracle {
	return di.GetToken(c, UsdOracle)
}
