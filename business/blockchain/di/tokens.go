// Package di contains dependency injection tokens for the blockchain context.
package di

import (
	"github.com/fd1az/dex-arb-engine/business/blockchain/app"
	"github.com/fd1az/dex-arb-engine/business/blockchain/infra/ethereum"
	"github.com/fd1az/dex-arb-engine/internal/di"
)

// Public service tokens - exposed to other modules
var (
	BlockchainService = di.NewToken[*app.BlockchainService]("blockchain.BlockchainService")

	// EndpointPool is public: the pricing context reads pool contracts
	// through the same failover pool.
	EndpointPool = di.NewToken[*ethereum.Pool]("blockchain.EndpointPool")
)

// Private dependency tokens - internal to blockchain module
var (
	GasOracle = di.NewToken[app.GasOracle]("blockchain:gasOracle")
)

// Helper functions for type-safe access
func GetBlockchainService(c di.ServiceRegistry) *app.BlockchainService {
	return di.GetToken(c, BlockchainService)
}

func GetEndpointPool(c di.ServiceRegistry) *ethereum.Pool {
	return di.GetToken(c, EndpointPool)
}

func GetGasOracle(c di.ServiceRegistry) app.GasOracle {
	return di.GetToken(c, GasOracle)
}
