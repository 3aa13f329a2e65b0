// Package blockchain implements the blockchain bounded context: the RPC
// endpoint pool and the gas oracle.
package blockchain

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fd1az/dex-arb-engine/business/blockchain/app"
	blockchainDI "github.com/fd1az/dex-arb-engine/business/blockchain/di"
	"github.com/fd1az/dex-arb-engine/business/blockchain/infra/ethereum"
	"github.com/fd1az/dex-arb-engine/internal/config"
	"github.com/fd1az/dex-arb-engine/internal/di"
	"github.com/fd1az/dex-arb-engine/internal/logger"
	"github.com/fd1az/dex-arb-engine/internal/monolith"
)

// Module implements the blockchain bounded context.
type Module struct{}

// RegisterServices registers all blockchain services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register EndpointPool (public - pricing reads through it)
	di.RegisterToken(c, blockchainDI.EndpointPool, func(sr di.ServiceRegistry) *ethereum.Pool {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		pool, err := ethereum.NewPool(ethereum.PoolConfigFromChain(cfg.Chain), log)
		if err != nil {
			panic("failed to create endpoint pool: " + err.Error())
		}
		return pool
	})

	// Register GasOracle (private - internal dependency)
	di.RegisterToken(c, blockchainDI.GasOracle, func(sr di.ServiceRegistry) app.GasOracle {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		pool := blockchainDI.GetEndpointPool(sr)

		oracleCfg := ethereum.DefaultGasOracleConfig(cfg.Chain.MaxGasPriceGwei, cfg.GasTuner.FallbackGasGwei)
		oracle, err := ethereum.NewGasOracle(oracleCfg, pool, log)
		if err != nil {
			panic("failed to create gas oracle: " + err.Error())
		}
		return oracle
	})

	// Register BlockchainService (public - exposed to other modules)
	di.RegisterToken(c, blockchainDI.BlockchainService, func(sr di.ServiceRegistry) *app.BlockchainService {
		oracle := blockchainDI.GetGasOracle(sr)
		pool := blockchainDI.GetEndpointPool(sr)
		return app.NewBlockchainService(oracle, pool)
	})

	return nil
}

// Startup probes the endpoint pool and starts its health loop. No
// healthy endpoint at startup is a configuration failure, not something
// to limp through.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()
	pool := blockchainDI.GetEndpointPool(mono.Services())

	block, err := ethereum.Call(ctx, pool, func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
	if err != nil {
		return err
	}

	pool.Start(ctx)

	log.Info(ctx, "blockchain module started",
		"chain_id", mono.Config().Chain.ID,
		"endpoints", len(mono.Config().Chain.Endpoints),
		"block", block,
	)
	return nil
}
