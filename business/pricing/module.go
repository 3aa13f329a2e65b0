// Package pricing implements the pricing bounded context: the pool
// registry, on-chain state fetching, AMM math and USD conversion.
package pricing

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	blockchainDI "github.com/fd1az/dex-arb-engine/business/blockchain/di"
	"github.com/fd1az/dex-arb-engine/business/pricing/app"
	pricingDI "github.com/fd1az/dex-arb-engine/business/pricing/di"
	"github.com/fd1az/dex-arb-engine/business/pricing/infra/evm"
	"github.com/fd1az/dex-arb-engine/business/pricing/infra/oracle"
	"github.com/fd1az/dex-arb-engine/business/pricing/infra/registry"
	"github.com/fd1az/dex-arb-engine/internal/asset"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/config"
	"github.com/fd1az/dex-arb-engine/internal/di"
	"github.com/fd1az/dex-arb-engine/internal/logger"
	"github.com/fd1az/dex-arb-engine/internal/monolith"
)

// Module implements the pricing bounded context.
type Module struct {
	sweeper *cron.Cron
}

// RegisterServices registers all pricing services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register PoolReader (private - internal dependency)
	di.RegisterToken(c, pricingDI.PoolReader, func(sr di.ServiceRegistry) app.PoolReader {
		log := sr.Get("logger").(logger.LoggerInterface)
		pool := blockchainDI.GetEndpointPool(sr)

		reader, err := evm.NewPoolReader(pool, log)
		if err != nil {
			panic("failed to create pool reader: " + err.Error())
		}
		return reader
	})

	// Register ExecutionQuoter (private - internal dependency)
	di.RegisterToken(c, pricingDI.ExecutionQuoter, func(sr di.ServiceRegistry) app.ExecutionQuoter {
		log := sr.Get("logger").(logger.LoggerInterface)
		pool := blockchainDI.GetEndpointPool(sr)

		reader, ok := pricingDI.GetPoolReader(sr).(*evm.PoolReader)
		if !ok {
			panic("pool reader is not the evm implementation")
		}

		quoter, err := evm.NewQuoter(common.HexToAddress(evm.DefaultQuoterV2Address), pool, reader, log)
		if err != nil {
			panic("failed to create quoter: " + err.Error())
		}
		return quoter
	})

	// Register UsdOracle (private - internal dependency)
	di.RegisterToken(c, pricingDI.UsdOracle, func(sr di.ServiceRegistry) app.UsdOracle {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		store := sr.Get("cacheStore").(*cache.Store)

		client, err := oracle.New(
			cfg.Oracle.BaseURL,
			cfg.Oracle.RequestTimeout,
			store.Bucket(app.BucketOracle, cfg.Cache.OracleTTL),
			log,
		)
		if err != nil {
			panic("failed to create usd oracle: " + err.Error())
		}
		return client
	})

	// Register PricingService (public - exposed to other modules)
	di.RegisterToken(c, pricingDI.PricingService, func(sr di.ServiceRegistry) *app.PricingService {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		store := sr.Get("cacheStore").(*cache.Store)
		assets := sr.Get("assetRegistry").(*asset.Registry)

		pools, err := registry.Load(cfg.Registry.Path, cfg.Chain.ID, assets)
		if err != nil {
			panic("failed to load pool registry: " + err.Error())
		}

		svc, err := app.NewPricingService(
			pools,
			pricingDI.GetPoolReader(sr),
			pricingDI.GetExecutionQuoter(sr),
			pricingDI.GetUsdOracle(sr),
			store.Bucket(app.BucketPairPrice, cfg.Cache.PairPriceTTL),
			store.Bucket(app.BucketTvl, cfg.Cache.TvlTTL),
			log,
		)
		if err != nil {
			panic("failed to create pricing service: " + err.Error())
		}
		return svc
	})

	return nil
}

// Startup logs the registry summary and starts the periodic cache
// sweep. Pool state itself is fetched lazily by the first scan cycle.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	svc := pricingDI.GetPricingService(mono.Services())
	log := mono.Logger()

	if spec := mono.Config().Cache.SweepInterval; spec != "" {
		store := mono.CacheStore()
		m.sweeper = cron.New()
		_, err := m.sweeper.AddFunc(spec, func() {
			pruned := store.CleanupExpired()
			store.Flush()
			if pruned > 0 {
				log.Debug(context.Background(), "cache sweep", "pruned", pruned)
			}
		})
		if err != nil {
			return err
		}
		m.sweeper.Start()
		go func() {
			<-ctx.Done()
			m.sweeper.Stop()
		}()
	}

	venues := make(map[string]int)
	for _, p := range svc.Pools() {
		venues[p.Venue]++
	}

	log.Info(ctx, "pricing module started",
		"pools", len(svc.Pools()),
		"venues", len(venues),
	)
	return nil
}
