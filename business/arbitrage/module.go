// Package arbitrage implements the arbitrage bounded context: gas
// tuning, opportunity detection, execution routing and the safety-gated
// auto-executor, driven by the periodic scan engine.
package arbitrage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/app"
	arbitrageDI "github.com/fd1az/dex-arb-engine/business/arbitrage/di"
	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	"github.com/fd1az/dex-arb-engine/business/arbitrage/infra"
	"github.com/fd1az/dex-arb-engine/business/arbitrage/infra/contract"
	"github.com/fd1az/dex-arb-engine/business/arbitrage/infra/mempool"
	"github.com/fd1az/dex-arb-engine/business/arbitrage/infra/tradelog"
	blockchainDI "github.com/fd1az/dex-arb-engine/business/blockchain/di"
	pricingDI "github.com/fd1az/dex-arb-engine/business/pricing/di"
	"github.com/fd1az/dex-arb-engine/internal/asset"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/config"
	"github.com/fd1az/dex-arb-engine/internal/di"
	"github.com/fd1az/dex-arb-engine/internal/logger"
	"github.com/fd1az/dex-arb-engine/internal/monolith"
)

// assumedRevertLossUSD is booked against daily P&L for every reverted
// settlement: roughly the gas a failed two-hop trade burns.
const assumedRevertLossUSD = "0.5"

// Module implements the arbitrage bounded context.
type Module struct {
	watcher *mempool.Watcher
}

// RegisterServices registers all arbitrage services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register TradeLog (private - internal dependency)
	di.RegisterToken(c, arbitrageDI.TradeLog, func(sr di.ServiceRegistry) app.TradeLog {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		tl, err := tradelog.Open(cfg.Execution.TradeLogPath, log)
		if err != nil {
			panic("failed to open trade log: " + err.Error())
		}
		return tl
	})

	// Register TxBuilder (private - internal dependency). Without
	// auto-execute there is no key to sign with, so the builder is a
	// stub that refuses to run.
	di.RegisterToken(c, arbitrageDI.TxBuilder, func(sr di.ServiceRegistry) app.TxBuilder {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		if !cfg.Execution.AutoExecute {
			return disabledBuilder{}
		}

		pool := blockchainDI.GetEndpointPool(sr)
		store := sr.Get("cacheStore").(*cache.Store)
		gasCache := store.Bucket(contract.GasBucketName, cfg.Cache.RouterGasTTL)

		builder, err := contract.NewBuilder(cfg.Execution, cfg.Chain, pool, gasCache, log)
		if err != nil {
			panic("failed to create tx builder: " + err.Error())
		}
		return builder
	})

	// Register Reporter (private - internal dependency)
	di.RegisterToken(c, arbitrageDI.Reporter, func(sr di.ServiceRegistry) app.Reporter {
		return infra.NewConsoleReporter()
	})

	// Register Detector (private - internal dependency)
	di.RegisterToken(c, arbitrageDI.Detector, func(sr di.ServiceRegistry) *app.Detector {
		log := sr.Get("logger").(logger.LoggerInterface)
		pricing := pricingDI.GetPricingService(sr)

		detector, err := app.NewDetector(pricing, log)
		if err != nil {
			panic("failed to create detector: " + err.Error())
		}
		return detector
	})

	// Register Router (private - internal dependency)
	di.RegisterToken(c, arbitrageDI.Router, func(sr di.ServiceRegistry) *app.Router {
		cfg := sr.Get("config").(*config.Config)

		gasPerHop := cfg.GasTuner.GasPerHopDirect
		if cfg.GasTuner.UseFlashLoans {
			gasPerHop = cfg.GasTuner.GasPerHopFlash
		}

		return app.NewRouter(app.RouterConfig{
			HasWalletCapital: cfg.Execution.HasWalletCapital,
			UseFlashLoans:    cfg.GasTuner.UseFlashLoans,
			GasPerHop:        gasPerHop,
		})
	})

	// Register Executor (private - internal dependency)
	di.RegisterToken(c, arbitrageDI.Executor, func(sr di.ServiceRegistry) *app.Executor {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		executor, err := app.NewExecutor(
			app.ExecutorConfig{
				Limits:         limitsFromConfig(cfg.Execution),
				ChainID:        cfg.Chain.ID,
				AssumedLossUSD: decimal.RequireFromString(assumedRevertLossUSD),
			},
			pricingDI.GetPricingService(sr),
			arbitrageDI.GetTxBuilder(sr),
			arbitrageDI.GetTradeLog(sr),
			sr.Get("assetRegistry").(*asset.Registry),
			log,
		)
		if err != nil {
			panic("failed to create executor: " + err.Error())
		}
		return executor
	})

	// Register Engine (public - exposed to other modules)
	di.RegisterToken(c, arbitrageDI.Engine, func(sr di.ServiceRegistry) *app.Engine {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		store := sr.Get("cacheStore").(*cache.Store)
		chainSvc := blockchainDI.GetBlockchainService(sr)

		engine, err := app.NewEngine(
			app.EngineConfig{
				Interval:        cfg.Scanner.Interval,
				FetchTimeout:    cfg.Scanner.FetchTimeout,
				MaxTwoHopGasUSD: decimal.NewFromFloat(cfg.Scanner.MaxTwoHopGasUSD),
				ReportTopN:      cfg.Scanner.ReportTopN,
				AutoExecute:     cfg.Execution.AutoExecute,
				RolloverCron:    cfg.Scanner.DailyRolloverCron,
			},
			pricingDI.GetPricingService(sr),
			chainSvc,
			app.NewGasTuner(cfg.GasTuner),
			arbitrageDI.GetDetector(sr),
			arbitrageDI.GetRouter(sr),
			arbitrageDI.GetExecutor(sr),
			arbitrageDI.GetReporter(sr),
			chainSvc,
			store,
			log,
		)
		if err != nil {
			panic("failed to create engine: " + err.Error())
		}
		return engine
	})

	return nil
}

// Startup launches the scan loop and, when enabled, the mempool
// watcher feeding it early triggers.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	cfg := mono.Config()
	log := mono.Logger()
	engine := arbitrageDI.GetEngine(mono.Services())

	go func() {
		if err := engine.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "scan loop exited", "error", err)
		}
	}()

	if cfg.Mempool.Enabled {
		if err := m.startWatcher(ctx, mono, engine); err != nil {
			// The watcher is an accelerator, not a dependency; the
			// interval loop carries on without it.
			log.Warn(ctx, "mempool watcher unavailable", "error", err)
		}
	}

	log.Info(ctx, "arbitrage module started",
		"auto_execute", cfg.Execution.AutoExecute,
		"use_flash_loans", cfg.GasTuner.UseFlashLoans,
		"scan_interval", cfg.Scanner.Interval.String(),
		"mempool_watcher", cfg.Mempool.Enabled,
	)
	return nil
}

func (m *Module) startWatcher(ctx context.Context, mono monolith.Monolith, engine *app.Engine) error {
	cfg := mono.Config()
	pricing := pricingDI.GetPricingService(mono.Services())
	pool := blockchainDI.GetEndpointPool(mono.Services())

	watched := make([]common.Address, 0, len(pricing.Pools()))
	for _, p := range pricing.Pools() {
		watched = append(watched, p.Address)
	}

	watcher, err := mempool.NewWatcher(cfg.Mempool.WebSocketURL, watched, pool, mono.Logger())
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	m.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-watcher.Triggers():
				engine.RunCycle(ctx)
			}
		}
	}()

	return nil
}

// disabledBuilder satisfies the TxBuilder port when auto-execute is
// off. It should be unreachable; the engine never calls the executor
// without auto-execute.
type disabledBuilder struct{}

func (disabledBuilder) ExecuteFlashloan(context.Context, app.FlashloanRequest) (*app.ExecutionReceipt, error) {
	return nil, errors.New("auto-execute is disabled")
}

func limitsFromConfig(cfg config.ExecutionConfig) domain.Limits {
	return domain.Limits{
		MaxTradeSizeUSD:    cfg.MaxTradeSizeDecimal(),
		MinProfitUSD:       decimal.NewFromFloat(cfg.MinProfitAfterGasUSD),
		MaxSlippagePct:     decimal.NewFromFloat(cfg.MaxSlippagePct),
		MaxGasCostPct:      decimal.NewFromFloat(cfg.MaxGasCostPct),
		MaxTradesPerHour:   cfg.MaxTradesPerHour,
		MaxDailyLossUSD:    decimal.NewFromFloat(cfg.MaxDailyLossUSD),
		Cooldown:           cfg.Cooldown,
		KillOnFailedTrades: cfg.KillOnFailedTrades,
		ProfitDriftPct:     decimal.NewFromFloat(cfg.ProfitDriftPct),
		ProfitFloorPct:     decimal.NewFromFloat(cfg.ProfitFloorPct),
	}
}
