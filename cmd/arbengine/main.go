// Package main is the entry point for the DEX arbitrage engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fd1az/dex-arb-engine/business/arbitrage"
	arbitrageDI "github.com/fd1az/dex-arb-engine/business/arbitrage/di"
	"github.com/fd1az/dex-arb-engine/business/blockchain"
	blockchainDI "github.com/fd1az/dex-arb-engine/business/blockchain/di"
	"github.com/fd1az/dex-arb-engine/business/pricing"
	"github.com/fd1az/dex-arb-engine/internal/apm"
	"github.com/fd1az/dex-arb-engine/internal/config"
	"github.com/fd1az/dex-arb-engine/internal/health"
	"github.com/fd1az/dex-arb-engine/internal/logger"
	"github.com/fd1az/dex-arb-engine/internal/metrics"
	"github.com/fd1az/dex-arb-engine/internal/monolith"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arbengine %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}

	log := logger.New(os.Stderr, logLevel, cfg.App.Name, nil)
	log.Info(ctx, "starting dex arbitrage engine",
		"version", version,
		"environment", cfg.App.Environment,
		"chain_id", cfg.Chain.ID,
	)

	// Observability is opt-in; the per-adapter instruments fall back to
	// the OTEL no-op providers when disabled.
	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}

		traceProvider = apm.NewTraceProvider(log,
			apm.WithProvider(apm.OTLPProvider, cfg.Telemetry.OTLPEndpoint, log))
		log.Info(ctx, "tracing initialized", "provider", "otlp", "endpoint", cfg.Telemetry.OTLPEndpoint)

		metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.ProviderCfg{
				Provider: metrics.PrometheusProvider,
			}),
		)

		port := cfg.Telemetry.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(port)))
		log.Info(ctx, "prometheus metrics server started", "port", port)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	mono, err := monolith.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	// Dependency order: the endpoint pool first, pricing over it, the
	// scan engine on top of both.
	modules := []monolith.Module{
		&blockchain.Module{},
		&pricing.Module{},
		&arbitrage.Module{},
	}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}

	healthServer := health.NewServer(cfg.Telemetry.HealthPort, version, log)
	registerHealthChecks(healthServer, mono)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", cfg.Telemetry.HealthPort)
	}
	defer healthServer.Stop(ctx)

	log.Info(ctx, "all modules started, scanning for opportunities")
	<-ctx.Done()

	log.Info(ctx, "shutting down")
	return nil
}

func registerHealthChecks(srv *health.Server, mono monolith.Monolith) {
	sr := mono.Services()

	srv.RegisterCheck("rpc_endpoints", func(ctx context.Context) (bool, string) {
		pool := blockchainDI.GetEndpointPool(sr)
		if !pool.Healthy() {
			return false, "no healthy RPC endpoint"
		}
		return true, "ok"
	})

	srv.RegisterCheck("kill_switch", func(ctx context.Context) (bool, string) {
		status := arbitrageDI.GetEngine(sr).ExecutorStatus()
		if status.KillSwitchTripped {
			return false, fmt.Sprintf("kill switch tripped after %d consecutive failures", status.ConsecutiveFailures)
		}
		return true, "ok"
	})
}
