package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/dex-arb-engine/business/blockchain/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/circuitbreaker"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

// GasOracleConfig holds configuration for the gas oracle.
type GasOracleConfig struct {
	CacheTTL        time.Duration // how long to cache the suggested price
	MaxGasPriceWei  *big.Int      // prices above this are clamped
	FallbackGasWei  *big.Int      // used when every endpoint fails
	DefaultGasLimit uint64        // fallback when estimation fails
}

// DefaultGasOracleConfig returns sensible defaults for the given gwei
// limits.
func DefaultGasOracleConfig(maxGwei, fallbackGwei int64) GasOracleConfig {
	return GasOracleConfig{
		CacheTTL:        12 * time.Second, // roughly one block
		MaxGasPriceWei:  new(big.Int).Mul(big.NewInt(maxGwei), big.NewInt(1e9)),
		FallbackGasWei:  new(big.Int).Mul(big.NewInt(fallbackGwei), big.NewInt(1e9)),
		DefaultGasLimit: 200000,
	}
}

// gasOracleMetrics holds OTEL metric instruments.
type gasOracleMetrics struct {
	gasPriceFetches metric.Int64Counter
	gasPriceGwei    metric.Float64Gauge
	fallbacks       metric.Int64Counter
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
}

// GasOracle fetches gas prices through the endpoint pool with a short
// in-memory cache, clamping and a configured fallback.
type GasOracle struct {
	config GasOracleConfig
	logger logger.LoggerInterface
	pool   *Pool

	priceCache *cache.Memory[string, *domain.GasPrice]
	cb         *circuitbreaker.CircuitBreaker[*big.Int]

	tracer  trace.Tracer
	metrics *gasOracleMetrics
}

// NewGasOracle creates a new gas oracle instance.
func NewGasOracle(cfg GasOracleConfig, pool *Pool, log logger.LoggerInterface) (*GasOracle, error) {
	g := &GasOracle{
		config:     cfg,
		logger:     log,
		pool:       pool,
		priceCache: cache.NewMemory[string, *domain.GasPrice](5 * time.Minute),
		cb:         circuitbreaker.New[*big.Int](circuitbreaker.DefaultConfig("gas-oracle")),
		tracer:     otel.Tracer(tracerName),
	}

	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return g, nil
}

func (g *GasOracle) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gasOracleMetrics{}

	g.metrics.gasPriceFetches, err = meter.Int64Counter(
		"gas_price_fetches_total",
		metric.WithDescription("Total gas price fetch attempts"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	g.metrics.gasPriceGwei, err = meter.Float64Gauge(
		"gas_price_gwei",
		metric.WithDescription("Current gas price in gwei"),
		metric.WithUnit("gwei"),
	)
	if err != nil {
		return err
	}

	g.metrics.fallbacks, err = meter.Int64Counter(
		"gas_price_fallbacks_total",
		metric.WithDescription("Times the configured fallback price was used"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheHits, err = meter.Int64Counter(
		"gas_cache_hits_total",
		metric.WithDescription("Gas price cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheMisses, err = meter.Int64Counter(
		"gas_cache_misses_total",
		metric.WithDescription("Gas price cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// GetGasPrice retrieves the current suggested gas price. When every
// endpoint fails the configured fallback price is returned instead of
// an error, so a scan cycle can still compute conservative tiers.
func (g *GasOracle) GetGasPrice(ctx context.Context) (*domain.GasPrice, error) {
	ctx, span := g.tracer.Start(ctx, "gas.get_price")
	defer span.End()

	if price, found := g.priceCache.Get(ctx, "current"); found {
		g.metrics.cacheHits.Add(ctx, 1)
		span.AddEvent("cache_hit")
		return price, nil
	}

	g.metrics.cacheMisses.Add(ctx, 1)
	g.metrics.gasPriceFetches.Add(ctx, 1)

	wei, err := g.cb.Execute(func() (*big.Int, error) {
		return Call(ctx, g.pool, func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
			return client.SuggestGasPrice(ctx)
		})
	})
	if err != nil {
		if g.config.FallbackGasWei == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			return nil, apperror.New(apperror.CodeGasPriceFetchFailed,
				apperror.WithCause(err))
		}

		g.metrics.fallbacks.Add(ctx, 1)
		span.AddEvent("fallback_price")
		g.logger.Warn(ctx, "gas price fetch failed, using fallback",
			"fallback_wei", g.config.FallbackGasWei.String(), "error", err)
		wei = new(big.Int).Set(g.config.FallbackGasWei)
	}

	if g.config.MaxGasPriceWei != nil && wei.Cmp(g.config.MaxGasPriceWei) > 0 {
		span.AddEvent("gas_price_clamped",
			trace.WithAttributes(attribute.String("wei", wei.String())))
		g.logger.Warn(ctx, "gas price exceeds max, clamping", "wei", wei.String())
		wei = new(big.Int).Set(g.config.MaxGasPriceWei)
	}

	price := domain.NewGasPrice(wei)
	g.priceCache.Set(ctx, "current", price, g.config.CacheTTL)
	g.metrics.gasPriceGwei.Record(ctx, price.Gwei())

	span.SetAttributes(attribute.Float64("gwei", price.Gwei()))
	span.SetStatus(codes.Ok, "fetched")

	return price, nil
}

// GetGasTipCap retrieves the suggested gas tip cap (EIP-1559).
func (g *GasOracle) GetGasTipCap(ctx context.Context) (*big.Int, error) {
	ctx, span := g.tracer.Start(ctx, "gas.get_tip_cap")
	defer span.End()

	tip, err := Call(ctx, g.pool, func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasTipCap(ctx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, apperror.New(apperror.CodeGasPriceFetchFailed,
			apperror.WithCause(err),
			apperror.WithContext("gas tip cap"))
	}

	span.SetStatus(codes.Ok, "fetched")
	return tip, nil
}

// EstimateGas estimates the gas needed for a transaction, with a 10%
// safety margin.
func (g *GasOracle) EstimateGas(ctx context.Context, data []byte, to string) (uint64, error) {
	ctx, span := g.tracer.Start(ctx, "gas.estimate",
		trace.WithAttributes(
			attribute.String("to", to),
			attribute.Int("data_len", len(data)),
		),
	)
	defer span.End()

	toAddr := common.HexToAddress(to)
	msg := ethereum.CallMsg{
		To:   &toAddr,
		Data: data,
	}

	gas, err := Call(ctx, g.pool, func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.EstimateGas(ctx, msg)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "estimate failed")
		return 0, apperror.New(apperror.CodeGasEstimationFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("failed to estimate gas for %s", to)))
	}

	gas = gas + (gas / 10)

	span.SetAttributes(attribute.Int64("gas", int64(gas)))
	span.SetStatus(codes.Ok, "estimated")

	return gas, nil
}

// Close releases the oracle's cache.
func (g *GasOracle) Close() error {
	g.priceCache.Close()
	return nil
}
