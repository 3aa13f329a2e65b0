// Package app wires pool state fetching, caching and USD pricing into
// the pricing service other contexts consume.
package app

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

const (
	tracerName = "pricing.app"
	meterName  = "pricing.app"

	// fetchConcurrency bounds parallel pool reads so one scan cycle
	// cannot monopolize the endpoint pool's rate budget.
	fetchConcurrency = 8
)

// FetchStats summarizes one fetch cycle for status reporting.
type FetchStats struct {
	Pools     int
	CacheHits int
	LiveReads int
	Failures  int
}

type serviceMetrics struct {
	fetchCycles metric.Int64Counter
	cacheHits   metric.Int64Counter
	liveReads   metric.Int64Counter
	fetchFails  metric.Int64Counter
	tvlUSD      metric.Float64Gauge
}

// PricingService is the pricing context facade: cached or live pool
// states grouped by pair, execution-grade quotes and USD conversion.
type PricingService struct {
	pools  []domain.PoolInfo
	reader PoolReader
	quoter ExecutionQuoter
	oracle UsdOracle
	logger logger.LoggerInterface

	priceBucket *cache.Bucket
	tvlBucket   *cache.Bucket

	tracer  trace.Tracer
	metrics *serviceMetrics

	mu        sync.Mutex
	lastStats FetchStats
}

// NewPricingService creates the pricing service over the given pool
// registry and adapters.
func NewPricingService(
	pools []domain.PoolInfo,
	reader PoolReader,
	quoter ExecutionQuoter,
	oracle UsdOracle,
	priceBucket, tvlBucket *cache.Bucket,
	log logger.LoggerInterface,
) (*PricingService, error) {
	s := &PricingService{
		pools:       pools,
		reader:      reader,
		quoter:      quoter,
		oracle:      oracle,
		logger:      log,
		priceBucket: priceBucket,
		tvlBucket:   tvlBucket,
		tracer:      otel.Tracer(tracerName),
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return s, nil
}

func (s *PricingService) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &serviceMetrics{}

	s.metrics.fetchCycles, err = meter.Int64Counter(
		"pricing_fetch_cycles_total",
		metric.WithDescription("Completed pool state fetch cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	s.metrics.cacheHits, err = meter.Int64Counter(
		"pricing_cache_hits_total",
		metric.WithDescription("Pool states served from cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	s.metrics.liveReads, err = meter.Int64Counter(
		"pricing_live_reads_total",
		metric.WithDescription("Pool states read from chain"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return err
	}

	s.metrics.fetchFails, err = meter.Int64Counter(
		"pricing_fetch_failures_total",
		metric.WithDescription("Pool state fetches that failed"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	s.metrics.tvlUSD, err = meter.Float64Gauge(
		"pool_tvl_usd",
		metric.WithDescription("Last computed pool TVL in USD"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Pools returns the registered pool list.
func (s *PricingService) Pools() []domain.PoolInfo {
	return s.pools
}

// FetchPoolStates returns the current state of every registered pool.
// Cached states within TTL are used as-is; the rest are read from the
// chain concurrently. Individual pool failures are logged and skipped
// so one dead venue cannot blind the whole scan.
func (s *PricingService) FetchPoolStates(ctx context.Context, useCache bool) ([]*domain.PoolState, FetchStats, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.fetch_pool_states",
		trace.WithAttributes(
			attribute.Int("pools", len(s.pools)),
			attribute.Bool("use_cache", useCache),
		),
	)
	defer span.End()

	var (
		mu     sync.Mutex
		states []*domain.PoolState
		stats  = FetchStats{Pools: len(s.pools)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for _, info := range s.pools {
		g.Go(func() error {
			state, fromCache, err := s.fetchOne(gctx, info, useCache)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failures++
				s.logger.Warn(gctx, "pool state fetch failed, skipping pool",
					"pool", info.Key(), "error", err)
				return nil
			}
			if fromCache {
				stats.CacheHits++
			} else {
				stats.LiveReads++
			}
			states = append(states, state)
			return nil
		})
	}

	// Workers never return errors; Wait only observes ctx cancellation.
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch interrupted")
		return nil, stats, err
	}

	s.metrics.fetchCycles.Add(ctx, 1)
	s.metrics.cacheHits.Add(ctx, int64(stats.CacheHits))
	s.metrics.liveReads.Add(ctx, int64(stats.LiveReads))
	s.metrics.fetchFails.Add(ctx, int64(stats.Failures))

	s.mu.Lock()
	s.lastStats = stats
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("cache_hits", stats.CacheHits),
		attribute.Int("live_reads", stats.LiveReads),
		attribute.Int("failures", stats.Failures),
	)
	span.SetStatus(codes.Ok, "fetched")

	return states, stats, nil
}

func (s *PricingService) fetchOne(ctx context.Context, info domain.PoolInfo, useCache bool) (*domain.PoolState, bool, error) {
	if useCache {
		var entry pairPriceEntry
		if s.priceBucket.Get(info.Key(), &entry) {
			if state, ok := entry.toState(info); ok {
				return state, true, nil
			}
			// Entry shape no longer matches the registry; drop it.
			s.priceBucket.Delete(info.Key())
		}
	}

	state, err := s.reader.ReadState(ctx, info)
	if err != nil {
		return nil, false, err
	}

	s.priceBucket.Set(info.Key(), entryFromState(state))
	return state, false, nil
}

// GroupByPair buckets pool states by unordered token pair. Pairs with a
// single pool cannot arbitrage and are dropped.
func GroupByPair(states []*domain.PoolState) map[string][]*domain.PoolState {
	grouped := make(map[string][]*domain.PoolState)
	for _, st := range states {
		key := st.Info.PairKey()
		grouped[key] = append(grouped[key], st)
	}
	for key, pools := range grouped {
		if len(pools) < 2 {
			delete(grouped, key)
		}
	}
	return grouped
}

// QuoteOutput returns an execution-grade output amount straight from
// chain state, bypassing every cache.
func (s *PricingService) QuoteOutput(ctx context.Context, info domain.PoolInfo, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	return s.quoter.QuoteOutput(ctx, info, amountIn, zeroForOne)
}

// NativeUSD returns the USD price of the chain's native coin.
func (s *PricingService) NativeUSD(ctx context.Context) (decimal.Decimal, error) {
	return s.oracle.NativeUSD(ctx)
}

// PoolTVL returns the pool's total value locked in USD, cached on the
// slow horizon. Only meaningful for constant-product pools, whose
// reserves are the whole book; concentrated pools report zero and are
// filtered by liquidity instead.
func (s *PricingService) PoolTVL(ctx context.Context, state *domain.PoolState) (decimal.Decimal, error) {
	var entry tvlEntry
	if s.tvlBucket.Get(state.Info.Key(), &entry) {
		if tvl, err := decimal.NewFromString(entry.TvlUSD); err == nil {
			return tvl, nil
		}
	}

	if state.Info.Type != domain.ConstantProduct || !state.HasLiquidity() {
		return decimal.Zero, nil
	}

	price0, err := s.oracle.TokenUSD(ctx, state.Info.Token0)
	if err != nil {
		return decimal.Zero, err
	}
	price1, err := s.oracle.TokenUSD(ctx, state.Info.Token1)
	if err != nil {
		return decimal.Zero, err
	}

	side0 := decimal.NewFromBigInt(state.Reserve0, -int32(state.Info.Decimals0)).Mul(price0)
	side1 := decimal.NewFromBigInt(state.Reserve1, -int32(state.Info.Decimals1)).Mul(price1)
	tvl := side0.Add(side1)

	s.tvlBucket.Set(state.Info.Key(), tvlEntry{TvlUSD: tvl.String()})
	s.metrics.tvlUSD.Record(ctx, tvl.InexactFloat64(),
		metric.WithAttributes(attribute.String("pool", state.Info.Key())))

	return tvl, nil
}

// TokenUSD returns the USD price of a token by contract address.
func (s *PricingService) TokenUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	return s.oracle.TokenUSD(ctx, token)
}

// FreshState reads one pool's state straight from the chain and
// refreshes the cache entry. Used by the execution path, where cached
// numbers are never trusted.
func (s *PricingService) FreshState(ctx context.Context, info domain.PoolInfo) (*domain.PoolState, error) {
	state, err := s.reader.ReadState(ctx, info)
	if err != nil {
		return nil, err
	}
	s.priceBucket.Set(info.Key(), entryFromState(state))
	return state, nil
}

// LastStats returns the stats of the most recent fetch cycle.
func (s *PricingService) LastStats() FetchStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}
