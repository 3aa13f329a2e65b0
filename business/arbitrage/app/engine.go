package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	blockchainDomain "github.com/fd1az/dex-arb-engine/business/blockchain/domain"
	pricingApp "github.com/fd1az/dex-arb-engine/business/pricing/app"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

// MarketData is the pricing-context surface the engine consumes.
type MarketData interface {
	FetchPoolStates(ctx context.Context, useCache bool) ([]*pricingDomain.PoolState, pricingApp.FetchStats, error)
	NativeUSD(ctx context.Context) (decimal.Decimal, error)
}

// GasSource resolves the current network gas price.
type GasSource interface {
	GetGasPrice(ctx context.Context) (*blockchainDomain.GasPrice, error)
}

// HealthSource exposes RPC endpoint health for status queries.
// Implemented by the blockchain service.
type HealthSource interface {
	EndpointHealth() []blockchainDomain.EndpointHealth
	Healthy() bool
}

// CacheStatsSource exposes per-bucket cache statistics.
type CacheStatsSource interface {
	Stats() map[string]cache.Stats
}

// CycleStats summarizes one scan cycle for reporting and status.
type CycleStats struct {
	Timestamp     time.Time
	Duration      time.Duration
	TierName      string
	GasPriceGwei  float64
	NativeUSD     decimal.Decimal
	HopCostUSD    decimal.Decimal
	Pools         int
	CacheHits     int
	LiveReads     int
	FetchFailures int
	Opportunities int
	Executed      bool
	Skipped       bool
	SkipReason    string
}

// EngineConfig holds the scan loop knobs.
type EngineConfig struct {
	Interval        time.Duration
	FetchTimeout    time.Duration
	MaxTwoHopGasUSD decimal.Decimal
	ReportTopN      int
	AutoExecute     bool

	// RolloverCron is the schedule for the daily P&L reset, typically
	// midnight. Empty disables the rollover job.
	RolloverCron string
}

type engineMetrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
	cyclesSkipped metric.Int64Counter
	opportunities metric.Int64Counter
}

// Engine is the arbitrage context facade: it drives the periodic scan
// cycle through tuner, pricing, detector, router and executor, and
// owns the daily rollover schedule.
type Engine struct {
	config     EngineConfig
	market     MarketData
	gas        GasSource
	tuner      *GasTuner
	detector   *Detector
	router     *Router
	executor   *Executor
	reporter   Reporter
	health     HealthSource
	cacheStats CacheStatsSource
	logger     logger.LoggerInterface

	tracer  trace.Tracer
	metrics *engineMetrics
	cron    *cron.Cron

	mu        sync.Mutex
	lastCycle CycleStats
}

// NewEngine wires the scan loop. The reporter, health source and cache
// stats source may be nil; status then omits those sections.
func NewEngine(
	cfg EngineConfig,
	market MarketData,
	gas GasSource,
	tuner *GasTuner,
	detector *Detector,
	router *Router,
	executor *Executor,
	reporter Reporter,
	health HealthSource,
	cacheStats CacheStatsSource,
	log logger.LoggerInterface,
) (*Engine, error) {
	e := &Engine{
		config:     cfg,
		market:     market,
		gas:        gas,
		tuner:      tuner,
		detector:   detector,
		router:     router,
		executor:   executor,
		reporter:   reporter,
		health:     health,
		cacheStats: cacheStats,
		logger:     log,
		tracer:     otel.Tracer(tracerName),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *Engine) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	e.metrics = &engineMetrics{}

	e.metrics.cycles, err = meter.Int64Counter(
		"engine_cycles_total",
		metric.WithDescription("Completed scan cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	e.metrics.cycleDuration, err = meter.Float64Histogram(
		"engine_cycle_duration_seconds",
		metric.WithDescription("Scan cycle wall time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	e.metrics.cyclesSkipped, err = meter.Int64Counter(
		"engine_cycles_skipped_total",
		metric.WithDescription("Cycles skipped before fetching, by reason"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}

	e.metrics.opportunities, err = meter.Int64Counter(
		"engine_opportunities_total",
		metric.WithDescription("Opportunities produced by scan cycles"),
		metric.WithUnit("{opportunity}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Start runs the scan loop until ctx is cancelled. One cycle runs
// immediately; subsequent cycles tick at the configured interval. The
// rollover cron starts alongside and stops with the loop.
func (e *Engine) Start(ctx context.Context) error {
	if e.config.RolloverCron != "" {
		e.cron = cron.New()
		_, err := e.cron.AddFunc(e.config.RolloverCron, func() {
			e.executor.Rollover(context.Background())
		})
		if err != nil {
			return fmt.Errorf("rollover schedule: %w", err)
		}
		e.cron.Start()
		defer e.cron.Stop()
	}

	e.logger.Info(ctx, "scan loop started",
		"interval", e.config.Interval.String(),
		"auto_execute", e.config.AutoExecute,
	)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		e.RunCycle(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "scan loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes one full scan cycle: tier selection, pool fetch,
// detection, routing and, when enabled, execution of the single best
// opportunity. Errors are absorbed into the cycle stats; the loop
// never dies on a bad cycle.
func (e *Engine) RunCycle(ctx context.Context) CycleStats {
	ctx, span := e.tracer.Start(ctx, "arbitrage.cycle")
	defer span.End()

	start := time.Now()
	stats := CycleStats{Timestamp: start}

	defer func() {
		stats.Duration = time.Since(start)
		e.metrics.cycles.Add(ctx, 1)
		e.metrics.cycleDuration.Record(ctx, stats.Duration.Seconds())

		e.mu.Lock()
		e.lastCycle = stats
		e.mu.Unlock()

		if e.reporter != nil {
			e.reporter.ReportCycle(stats)
		}
	}()

	tier, ok := e.selectTier(ctx, &stats)
	if !ok {
		span.SetStatus(codes.Ok, "skipped")
		return stats
	}
	span.SetAttributes(attribute.String("tier", tier.Name))

	opps := e.scan(ctx, tier, &stats)
	if len(opps) == 0 {
		span.SetStatus(codes.Ok, "no opportunities")
		return stats
	}
	e.metrics.opportunities.Add(ctx, int64(len(opps)))

	e.routeAndExecute(ctx, opps, tier, &stats)
	span.SetStatus(codes.Ok, "cycle complete")
	return stats
}

// selectTier resolves gas price and native USD, maps them to a search
// tier and applies the cheap pre-fetch guard.
func (e *Engine) selectTier(ctx context.Context, stats *CycleStats) (domain.GasTier, bool) {
	price, err := e.gas.GetGasPrice(ctx)
	if err != nil {
		e.skip(ctx, stats, "gas price unavailable")
		e.logger.Warn(ctx, "cycle skipped, gas price unavailable", "error", err)
		return domain.GasTier{}, false
	}

	nativeUSD, err := e.market.NativeUSD(ctx)
	if err != nil {
		e.skip(ctx, stats, "native price unavailable")
		e.logger.Warn(ctx, "cycle skipped, native USD price unavailable", "error", err)
		return domain.GasTier{}, false
	}

	tier := e.tuner.ComputeTier(price, nativeUSD)
	stats.TierName = tier.Name
	stats.GasPriceGwei = price.Gwei()
	stats.NativeUSD = nativeUSD
	stats.HopCostUSD = tier.HopCostUSD

	if !e.tuner.ShouldSearch(tier, e.config.MaxTwoHopGasUSD) {
		e.skip(ctx, stats, "gas too expensive")
		e.logger.Info(ctx, "cycle skipped, gas above search ceiling",
			"hop_cost_usd", tier.HopCostUSD.StringFixed(3),
			"ceiling_usd", e.config.MaxTwoHopGasUSD.StringFixed(2),
		)
		return domain.GasTier{}, false
	}

	return tier, true
}

// scan fetches pool states and runs detection under the fetch timeout.
func (e *Engine) scan(ctx context.Context, tier domain.GasTier, stats *CycleStats) []*domain.Opportunity {
	fetchCtx := ctx
	if e.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, e.config.FetchTimeout)
		defer cancel()
	}

	states, fetchStats, err := e.market.FetchPoolStates(fetchCtx, true)
	stats.Pools = fetchStats.Pools
	stats.CacheHits = fetchStats.CacheHits
	stats.LiveReads = fetchStats.LiveReads
	stats.FetchFailures = fetchStats.Failures
	if err != nil {
		e.logger.Warn(ctx, "pool fetch interrupted", "error", err)
		return nil
	}

	opps := e.detector.FindOpportunities(ctx, pricingApp.GroupByPair(states), tier)
	stats.Opportunities = len(opps)
	return opps
}

// routeAndExecute reports the top opportunities and executes at most
// one trade per cycle: the best opportunity with a viable path.
func (e *Engine) routeAndExecute(ctx context.Context, opps []*domain.Opportunity, tier domain.GasTier, stats *CycleStats) {
	topN := e.config.ReportTopN
	if topN <= 0 || topN > len(opps) {
		topN = len(opps)
	}

	var (
		best         *domain.Opportunity
		bestDecision domain.Decision
	)
	for i, opp := range opps {
		decision := e.router.Route(opp, tier)
		if i < topN && e.reporter != nil {
			e.reporter.ReportOpportunity(opp, decision)
		}
		if best == nil && decision.Executable() {
			best = opp
			bestDecision = decision
		}
		if i >= topN && best != nil {
			break
		}
	}

	if best == nil {
		return
	}

	e.logger.Info(ctx, "best opportunity",
		"pair", best.Pair,
		"buy", best.BuyPool.Venue,
		"sell", best.SellPool.Venue,
		"size_usd", best.TradeSizeUSD.String(),
		"net_usd", best.NetUSD.StringFixed(2),
		"path", string(bestDecision.Path),
	)

	if !e.config.AutoExecute {
		return
	}

	record, err := e.executor.Execute(ctx, best, bestDecision)
	if err != nil {
		e.logger.Warn(ctx, "execution declined or failed",
			"opportunity", best.ID, "error", err)
	}
	if record != nil {
		stats.Executed = record.Success
		if e.reporter != nil {
			e.reporter.ReportExecution(*record)
		}
	}
}

func (e *Engine) skip(ctx context.Context, stats *CycleStats, reason string) {
	stats.Skipped = true
	stats.SkipReason = reason
	e.metrics.cyclesSkipped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// SimulationResult is the outcome of a dry-run against fresh chain
// state: the routed decision plus the verified profit, or the reason
// the opportunity is no longer viable.
type SimulationResult struct {
	Decision       domain.Decision
	Viable         bool
	VerifiedNetUSD decimal.Decimal
	Reason         string
}

// ExecutionResult is the outcome of one proposed execution.
type ExecutionResult struct {
	Decision domain.Decision
	Executed bool
	Trade    *domain.TradeRecord
}

// EngineStatus answers status queries without re-running the pipeline.
type EngineStatus struct {
	Healthy   bool
	Endpoints []blockchainDomain.EndpointHealth
	Cache     map[string]cache.Stats
	Executor  ExecutorStatus
	LastCycle CycleStats
}

// Scan runs tier selection, fetch and detection once and returns the
// surviving opportunities sorted by net profit. Nothing is routed or
// executed. A skipped cycle (gas ceiling, unavailable oracles) returns
// an error naming the reason.
func (e *Engine) Scan(ctx context.Context) ([]*domain.Opportunity, error) {
	var stats CycleStats
	tier, ok := e.selectTier(ctx, &stats)
	if !ok {
		return nil, fmt.Errorf("scan skipped: %s", stats.SkipReason)
	}
	return e.scan(ctx, tier, &stats), nil
}

// Simulate routes an opportunity under current gas economics and
// dry-runs it against fresh chain state. No executor state changes and
// no transaction is built.
func (e *Engine) Simulate(ctx context.Context, opp *domain.Opportunity) (*SimulationResult, error) {
	tier, err := e.currentTier(ctx)
	if err != nil {
		return nil, err
	}

	decision := e.router.Route(opp, tier)
	if !decision.Executable() {
		return &SimulationResult{Decision: decision, Reason: decision.Reason}, nil
	}

	net, err := e.executor.Simulate(ctx, opp, decision)
	if err != nil {
		return &SimulationResult{Decision: decision, Reason: err.Error()}, nil
	}

	return &SimulationResult{
		Decision:       decision,
		Viable:         true,
		VerifiedNetUSD: net,
	}, nil
}

// ProposeAndMaybeExecute routes an opportunity and, when auto is true
// and the path is viable, runs it through the full execution pipeline.
// With auto false the routed decision is returned without side
// effects.
func (e *Engine) ProposeAndMaybeExecute(ctx context.Context, opp *domain.Opportunity, auto bool) (*ExecutionResult, error) {
	tier, err := e.currentTier(ctx)
	if err != nil {
		return nil, err
	}

	decision := e.router.Route(opp, tier)
	result := &ExecutionResult{Decision: decision}
	if !auto || !decision.Executable() {
		return result, nil
	}

	record, execErr := e.executor.Execute(ctx, opp, decision)
	result.Trade = record
	result.Executed = record != nil && record.Success
	if record != nil && e.reporter != nil {
		e.reporter.ReportExecution(*record)
	}
	return result, execErr
}

// Status reports endpoint health, cache statistics, executor state and
// the last cycle without touching the chain.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	last := e.lastCycle
	e.mu.Unlock()

	status := EngineStatus{
		Healthy:   true,
		Executor:  e.executor.Status(),
		LastCycle: last,
	}
	if e.health != nil {
		status.Healthy = e.health.Healthy()
		status.Endpoints = e.health.EndpointHealth()
	}
	if e.cacheStats != nil {
		status.Cache = e.cacheStats.Stats()
	}
	return status
}

// ExecutorStatus exposes the executor's bookkeeping for status
// endpoints.
func (e *Engine) ExecutorStatus() ExecutorStatus {
	return e.executor.Status()
}

func (e *Engine) currentTier(ctx context.Context) (domain.GasTier, error) {
	price, err := e.gas.GetGasPrice(ctx)
	if err != nil {
		return domain.GasTier{}, fmt.Errorf("gas price unavailable: %w", err)
	}
	nativeUSD, err := e.market.NativeUSD(ctx)
	if err != nil {
		return domain.GasTier{}, fmt.Errorf("native USD price unavailable: %w", err)
	}
	return e.tuner.ComputeTier(price, nativeUSD), nil
}
