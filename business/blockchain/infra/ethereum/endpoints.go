// Package ethereum contains go-ethereum backed adapters for the
// blockchain context: the failover endpoint pool and the gas oracle.
package ethereum

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/dex-arb-engine/business/blockchain/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/config"
	"github.com/fd1az/dex-arb-engine/internal/logger"
	"github.com/fd1az/dex-arb-engine/internal/ratelimit"
)

const (
	tracerName = "blockchain.ethereum"
	meterName  = "blockchain.ethereum"
)

// PoolConfig holds configuration for the endpoint pool.
type PoolConfig struct {
	Endpoints           []string // priority order, first is preferred
	CallTimeout         time.Duration
	Cooldown            time.Duration
	HealthCheckInterval time.Duration
	RateLimitPerMinute  int
}

// PoolConfigFromChain builds a PoolConfig from chain configuration.
func PoolConfigFromChain(cfg config.ChainConfig) PoolConfig {
	return PoolConfig{
		Endpoints:           cfg.Endpoints,
		CallTimeout:         cfg.CallTimeout,
		Cooldown:            cfg.EndpointCooldown,
		HealthCheckInterval: cfg.HealthCheckInterval,
		RateLimitPerMinute:  cfg.RateLimitPerMinute,
	}
}

// endpoint is one RPC provider plus its mutable health state.
type endpoint struct {
	url      string
	priority int
	client   *ethclient.Client

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	lastFailure         time.Time
	cooldownUntil       time.Time
	lastBlock           uint64
}

func (e *endpoint) available(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy || now.After(e.cooldownUntil)
}

func (e *endpoint) markSuccess() {
	e.mu.Lock()
	e.healthy = true
	e.consecutiveFailures = 0
	e.mu.Unlock()
}

func (e *endpoint) markFailure(now time.Time, cooldown time.Duration) {
	e.mu.Lock()
	e.healthy = false
	e.consecutiveFailures++
	e.lastFailure = now
	e.cooldownUntil = now.Add(cooldown)
	e.mu.Unlock()
}

func (e *endpoint) snapshot() domain.EndpointHealth {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.EndpointHealth{
		URL:                 e.url,
		Priority:            e.priority,
		Healthy:             e.healthy,
		ConsecutiveFailures: e.consecutiveFailures,
		LastFailure:         e.lastFailure,
		CooldownUntil:       e.cooldownUntil,
		LastBlock:           e.lastBlock,
	}
}

// poolMetrics holds OTEL metric instruments.
type poolMetrics struct {
	calls     metric.Int64Counter
	failovers metric.Int64Counter
	healthy   metric.Int64Gauge
}

// Pool executes read calls against a priority-ordered set of RPC
// endpoints with automatic failover. A failing endpoint is cooled down
// and skipped; it re-enters rotation when the cooldown expires or a
// background health check passes.
type Pool struct {
	config    PoolConfig
	logger    logger.LoggerInterface
	endpoints []*endpoint
	limiter   *ratelimit.Limiter

	tracer  trace.Tracer
	metrics *poolMetrics

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPool creates the pool and dials every configured endpoint. Dialing
// an HTTP endpoint is lazy in go-ethereum, so this does not hit the
// network yet; the startup probe in the module does.
func NewPool(cfg PoolConfig, log logger.LoggerInterface) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, apperror.New(apperror.CodeNoHealthyEndpoints,
			apperror.WithContext("no RPC endpoints configured"))
	}

	p := &Pool{
		config: cfg,
		logger: log,
		tracer: otel.Tracer(tracerName),
		stop:   make(chan struct{}),
	}

	if cfg.RateLimitPerMinute > 0 {
		p.limiter = ratelimit.New(cfg.RateLimitPerMinute)
	}

	for i, url := range cfg.Endpoints {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, apperror.New(apperror.CodeRPCConnectionFailed,
				apperror.WithCause(err),
				apperror.WithContext(url))
		}
		p.endpoints = append(p.endpoints, &endpoint{
			url:      url,
			priority: i,
			client:   client,
			healthy:  true,
		})
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Pool) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	p.metrics = &poolMetrics{}

	p.metrics.calls, err = meter.Int64Counter(
		"rpc_calls_total",
		metric.WithDescription("RPC calls by endpoint and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	p.metrics.failovers, err = meter.Int64Counter(
		"rpc_failovers_total",
		metric.WithDescription("Calls that moved past a failing endpoint"),
		metric.WithUnit("{failover}"),
	)
	if err != nil {
		return err
	}

	p.metrics.healthy, err = meter.Int64Gauge(
		"rpc_healthy_endpoints",
		metric.WithDescription("Endpoints currently marked healthy"),
		metric.WithUnit("{endpoint}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Start launches the background health-check loop.
func (p *Pool) Start(ctx context.Context) {
	if p.config.HealthCheckInterval > 0 {
		go p.healthLoop(ctx)
	}
}

// Execute runs fn against the first available endpoint, failing over in
// priority order. It returns CodeAllEndpointsExhausted only after every
// endpoint has failed for this call.
func (p *Pool) Execute(ctx context.Context, fn func(ctx context.Context, client *ethclient.Client) error) error {
	ctx, span := p.tracer.Start(ctx, "rpc.execute")
	defer span.End()

	var lastErr error
	tried := 0

	for _, ep := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !ep.available(time.Now()) {
			continue
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		tried++
		callCtx := ctx
		var cancel context.CancelFunc
		if p.config.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.config.CallTimeout)
		}
		err := fn(callCtx, ep.client)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			ep.markSuccess()
			p.metrics.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("endpoint", ep.url),
				attribute.String("outcome", "ok"),
			))
			span.SetStatus(codes.Ok, "")
			return nil
		}

		lastErr = err
		ep.markFailure(time.Now(), p.config.Cooldown)
		p.metrics.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", ep.url),
			attribute.String("outcome", "error"),
		))
		p.metrics.failovers.Add(ctx, 1)
		p.logger.Warn(ctx, "rpc call failed, trying next endpoint",
			"endpoint", ep.url, "error", err)
		span.AddEvent("failover", trace.WithAttributes(attribute.String("endpoint", ep.url)))
	}

	span.SetStatus(codes.Error, "all endpoints exhausted")
	return apperror.New(apperror.CodeAllEndpointsExhausted,
		apperror.WithCause(lastErr),
		apperror.WithContext(exhaustedReason(tried)))
}

func exhaustedReason(tried int) string {
	if tried == 0 {
		return "no endpoint was available"
	}
	return "all available endpoints failed"
}

// Call is a typed convenience wrapper around Execute.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, client *ethclient.Client) (T, error)) (T, error) {
	var result T
	err := p.Execute(ctx, func(ctx context.Context, client *ethclient.Client) error {
		var callErr error
		result, callErr = fn(ctx, client)
		return callErr
	})
	return result, err
}

// Health returns a snapshot of every endpoint's health state, in
// priority order.
func (p *Pool) Health() []domain.EndpointHealth {
	out := make([]domain.EndpointHealth, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep.snapshot())
	}
	return out
}

// Healthy reports whether at least one endpoint is available.
func (p *Pool) Healthy() bool {
	now := time.Now()
	for _, ep := range p.endpoints {
		if ep.available(now) {
			return true
		}
	}
	return false
}

// healthLoop periodically probes every endpoint with a block-number
// call, the lightest read the node supports.
func (p *Pool) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.checkAll(ctx)
		}
	}
}

func (p *Pool) checkAll(ctx context.Context) {
	healthy := int64(0)
	for _, ep := range p.endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		block, err := ep.client.BlockNumber(probeCtx)
		cancel()

		if err != nil {
			ep.markFailure(time.Now(), p.config.Cooldown)
			p.logger.Debug(ctx, "endpoint health check failed", "endpoint", ep.url, "error", err)
			continue
		}

		ep.mu.Lock()
		ep.healthy = true
		ep.consecutiveFailures = 0
		ep.lastBlock = block
		ep.mu.Unlock()
		healthy++
	}
	p.metrics.healthy.Record(ctx, healthy)
}

// Close stops the health loop and closes every client.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	for _, ep := range p.endpoints {
		ep.client.Close()
	}
}
