// Package oracle resolves token USD prices from an external price API.
// Oracle prices only size and report trades; they never decide whether
// a spread exists.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/circuitbreaker"
	"github.com/fd1az/dex-arb-engine/internal/httpclient"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

const (
	tracerName = "pricing.oracle"
	meterName  = "pricing.oracle"

	// nativeCoinID is the CoinGecko id for the Polygon native coin.
	nativeCoinID = "polygon-ecosystem-token"

	// platformID is the CoinGecko platform for token contract lookups.
	platformID = "polygon-pos"
)

type clientMetrics struct {
	lookups     metric.Int64Counter
	lookupFails metric.Int64Counter
	cacheHits   metric.Int64Counter
}

// Client fetches USD prices from CoinGecko with persistent caching and
// a circuit breaker. A stale cached price is still served when the API
// is down; a missing one is a hard error the caller must handle.
type Client struct {
	http   httpclient.Client
	bucket *cache.Bucket
	logger logger.LoggerInterface
	cb     *circuitbreaker.CircuitBreaker[decimal.Decimal]

	tracer  trace.Tracer
	metrics *clientMetrics
}

// cachedPrice is the persisted form of one oracle price.
type cachedPrice struct {
	USD string `json:"usd"`
}

// New creates an oracle client. baseURL points at the CoinGecko API
// root, bucket is the persistent oracle cache.
func New(baseURL string, timeout time.Duration, bucket *cache.Bucket, log logger.LoggerInterface) (*Client, error) {
	httpc, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("coingecko"),
		httpclient.WithBaseURL(baseURL),
		httpclient.WithRequestTimeout(timeout),
		httpclient.WithHeaders(map[string]string{"Accept": "application/json"}),
	)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	c := &Client{
		http:   httpc,
		bucket: bucket,
		logger: log,
		cb:     circuitbreaker.New[decimal.Decimal](circuitbreaker.DefaultConfig("usd-oracle")),
		tracer: otel.Tracer(tracerName),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	c.metrics = &clientMetrics{}

	c.metrics.lookups, err = meter.Int64Counter(
		"oracle_lookups_total",
		metric.WithDescription("Total oracle price lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	c.metrics.lookupFails, err = meter.Int64Counter(
		"oracle_lookup_failures_total",
		metric.WithDescription("Oracle lookups that failed with no cached value"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	c.metrics.cacheHits, err = meter.Int64Counter(
		"oracle_cache_hits_total",
		metric.WithDescription("Oracle lookups served from cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// NativeUSD returns the USD price of the chain's native coin.
func (c *Client) NativeUSD(ctx context.Context) (decimal.Decimal, error) {
	return c.lookup(ctx, "native:"+nativeCoinID, func(ctx context.Context) (decimal.Decimal, error) {
		var result map[string]map[string]decimal.Decimal
		resp, err := c.http.NewRequest().
			SetQueryParam("ids", nativeCoinID).
			SetQueryParam("vs_currencies", "usd").
			SetResult(&result).
			Get(ctx, "/simple/price")
		if err != nil {
			return decimal.Zero, err
		}
		if resp.IsError() {
			return decimal.Zero, fmt.Errorf("oracle returned %d", resp.StatusCode)
		}

		usd, ok := result[nativeCoinID]["usd"]
		if !ok || usd.IsZero() {
			return decimal.Zero, fmt.Errorf("no usd price for %s", nativeCoinID)
		}
		return usd, nil
	})
}

// TokenUSD returns the USD price of an ERC-20 token by contract address.
func (c *Client) TokenUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	addr := strings.ToLower(token.Hex())

	return c.lookup(ctx, "token:"+addr, func(ctx context.Context) (decimal.Decimal, error) {
		var result map[string]map[string]decimal.Decimal
		resp, err := c.http.NewRequest().
			SetQueryParam("contract_addresses", addr).
			SetQueryParam("vs_currencies", "usd").
			SetResult(&result).
			Get(ctx, "/simple/token_price/"+platformID)
		if err != nil {
			return decimal.Zero, err
		}
		if resp.IsError() {
			return decimal.Zero, fmt.Errorf("oracle returned %d", resp.StatusCode)
		}

		usd, ok := result[addr]["usd"]
		if !ok || usd.IsZero() {
			return decimal.Zero, fmt.Errorf("no usd price for %s", addr)
		}
		return usd, nil
	})
}

// lookup serves from the cache bucket first, then the API behind the
// circuit breaker, caching whatever the API returns.
func (c *Client) lookup(ctx context.Context, key string, fetch func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	ctx, span := c.tracer.Start(ctx, "oracle.lookup",
		trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.metrics.lookups.Add(ctx, 1)

	var cached cachedPrice
	if c.bucket.Get(key, &cached) {
		if usd, err := decimal.NewFromString(cached.USD); err == nil {
			c.metrics.cacheHits.Add(ctx, 1)
			span.AddEvent("cache_hit")
			span.SetStatus(codes.Ok, "cached")
			return usd, nil
		}
	}

	usd, err := c.cb.Execute(func() (decimal.Decimal, error) {
		return fetch(ctx)
	})
	if err != nil {
		c.metrics.lookupFails.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return decimal.Zero, apperror.New(apperror.CodeOraclePriceUnavailable,
			apperror.WithCause(err),
			apperror.WithContext(key))
	}

	c.bucket.Set(key, cachedPrice{USD: usd.String()})

	span.SetAttributes(attribute.String("usd", usd.String()))
	span.SetStatus(codes.Ok, "fetched")
	return usd, nil
}
