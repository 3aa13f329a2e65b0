package evm

import (
	"context"
	"fmt"
	"math/big"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	ethpool "github.com/fd1az/dex-arb-engine/business/blockchain/infra/ethereum"
	"github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/circuitbreaker"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

// DefaultQuoterV2Address is the QuoterV2 deployment on Polygon.
const DefaultQuoterV2Address = "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"

// feeTiers are the standard concentrated-liquidity fee tiers, tried in
// order when the registry does not pin one.
var feeTiers = []int64{100, 500, 3000, 10000}

// quoteExactInputSingleParams matches the QuoterV2 tuple layout.
type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type quoterMetrics struct {
	quotes     metric.Int64Counter
	quoteFails metric.Int64Counter
}

// Quoter produces execution-grade output amounts. Cached or simulated
// numbers select opportunities; anything actually executed is re-priced
// here first against live chain state.
type Quoter struct {
	quoterAddr common.Address
	pool       *ethpool.Pool
	reader     *PoolReader
	logger     logger.LoggerInterface
	cb         *circuitbreaker.CircuitBreaker[*big.Int]

	tracer  trace.Tracer
	metrics *quoterMetrics
}

// NewQuoter creates a quoter bound to the given QuoterV2 deployment.
func NewQuoter(quoterAddr common.Address, pool *ethpool.Pool, reader *PoolReader, log logger.LoggerInterface) (*Quoter, error) {
	q := &Quoter{
		quoterAddr: quoterAddr,
		pool:       pool,
		reader:     reader,
		logger:     log,
		cb:         circuitbreaker.New[*big.Int](circuitbreaker.DefaultConfig("quoter")),
		tracer:     otel.Tracer(tracerName),
	}

	if err := q.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return q, nil
}

func (q *Quoter) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	q.metrics = &quoterMetrics{}

	q.metrics.quotes, err = meter.Int64Counter(
		"execution_quotes_total",
		metric.WithDescription("Total execution-grade quote requests"),
		metric.WithUnit("{quote}"),
	)
	if err != nil {
		return err
	}

	q.metrics.quoteFails, err = meter.Int64Counter(
		"execution_quote_failures_total",
		metric.WithDescription("Execution-grade quotes that failed"),
		metric.WithUnit("{quote}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// QuoteOutput returns the live output amount for swapping amountIn
// through the pool. Constant-product and Algebra pools are re-read and
// priced with exact pool math; standard concentrated-liquidity pools go
// through QuoterV2, which walks ticks the same way the swap itself will.
func (q *Quoter) QuoteOutput(ctx context.Context, info domain.PoolInfo, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	ctx, span := q.tracer.Start(ctx, "pricing.execution_quote",
		trace.WithAttributes(
			attribute.String("venue", info.Venue),
			attribute.String("pool", info.Address.Hex()),
			attribute.String("type", string(info.Type)),
		),
	)
	defer span.End()

	q.metrics.quotes.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", info.Venue)))

	var (
		out *big.Int
		err error
	)

	switch info.Type {
	case domain.ConcentratedLiquidity:
		out, err = q.quoteViaQuoter(ctx, info, amountIn, zeroForOne)
	case domain.ConstantProduct, domain.Algebra:
		out, err = q.quoteFromLiveState(ctx, info, amountIn, zeroForOne)
	default:
		err = apperror.New(apperror.CodeQuoteFailed,
			apperror.WithContext(fmt.Sprintf("unhandled pool type %s", info.Type)))
	}

	if err != nil {
		q.metrics.quoteFails.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", info.Venue)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "quote failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("amount_out", out.String()))
	span.SetStatus(codes.Ok, "quoted")
	return out, nil
}

// quoteFromLiveState bypasses every cache, reads the pool fresh and
// prices the swap with the pool's own math.
func (q *Quoter) quoteFromLiveState(ctx context.Context, info domain.PoolInfo, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	state, err := q.reader.ReadState(ctx, info)
	if err != nil {
		return nil, err
	}
	return state.SwapOutput(amountIn, zeroForOne)
}

// quoteViaQuoter asks QuoterV2 for the exact swap result. When the
// registry pins a fee tier only that tier is tried; otherwise the
// standard tiers are walked and the best output wins, mirroring how a
// router would pick the pool.
func (q *Quoter) quoteViaQuoter(ctx context.Context, info domain.PoolInfo, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	tokenIn, tokenOut := info.Token0, info.Token1
	if !zeroForOne {
		tokenIn, tokenOut = tokenOut, tokenIn
	}

	tiers := feeTiers
	if info.FeeBps > 0 {
		// Registry fee is in basis points; the tier unit is
		// hundredths of a basis point.
		tiers = []int64{int64(info.FeeBps) * 100}
	}

	var (
		best    *big.Int
		lastErr error
	)
	for _, tier := range tiers {
		out, err := q.quoteSingle(ctx, tokenIn, tokenOut, amountIn, tier)
		if err != nil {
			// A tier with no pool reverts; remember and move on.
			lastErr = err
			continue
		}
		if best == nil || out.Cmp(best) > 0 {
			best = out
		}
	}

	if best == nil {
		return nil, apperror.New(apperror.CodeQuoteFailed,
			apperror.WithCause(lastErr),
			apperror.WithContext(fmt.Sprintf("no fee tier quoted for %s", info.Key())))
	}
	return best, nil
}

func (q *Quoter) quoteSingle(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, feeTier int64) (*big.Int, error) {
	params := quoteExactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(feeTier),
		SqrtPriceLimitX96: big.NewInt(0),
	}

	data, err := quoterV2ABI.Pack("quoteExactInputSingle", params)
	if err != nil {
		return nil, apperror.New(apperror.CodeQuoteFailed,
			apperror.WithCause(err),
			apperror.WithContext("pack quoteExactInputSingle"))
	}

	msg := goethereum.CallMsg{To: &q.quoterAddr, Data: data}

	return q.cb.Execute(func() (*big.Int, error) {
		raw, err := ethpool.Call(ctx, q.pool, func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
			return client.CallContract(ctx, msg, nil)
		})
		if err != nil {
			return nil, err
		}

		out, err := quoterV2ABI.Unpack("quoteExactInputSingle", raw)
		if err != nil {
			return nil, err
		}
		amountOut, ok := out[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected quoter result shape")
		}
		return amountOut, nil
	})
}
