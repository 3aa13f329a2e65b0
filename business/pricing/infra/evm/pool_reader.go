package evm

import (
	"context"
	"fmt"
	"math/big"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
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

// readerMetrics holds OTEL metric instruments.
type readerMetrics struct {
	reads     metric.Int64Counter
	readFails metric.Int64Counter
}

// PoolReader fetches live pool state for every registered pool type
// through the shared endpoint pool.
type PoolReader struct {
	pool   *ethpool.Pool
	logger logger.LoggerInterface
	cb     *circuitbreaker.CircuitBreaker[[]byte]

	tracer  trace.Tracer
	metrics *readerMetrics
}

// NewPoolReader creates a pool state reader over the endpoint pool.
func NewPoolReader(pool *ethpool.Pool, log logger.LoggerInterface) (*PoolReader, error) {
	r := &PoolReader{
		pool:   pool,
		logger: log,
		cb:     circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("pool-reader")),
		tracer: otel.Tracer(tracerName),
	}

	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return r, nil
}

func (r *PoolReader) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	r.metrics = &readerMetrics{}

	r.metrics.reads, err = meter.Int64Counter(
		"pool_state_reads_total",
		metric.WithDescription("Total pool state reads"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return err
	}

	r.metrics.readFails, err = meter.Int64Counter(
		"pool_state_read_failures_total",
		metric.WithDescription("Pool state reads that failed"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// ReadState fetches the live state of one pool. The returned state is
// fully populated for the pool's type or an error is returned; partial
// state never leaks out.
func (r *PoolReader) ReadState(ctx context.Context, info domain.PoolInfo) (*domain.PoolState, error) {
	ctx, span := r.tracer.Start(ctx, "pricing.read_pool_state",
		trace.WithAttributes(
			attribute.String("venue", info.Venue),
			attribute.String("pool", info.Address.Hex()),
			attribute.String("type", string(info.Type)),
		),
	)
	defer span.End()

	r.metrics.reads.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", info.Venue)))

	state := &domain.PoolState{Info: info}
	var err error

	switch info.Type {
	case domain.ConstantProduct:
		err = r.readReserves(ctx, state)
	case domain.ConcentratedLiquidity:
		err = r.readSlot0(ctx, state)
	case domain.Algebra:
		err = r.readGlobalState(ctx, state)
	default:
		err = apperror.New(apperror.CodePoolReadFailed,
			apperror.WithContext(fmt.Sprintf("unhandled pool type %s", info.Type)))
	}

	if err != nil {
		r.metrics.readFails.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", info.Venue)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "read")
	return state, nil
}

func (r *PoolReader) readReserves(ctx context.Context, state *domain.PoolState) error {
	out, err := r.call(ctx, state.Info, pairABI, "getReserves")
	if err != nil {
		return err
	}

	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return r.decodeErr(state.Info, "getReserves")
	}

	state.Reserve0 = reserve0
	state.Reserve1 = reserve1
	return nil
}

func (r *PoolReader) readSlot0(ctx context.Context, state *domain.PoolState) error {
	out, err := r.call(ctx, state.Info, v3PoolABI, "slot0")
	if err != nil {
		return err
	}
	sqrtPrice, ok := out[0].(*big.Int)
	if !ok {
		return r.decodeErr(state.Info, "slot0")
	}

	liq, err := r.readLiquidity(ctx, state.Info, v3PoolABI)
	if err != nil {
		return err
	}

	state.SqrtPriceX96 = sqrtPrice
	state.Liquidity = liq
	return nil
}

func (r *PoolReader) readGlobalState(ctx context.Context, state *domain.PoolState) error {
	out, err := r.call(ctx, state.Info, algebraPoolABI, "globalState")
	if err != nil {
		return err
	}
	sqrtPrice, ok := out[0].(*big.Int)
	if !ok {
		return r.decodeErr(state.Info, "globalState")
	}

	liq, err := r.readLiquidity(ctx, state.Info, algebraPoolABI)
	if err != nil {
		return err
	}

	state.SqrtPriceX96 = sqrtPrice
	state.Liquidity = liq
	return nil
}

func (r *PoolReader) readLiquidity(ctx context.Context, info domain.PoolInfo, poolABI abi.ABI) (*big.Int, error) {
	out, err := r.call(ctx, info, poolABI, "liquidity")
	if err != nil {
		return nil, err
	}
	liq, ok := out[0].(*big.Int)
	if !ok {
		return nil, r.decodeErr(info, "liquidity")
	}
	return liq, nil
}

// call packs, executes and unpacks one view call against the pool's
// contract, behind the circuit breaker.
func (r *PoolReader) call(ctx context.Context, info domain.PoolInfo, contract abi.ABI, method string) ([]any, error) {
	data, err := contract.Pack(method)
	if err != nil {
		return nil, apperror.New(apperror.CodePoolReadFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("pack %s for %s", method, info.Key())))
	}

	addr := info.Address
	msg := goethereum.CallMsg{To: &addr, Data: data}

	raw, err := r.cb.Execute(func() ([]byte, error) {
		return ethpool.Call(ctx, r.pool, func(ctx context.Context, client *ethclient.Client) ([]byte, error) {
			return client.CallContract(ctx, msg, nil)
		})
	})
	if err != nil {
		return nil, apperror.New(apperror.CodePoolReadFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s on %s", method, info.Key())))
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, apperror.New(apperror.CodePoolReadFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("unpack %s from %s", method, info.Key())))
	}
	if len(out) == 0 {
		return nil, r.decodeErr(info, method)
	}
	return out, nil
}

func (r *PoolReader) decodeErr(info domain.PoolInfo, method string) error {
	return apperror.New(apperror.CodePoolReadFailed,
		apperror.WithContext(fmt.Sprintf("unexpected %s result shape from %s", method, info.Key())))
}
