package app

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	blockchainDomain "github.com/fd1az/dex-arb-engine/business/blockchain/domain"
	pricingApp "github.com/fd1az/dex-arb-engine/business/pricing/app"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/asset"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

type fakeMarket struct {
	states     []*pricingDomain.PoolState
	nativeUSD  decimal.Decimal
	nativeErr  error
	fetchCalls int
}

func (f *fakeMarket) FetchPoolStates(_ context.Context, _ bool) ([]*pricingDomain.PoolState, pricingApp.FetchStats, error) {
	f.fetchCalls++
	return f.states, pricingApp.FetchStats{Pools: len(f.states), LiveReads: len(f.states)}, nil
}

func (f *fakeMarket) NativeUSD(_ context.Context) (decimal.Decimal, error) {
	if f.nativeErr != nil {
		return decimal.Zero, f.nativeErr
	}
	return f.nativeUSD, nil
}

type fakeGasSource struct {
	gwei int64
	err  error
}

func (f *fakeGasSource) GetGasPrice(_ context.Context) (*blockchainDomain.GasPrice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return blockchainDomain.GasPriceFromGwei(f.gwei), nil
}

type recordingReporter struct {
	cycles        []CycleStats
	opportunities []*domain.Opportunity
	executions    []domain.TradeRecord
}

func (r *recordingReporter) ReportCycle(stats CycleStats) { r.cycles = append(r.cycles, stats) }
func (r *recordingReporter) ReportOpportunity(opp *domain.Opportunity, _ domain.Decision) {
	r.opportunities = append(r.opportunities, opp)
}
func (r *recordingReporter) ReportExecution(trade domain.TradeRecord) {
	r.executions = append(r.executions, trade)
}

type engineFixture struct {
	engine   *Engine
	market   *fakeMarket
	gas      *fakeGasSource
	builder  *fakeBuilder
	reporter *recordingReporter
}

// newEngineFixture wires a full engine over two constant-product pools
// ~1% apart, a healthy 1 gwei gas price and a succeeding builder. The
// same states back both detection and fresh-quote verification, so
// profit drift is negligible.
func newEngineFixture(t *testing.T, autoExecute bool) *engineFixture {
	t.Helper()

	states := []*pricingDomain.PoolState{
		usdcWethPool("alpha", 1_000_000, 500, 30),
		usdcWethPool("bravo", 2_000_000, 990, 30),
	}

	market := &fakeMarket{states: states, nativeUSD: decimal.NewFromFloat(0.5)}
	gas := &fakeGasSource{gwei: 1}
	builder := &fakeBuilder{succeed: true}
	reporter := &recordingReporter{}

	verifier := &fakeVerifier{
		states: map[string]*pricingDomain.PoolState{},
		prices: map[common.Address]decimal.Decimal{
			states[0].Info.Token0: decimal.NewFromInt(1),
			states[0].Info.Token1: decimal.NewFromInt(2000),
		},
	}
	for _, st := range states {
		verifier.states[st.Info.Key()] = st
	}

	executor, err := NewExecutor(
		ExecutorConfig{
			Limits:         permissiveLimits(),
			ChainID:        asset.ChainIDPolygon,
			AssumedLossUSD: decimal.RequireFromString("0.5"),
		},
		verifier, builder, &memTradeLog{}, asset.DefaultRegistry(), logger.NewDiscard(),
	)
	require.NoError(t, err)

	detector := newTestDetector(t, staticTvl{})
	router := NewRouter(RouterConfig{
		HasWalletCapital: true,
		UseFlashLoans:    true,
		GasPerHop:        150_000,
	})

	engine, err := NewEngine(
		EngineConfig{
			MaxTwoHopGasUSD: decimal.NewFromInt(2),
			ReportTopN:      5,
			AutoExecute:     autoExecute,
		},
		market, gas,
		NewGasTuner(testTunerConfig()),
		detector, router, executor, reporter,
		nil, nil,
		logger.NewDiscard(),
	)
	require.NoError(t, err)

	return &engineFixture{
		engine:   engine,
		market:   market,
		gas:      gas,
		builder:  builder,
		reporter: reporter,
	}
}

func TestRunCycle_FindsAndReportsOpportunities(t *testing.T) {
	fx := newEngineFixture(t, false)

	stats := fx.engine.RunCycle(context.Background())

	assert.False(t, stats.Skipped)
	assert.Equal(t, "cheap", stats.TierName)
	assert.Equal(t, 2, stats.Pools)
	assert.Greater(t, stats.Opportunities, 0)
	assert.False(t, stats.Executed, "auto-execute is off")

	assert.Zero(t, fx.builder.calls)
	require.Len(t, fx.reporter.cycles, 1)
	assert.NotEmpty(t, fx.reporter.opportunities)
}

func TestRunCycle_SkipsWhenGasTooExpensive(t *testing.T) {
	fx := newEngineFixture(t, false)
	// 20000 gwei at $0.5 native is $1.50 per hop, $3 for two hops,
	// above the $2 search ceiling.
	fx.gas.gwei = 20_000

	stats := fx.engine.RunCycle(context.Background())

	assert.True(t, stats.Skipped)
	assert.Equal(t, "gas too expensive", stats.SkipReason)
	assert.Zero(t, fx.market.fetchCalls, "no pools may be fetched on a skipped cycle")
}

func TestRunCycle_SkipsWhenGasPriceUnavailable(t *testing.T) {
	fx := newEngineFixture(t, false)
	fx.gas.err = errors.New("all endpoints down")

	stats := fx.engine.RunCycle(context.Background())

	assert.True(t, stats.Skipped)
	assert.Equal(t, "gas price unavailable", stats.SkipReason)
	assert.Zero(t, fx.market.fetchCalls)
}

func TestRunCycle_AutoExecutesBestOpportunity(t *testing.T) {
	fx := newEngineFixture(t, true)

	stats := fx.engine.RunCycle(context.Background())

	assert.True(t, stats.Executed)
	assert.Equal(t, 1, fx.builder.calls, "at most one trade per cycle")
	require.Len(t, fx.reporter.executions, 1)
	assert.True(t, fx.reporter.executions[0].Success)

	status := fx.engine.ExecutorStatus()
	assert.Equal(t, 1, status.TradesExecuted)
}

func TestRunCycle_ExecutionFailureDoesNotKillCycle(t *testing.T) {
	fx := newEngineFixture(t, true)
	fx.builder.succeed = false

	stats := fx.engine.RunCycle(context.Background())

	assert.False(t, stats.Executed)
	require.Len(t, fx.reporter.executions, 1, "failed settlements still get reported")
	assert.False(t, fx.reporter.executions[0].Success)
	assert.Equal(t, 1, fx.engine.ExecutorStatus().ConsecutiveFailures)
}
