package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/asset"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

type fakeVerifier struct {
	states     map[string]*pricingDomain.PoolState
	prices     map[common.Address]decimal.Decimal
	err        error
	quoteErr   error
	quoteCalls int
}

func (f *fakeVerifier) FreshState(_ context.Context, info pricingDomain.PoolInfo) (*pricingDomain.PoolState, error) {
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.states[info.Key()]
	if !ok {
		return nil, fmt.Errorf("no state for %s", info.Key())
	}
	return st, nil
}

func (f *fakeVerifier) TokenUSD(_ context.Context, token common.Address) (decimal.Decimal, error) {
	if price, ok := f.prices[token]; ok {
		return price, nil
	}
	return decimal.NewFromInt(1), nil
}

func (f *fakeVerifier) QuoteOutput(_ context.Context, info pricingDomain.PoolInfo, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	f.quoteCalls++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	st, ok := f.states[info.Key()]
	if !ok {
		return nil, fmt.Errorf("no state for %s", info.Key())
	}
	return st.SwapOutput(amountIn, zeroForOne)
}

type fakeBuilder struct {
	calls   int
	succeed bool
	lastReq FlashloanRequest
}

func (f *fakeBuilder) ExecuteFlashloan(_ context.Context, req FlashloanRequest) (*ExecutionReceipt, error) {
	f.calls++
	f.lastReq = req
	if f.succeed {
		return &ExecutionReceipt{Success: true, TxHash: "0xabc", GasUsed: 310_000}, nil
	}
	return &ExecutionReceipt{Success: false, TxHash: "0xdef", Error: "execution reverted"}, nil
}

type memTradeLog struct {
	records []domain.TradeRecord
}

func (m *memTradeLog) Record(_ context.Context, trade domain.TradeRecord) error {
	m.records = append(m.records, trade)
	return nil
}

func (m *memTradeLog) DailyPnl(_ context.Context) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, r := range m.records {
		sum = sum.Add(r.RealizedUSD)
	}
	return sum, nil
}

func (m *memTradeLog) RecentTrades(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit > len(m.records) {
		limit = len(m.records)
	}
	return m.records[len(m.records)-limit:], nil
}

func (m *memTradeLog) Close() error { return nil }

func permissiveLimits() domain.Limits {
	return domain.Limits{
		MaxTradeSizeUSD:    decimal.NewFromInt(10_000),
		MinProfitUSD:       decimal.RequireFromString("0.5"),
		MaxSlippagePct:     decimal.NewFromInt(1),
		MaxGasCostPct:      decimal.NewFromInt(100),
		MaxTradesPerHour:   20,
		MaxDailyLossUSD:    decimal.NewFromInt(50),
		Cooldown:           0,
		KillOnFailedTrades: 3,
		ProfitDriftPct:     decimal.NewFromInt(10),
		ProfitFloorPct:     decimal.NewFromInt(95),
	}
}

// execScenario builds a consistent opportunity plus fresh states: USDC
// is priced at 0.000495 WETH on bravo against 0.0005 on alpha, so a
// settlement borrows WETH, buys USDC on bravo and sells it on alpha.
type execScenario struct {
	verifier *fakeVerifier
	opp      *domain.Opportunity
	decision domain.Decision
}

func newExecScenario(t *testing.T, feeBps uint32) *execScenario {
	t.Helper()

	sellPool := usdcWethPool("alpha", 1_000_000, 500, feeBps)
	buyPool := usdcWethPool("bravo", 2_000_000, 990, feeBps)

	buyPrice, err := normalizedPrice(buyPool)
	require.NoError(t, err)
	sellPrice, err := normalizedPrice(sellPool)
	require.NoError(t, err)

	size := decimal.NewFromInt(1000)
	gross := sellPrice.Sub(buyPrice).Div(buyPrice).Mul(size)
	feeTotal := decimal.NewFromInt(int64(feeBps) * 2)
	fees := size.Mul(feeTotal).Div(decimal.NewFromInt(pricingDomain.Scale))
	gas := decimal.RequireFromString("0.10")

	opp, err := domain.NewOpportunity(
		buyPool.Info, sellPool.Info,
		buyPrice, sellPrice,
		size, gross, fees, gas,
	)
	require.NoError(t, err)

	return &execScenario{
		verifier: &fakeVerifier{
			states: map[string]*pricingDomain.PoolState{
				buyPool.Info.Key():  buyPool,
				sellPool.Info.Key(): sellPool,
			},
			prices: map[common.Address]decimal.Decimal{
				buyPool.Info.Token0: decimal.NewFromInt(1),
				buyPool.Info.Token1: decimal.NewFromInt(2000),
			},
		},
		opp: opp,
		decision: domain.Decision{
			Path:            domain.PathFlashLoan,
			Provider:        domain.ProviderBalancer,
			EstimatedGasUSD: gas,
			EstimatedNetUSD: opp.NetUSD,
			GasLimit:        400_000,
		},
	}
}

func newTestExecutor(t *testing.T, limits domain.Limits, sc *execScenario, builder *fakeBuilder, log *memTradeLog) *Executor {
	t.Helper()

	e, err := NewExecutor(
		ExecutorConfig{
			Limits:         limits,
			ChainID:        asset.ChainIDPolygon,
			AssumedLossUSD: decimal.RequireFromString("0.5"),
		},
		sc.verifier, builder, log, asset.DefaultRegistry(), logger.NewDiscard(),
	)
	require.NoError(t, err)
	return e
}

func TestExecute_SuccessRecordsTrade(t *testing.T) {
	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: true}
	tradeLog := &memTradeLog{}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, tradeLog)

	record, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.True(t, record.Success)
	assert.Equal(t, "0xabc", record.TxHash)
	assert.True(t, record.RealizedUSD.IsPositive())
	require.Len(t, tradeLog.records, 1)
	assert.Equal(t, 1, builder.calls)

	status := e.Status()
	assert.Equal(t, 1, status.TradesExecuted)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.True(t, status.DailyPnlUSD.IsPositive())
}

func TestExecute_KillSwitchAfterConsecutiveFailures(t *testing.T) {
	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: false}
	tradeLog := &memTradeLog{}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, tradeLog)

	for i := 0; i < 3; i++ {
		record, err := e.Execute(context.Background(), sc.opp, sc.decision)
		require.Error(t, err, "attempt %d should fail at settlement", i+1)
		assert.True(t, apperror.IsCode(err, apperror.CodeExecutionFailed))
		require.NotNil(t, record)
		assert.False(t, record.Success)
	}

	status := e.Status()
	assert.True(t, status.KillSwitchTripped, "three consecutive failures must trip the kill switch")
	assert.Equal(t, 3, status.ConsecutiveFailures)

	// The fourth attempt is rejected before any transaction is built.
	record, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeKillSwitchActive))
	assert.Nil(t, record)
	assert.Equal(t, 3, builder.calls)

	// Assumed loss is booked per failure.
	expectedPnl := decimal.RequireFromString("-1.5")
	assert.True(t, e.Status().DailyPnlUSD.Equal(expectedPnl),
		"expected %s daily pnl, got %s", expectedPnl, e.Status().DailyPnlUSD)
}

func TestExecute_ResetKillSwitchAllowsTrading(t *testing.T) {
	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: false}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	for i := 0; i < 3; i++ {
		_, _ = e.Execute(context.Background(), sc.opp, sc.decision)
	}
	require.True(t, e.Status().KillSwitchTripped)

	e.ResetKillSwitch(context.Background())
	builder.succeed = true

	record, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.NoError(t, err)
	assert.True(t, record.Success)
}

func TestExecute_FailsClosedOnProfitDrift(t *testing.T) {
	sc := newExecScenario(t, 0)

	// The sell venue's price collapsed between detection and execution:
	// the fresh spread is ~0.85% against the original ~1.01%, a drift
	// well past the 10% tolerance while still above the profit floor.
	drifted := usdcWethPool("alpha", 1_000_000, 499, 0)
	sc.verifier.states[drifted.Info.Key()] = drifted

	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	record, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeProfitDrifted), "got %v", err)
	assert.Nil(t, record)
	assert.Zero(t, builder.calls, "no transaction may be built after a drift rejection")
}

func TestExecute_FailsClosedWhenPoolUnreadable(t *testing.T) {
	sc := newExecScenario(t, 0)
	sc.verifier.err = errors.New("rpc timeout")

	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	_, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeVerificationFailed))
	assert.Zero(t, builder.calls)
}

func TestExecute_CooldownRejected(t *testing.T) {
	limits := permissiveLimits()
	limits.Cooldown = time.Hour

	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, limits, sc, builder, &memTradeLog{})

	_, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeSafetyCheckFailed))
	assert.Equal(t, 1, builder.calls)
}

func TestExecute_HourlyLimitRejected(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxTradesPerHour = 2

	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, limits, sc, builder, &memTradeLog{})

	for i := 0; i < 2; i++ {
		_, err := e.Execute(context.Background(), sc.opp, sc.decision)
		require.NoError(t, err)
	}

	_, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeSafetyCheckFailed))
	assert.Equal(t, 2, builder.calls)
}

func TestExecute_TradeSizeCapRejected(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxTradeSizeUSD = decimal.NewFromInt(100)

	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, limits, sc, builder, &memTradeLog{})

	_, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeSafetyCheckFailed))
	assert.Zero(t, builder.calls)
}

func TestExecute_SettlementBorrowsQuoteToken(t *testing.T) {
	sc := newExecScenario(t, 30)
	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	_, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.NoError(t, err)
	require.Equal(t, 1, builder.calls)

	req := builder.lastReq
	weth := sc.opp.BuyPool.Token1
	usdc := sc.opp.BuyPool.Token0
	assert.Equal(t, weth.Hex(), req.TokenIn, "the loan must be taken in the pair's quote token")
	assert.Equal(t, usdc.Hex(), req.TokenOut, "the buy venue must deliver the underpriced asset")
	require.NotNil(t, req.MinProfitWei)
	assert.Equal(t, 1, req.MinProfitWei.Sign(), "profit floor must be positive in the borrowed token")

	// Replay the submitted legs against the live pools: borrowed WETH
	// into the buy venue, the USDC bought back through the sell venue.
	// The route as submitted must return more WETH than was borrowed.
	buy := sc.verifier.states[sc.opp.BuyPool.Key()]
	sell := sc.verifier.states[sc.opp.SellPool.Key()]
	bought, err := buy.SwapOutput(req.AmountInWei, false)
	require.NoError(t, err)
	returned, err := sell.SwapOutput(bought, true)
	require.NoError(t, err)
	assert.Equal(t, 1, returned.Cmp(req.AmountInWei),
		"submitted route must be profitable: borrowed %s, returned %s", req.AmountInWei, returned)
}

func TestExecute_VerificationQuotesBothLegs(t *testing.T) {
	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	_, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.NoError(t, err)
	assert.Equal(t, 2, sc.verifier.quoteCalls, "both settlement legs must be quoted before submission")
}

func TestExecute_QuoteFailureFailsClosed(t *testing.T) {
	sc := newExecScenario(t, 0)
	sc.verifier.quoteErr = errors.New("quoter revert")

	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	_, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeVerificationFailed), "got %v", err)
	assert.Zero(t, builder.calls)
}

func TestExecute_SlippageCountsSellLeg(t *testing.T) {
	sc := newExecScenario(t, 0)

	// Same spot price on the sell venue but a fraction of the depth:
	// the buy leg's impact stays ~0.15% while selling the bought USDC
	// into the thin pool moves it ~2%, past the 1% cap.
	thin := usdcWethPool("alpha", 50_000, 25, 0)
	sc.verifier.states[thin.Info.Key()] = thin

	builder := &fakeBuilder{succeed: true}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	record, err := e.Execute(context.Background(), sc.opp, sc.decision)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeVerificationFailed), "got %v", err)
	assert.Nil(t, record)
	assert.Zero(t, builder.calls, "no transaction may be built past the slippage cap")
}

func TestRollover_ResetsPnlKeepsKillSwitch(t *testing.T) {
	sc := newExecScenario(t, 0)
	builder := &fakeBuilder{succeed: false}
	e := newTestExecutor(t, permissiveLimits(), sc, builder, &memTradeLog{})

	for i := 0; i < 3; i++ {
		_, _ = e.Execute(context.Background(), sc.opp, sc.decision)
	}
	require.True(t, e.Status().KillSwitchTripped)
	require.True(t, e.Status().DailyPnlUSD.IsNegative())

	e.Rollover(context.Background())

	status := e.Status()
	assert.True(t, status.DailyPnlUSD.IsZero())
	assert.True(t, status.KillSwitchTripped, "rollover must not clear the kill switch")
}
