package app

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/asset"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

// Verifier re-reads pool state, resolves token USD prices and produces
// execution-grade swap quotes for the fresh-quote gate. Implemented by
// the pricing service; QuoteOutput goes through the venue's own
// on-chain quoting call for concentrated-liquidity pools.
type Verifier interface {
	FreshState(ctx context.Context, info pricingDomain.PoolInfo) (*pricingDomain.PoolState, error)
	TokenUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
	QuoteOutput(ctx context.Context, info pricingDomain.PoolInfo, amountIn *big.Int, zeroForOne bool) (*big.Int, error)
}

// ExecutorConfig holds the safety limits and execution knobs.
type ExecutorConfig struct {
	Limits domain.Limits

	// ChainID scopes asset-registry lookups for the tokens being
	// settled.
	ChainID uint64

	// AssumedLossUSD is booked against daily P&L for every reverted
	// transaction: the gas burned by a failed trade.
	AssumedLossUSD decimal.Decimal
}

// ExecutorStatus is a point-in-time snapshot for status queries.
type ExecutorStatus struct {
	KillSwitchTripped   bool
	ConsecutiveFailures int
	DailyPnlUSD         decimal.Decimal
	TradesExecuted      int
	TradesFailed        int
	TradesLastHour      int
	LastTradeTime       time.Time
}

type executorMetrics struct {
	attempts      metric.Int64Counter
	safetyRejects metric.Int64Counter
	verifyRejects metric.Int64Counter
	executed      metric.Int64Counter
	failed        metric.Int64Counter
	killSwitch    metric.Int64Counter
	dailyPnl      metric.Float64Gauge
}

// Executor is the safety-gated final stage: SafetyCheck, fresh-quote
// verification, then the transaction-building collaborator. A single
// mutex serializes the whole state machine, so at most one execution
// is ever in flight regardless of who proposes (scan loop or mempool
// watcher).
type Executor struct {
	config   ExecutorConfig
	verifier Verifier
	builder  TxBuilder
	tradeLog TradeLog
	assets   *asset.Registry
	logger   logger.LoggerInterface

	tracer  trace.Tracer
	metrics *executorMetrics

	mu    sync.Mutex
	state *domain.ExecutorState
	now   func() time.Time
}

// NewExecutor creates an executor with zeroed state.
func NewExecutor(
	cfg ExecutorConfig,
	verifier Verifier,
	builder TxBuilder,
	tradeLog TradeLog,
	assets *asset.Registry,
	log logger.LoggerInterface,
) (*Executor, error) {
	e := &Executor{
		config:   cfg,
		verifier: verifier,
		builder:  builder,
		tradeLog: tradeLog,
		assets:   assets,
		logger:   log,
		state:    domain.NewExecutorState(),
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *Executor) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	e.metrics = &executorMetrics{}

	e.metrics.attempts, err = meter.Int64Counter(
		"executor_attempts_total",
		metric.WithDescription("Execution attempts entering the state machine"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	e.metrics.safetyRejects, err = meter.Int64Counter(
		"executor_safety_rejections_total",
		metric.WithDescription("Attempts rejected by a safety check, by reason"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return err
	}

	e.metrics.verifyRejects, err = meter.Int64Counter(
		"executor_verification_rejections_total",
		metric.WithDescription("Attempts rejected by fresh-quote verification"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return err
	}

	e.metrics.executed, err = meter.Int64Counter(
		"executor_trades_total",
		metric.WithDescription("Trades submitted on-chain successfully"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return err
	}

	e.metrics.failed, err = meter.Int64Counter(
		"executor_failures_total",
		metric.WithDescription("Trades that reverted or failed to build"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return err
	}

	e.metrics.killSwitch, err = meter.Int64Counter(
		"executor_kill_switch_trips_total",
		metric.WithDescription("Times the kill switch latched"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		return err
	}

	e.metrics.dailyPnl, err = meter.Float64Gauge(
		"executor_daily_pnl_usd",
		metric.WithDescription("Running daily P&L"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Execute runs the full state machine for one routed opportunity:
// SafetyCheck, FreshQuoteVerification, then settlement. Every exit
// path carries a specific reason. The caller gets the trade record for
// successful or failed settlements and an error for rejections.
func (e *Executor) Execute(ctx context.Context, opp *domain.Opportunity, decision domain.Decision) (*domain.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "arbitrage.execute",
		trace.WithAttributes(
			attribute.String("opportunity", opp.ID),
			attribute.String("path", string(decision.Path)),
		),
	)
	defer span.End()

	e.metrics.attempts.Add(ctx, 1)
	now := e.now()

	if reason := e.safetyCheck(ctx, now, opp, decision); reason != "" {
		e.metrics.safetyRejects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		span.AddEvent("safety_rejected", trace.WithAttributes(attribute.String("reason", reason)))
		span.SetStatus(codes.Error, "safety rejected")

		e.logger.Info(ctx, "execution rejected by safety check",
			"opportunity", opp.ID, "reason", reason)

		code := apperror.CodeSafetyCheckFailed
		if e.state.KillSwitchTripped {
			code = apperror.CodeKillSwitchActive
		}
		return nil, apperror.New(code, apperror.WithContext(reason))
	}

	verified, err := e.verify(ctx, opp, decision)
	if err != nil {
		e.metrics.verifyRejects.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification rejected")
		return nil, err
	}

	record, err := e.settle(ctx, opp, decision, verified)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		return record, err
	}

	span.SetStatus(codes.Ok, "executed")
	return record, nil
}

// safetyCheck enforces every hard limit and returns the first failing
// reason, or "" when all pass. Called with the mutex held.
func (e *Executor) safetyCheck(ctx context.Context, now time.Time, opp *domain.Opportunity, decision domain.Decision) string {
	lim := e.config.Limits

	if e.state.KillSwitchTripped {
		return "kill switch active"
	}
	if lim.KillOnFailedTrades > 0 && e.state.ConsecutiveFailures >= lim.KillOnFailedTrades {
		// Latch before rejecting: the streak itself is the trip signal.
		e.state.KillSwitchTripped = true
		e.metrics.killSwitch.Add(ctx, 1)
		return "kill switch active"
	}
	if !e.state.LastTradeTime.IsZero() && now.Sub(e.state.LastTradeTime) < lim.Cooldown {
		return "cooldown not elapsed"
	}
	if lim.MaxTradesPerHour > 0 && e.state.TradesInLastHour(now) >= lim.MaxTradesPerHour {
		return "hourly trade limit reached"
	}
	if e.state.DailyPnlUSD.IsNegative() && e.state.DailyPnlUSD.Abs().GreaterThanOrEqual(lim.MaxDailyLossUSD) {
		return "daily loss limit reached"
	}
	if opp.TradeSizeUSD.GreaterThan(lim.MaxTradeSizeUSD) {
		return "trade size above maximum"
	}
	if decision.EstimatedNetUSD.LessThan(lim.MinProfitUSD) {
		return "net profit below minimum"
	}
	if opp.GrossUSD.IsPositive() {
		gasShare := decision.EstimatedGasUSD.Div(opp.GrossUSD).Mul(decimal.NewFromInt(100))
		if gasShare.GreaterThan(lim.MaxGasCostPct) {
			return "gas cost share above cap"
		}
	}
	return ""
}

// verifiedQuote is the outcome of fresh-quote verification.
type verifiedQuote struct {
	netUSD    decimal.Decimal
	buyState  *pricingDomain.PoolState
	sellState *pricingDomain.PoolState
}

// verify re-reads both pools live, recomputes the opportunity and
// fails closed: missing pools, excessive profit drift, too much
// slippage or profit below the floor all abort. Execution never
// proceeds on the original, possibly stale numbers.
func (e *Executor) verify(ctx context.Context, opp *domain.Opportunity, decision domain.Decision) (*verifiedQuote, error) {
	buyState, err := e.verifier.FreshState(ctx, opp.BuyPool)
	if err != nil {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithCause(err),
			apperror.WithContext("buy pool unreadable"))
	}
	sellState, err := e.verifier.FreshState(ctx, opp.SellPool)
	if err != nil {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithCause(err),
			apperror.WithContext("sell pool unreadable"))
	}

	buyPrice, err := normalizedPrice(buyState)
	if err != nil {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithCause(err),
			apperror.WithContext("buy pool unpriceable"))
	}
	sellPrice, err := normalizedPrice(sellState)
	if err != nil {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithCause(err),
			apperror.WithContext("sell pool unpriceable"))
	}

	if !sellPrice.GreaterThan(buyPrice) {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithContext("spread vanished"))
	}

	gross := sellPrice.Sub(buyPrice).Div(buyPrice).Mul(opp.TradeSizeUSD)
	net := gross.Sub(opp.FeesUSD).Sub(decision.EstimatedGasUSD)

	if net.LessThan(e.config.Limits.MinProfitUSD) {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithContext(fmt.Sprintf("verified profit %s below minimum", net.StringFixed(2))))
	}

	if opp.NetUSD.IsPositive() {
		drift := net.Sub(opp.NetUSD).Abs().Div(opp.NetUSD).Mul(decimal.NewFromInt(100))
		if drift.GreaterThan(e.config.Limits.ProfitDriftPct) {
			return nil, apperror.New(apperror.CodeProfitDrifted,
				apperror.WithContext(fmt.Sprintf(
					"profit drifted %s%% (original %s, verified %s)",
					drift.StringFixed(1), opp.NetUSD.StringFixed(2), net.StringFixed(2))))
		}
	}

	slip, err := e.slippageEstimate(ctx, buyState, sellState, opp.TradeSizeUSD)
	if err != nil {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithCause(err),
			apperror.WithContext("execution quote failed"))
	}
	if slip.GreaterThan(e.config.Limits.MaxSlippagePct) {
		return nil, apperror.New(apperror.CodeVerificationFailed,
			apperror.WithContext(fmt.Sprintf("slippage estimate %s%% above cap", slip.StringFixed(2))))
	}

	return &verifiedQuote{netUSD: net, buyState: buyState, sellState: sellState}, nil
}

// slippageEstimate prices the settlement round trip with execution-grade
// quotes: the borrowed quote token into the buy pool, the asset bought
// back out through the sell pool. The shortfall against the fee-adjusted
// spot round trip is the combined price impact of both legs.
func (e *Executor) slippageEstimate(ctx context.Context, buy, sell *pricingDomain.PoolState, sizeUSD decimal.Decimal) (decimal.Decimal, error) {
	tokenIn, decimalsIn, buyZeroForOne := quoteToken(buy.Info)

	amountIn, err := e.usdToAmount(ctx, sizeUSD, tokenIn, decimalsIn)
	if err != nil {
		return decimal.Zero, err
	}
	if amountIn.IsZero() {
		return decimal.Zero, fmt.Errorf("trade size rounds to zero %s", amountIn.Asset().Symbol())
	}

	bought, err := e.verifier.QuoteOutput(ctx, buy.Info, amountIn.Raw(), buyZeroForOne)
	if err != nil {
		return decimal.Zero, err
	}
	if bought.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("buy leg quoted zero output on %s", buy.Info.Key())
	}

	returned, err := e.verifier.QuoteOutput(ctx, sell.Info, bought, aligned(sell.Info))
	if err != nil {
		return decimal.Zero, err
	}

	buySpot, err := normalizedPrice(buy)
	if err != nil {
		return decimal.Zero, err
	}
	sellSpot, err := normalizedPrice(sell)
	if err != nil {
		return decimal.Zero, err
	}

	scale := decimal.NewFromInt(pricingDomain.Scale)
	buyKeep := scale.Sub(decimal.NewFromInt(int64(buy.Info.FeeBps))).Div(scale)
	sellKeep := scale.Sub(decimal.NewFromInt(int64(sell.Info.FeeBps))).Div(scale)

	inQuote := amountIn.ToDecimal()
	idealQuote := inQuote.DivRound(buySpot, 18).Mul(buyKeep).Mul(sellSpot).Mul(sellKeep)
	if !idealQuote.IsPositive() {
		return decimal.Zero, fmt.Errorf("degenerate spot prices on %s", buy.Info.PairKey())
	}

	actualQuote := decimal.NewFromBigInt(returned, -int32(decimalsIn))
	if actualQuote.GreaterThanOrEqual(idealQuote) {
		return decimal.Zero, nil
	}
	return idealQuote.Sub(actualQuote).Div(idealQuote).Mul(decimal.NewFromInt(100)), nil
}

// settle converts the verified opportunity into wei amounts and hands
// it to the transaction builder. The borrowed leg is the pair's quote
// token: the contract swaps it for the underpriced asset on the buy
// venue, sells the asset back on the sell venue and repays the loan.
// The on-chain contract enforces a minimum-profit floor derived from
// the verified number, so even a racing or compromised process cannot
// force a losing trade through.
func (e *Executor) settle(ctx context.Context, opp *domain.Opportunity, decision domain.Decision, verified *verifiedQuote) (*domain.TradeRecord, error) {
	now := e.now()

	tokenIn, decimalsIn, _ := quoteToken(opp.BuyPool)
	tokenOut, _ := baseToken(opp.BuyPool)

	amountIn, err := e.usdToAmount(ctx, opp.TradeSizeUSD, tokenIn, decimalsIn)
	if err != nil {
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("amount conversion"))
	}

	floorUSD := verified.netUSD.Mul(e.config.Limits.ProfitFloorPct).Div(decimal.NewFromInt(100))
	minProfit, err := e.usdToAmount(ctx, floorUSD, tokenIn, decimalsIn)
	if err != nil {
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("profit floor conversion"))
	}

	record := domain.TradeRecord{
		OpportunityID: opp.ID,
		Timestamp:     now,
		Pair:          opp.Pair,
		BuyVenue:      opp.BuyPool.Venue,
		SellVenue:     opp.SellPool.Venue,
		Path:          decision.Path,
		Provider:      decision.Provider,
		TradeSizeUSD:  opp.TradeSizeUSD,
		ExpectedUSD:   verified.netUSD,
	}

	receipt, err := e.builder.ExecuteFlashloan(ctx, FlashloanRequest{
		TokenIn:      tokenIn.Hex(),
		TokenOut:     tokenOut.Hex(),
		BuyPool:      opp.BuyPool,
		SellPool:     opp.SellPool,
		AmountInWei:  amountIn.Raw(),
		MinProfitWei: minProfit.Raw(),
		Provider:     decision.Provider,
		GasLimit:     decision.GasLimit,
	})

	if err != nil || !receipt.Success {
		reason := "transaction reverted"
		if err != nil {
			reason = err.Error()
		} else if receipt.Error != "" {
			reason = receipt.Error
		}

		record.Success = false
		record.FailureReason = reason
		record.RealizedUSD = e.config.AssumedLossUSD.Neg()
		if receipt != nil {
			record.TxHash = receipt.TxHash
			record.GasUsed = receipt.GasUsed
		}

		tripped := e.state.RecordFailure(now, e.config.AssumedLossUSD, e.config.Limits.KillOnFailedTrades)
		e.metrics.failed.Add(ctx, 1)
		e.metrics.dailyPnl.Record(ctx, e.state.DailyPnlUSD.InexactFloat64())
		if tripped {
			e.metrics.killSwitch.Add(ctx, 1)
			e.logger.Error(ctx, "kill switch tripped",
				"consecutive_failures", e.state.ConsecutiveFailures)
		}

		e.logTrade(ctx, record)
		e.logger.Error(ctx, "trade failed",
			"opportunity", opp.ID, "reason", reason, "tx_hash", record.TxHash)

		return &record, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithContext(reason))
	}

	record.Success = true
	record.TxHash = receipt.TxHash
	record.GasUsed = receipt.GasUsed
	record.RealizedUSD = verified.netUSD

	e.state.RecordSuccess(now, verified.netUSD)
	e.metrics.executed.Add(ctx, 1)
	e.metrics.dailyPnl.Record(ctx, e.state.DailyPnlUSD.InexactFloat64())

	e.logTrade(ctx, record)
	e.logger.Info(ctx, "trade executed",
		"opportunity", opp.ID,
		"tx_hash", receipt.TxHash,
		"gas_used", receipt.GasUsed,
		"amount_in", amountIn.String(),
		"expected_usd", verified.netUSD.StringFixed(2),
	)

	return &record, nil
}

func (e *Executor) logTrade(ctx context.Context, record domain.TradeRecord) {
	if e.tradeLog == nil {
		return
	}
	if err := e.tradeLog.Record(ctx, record); err != nil {
		e.logger.Warn(ctx, "trade log write failed", "error", err)
	}
}

// usdToAmount converts a USD figure into token units at the oracle
// price, truncated to the token's precision.
func (e *Executor) usdToAmount(ctx context.Context, usd decimal.Decimal, token common.Address, decimals uint8) (asset.Amount, error) {
	price, err := e.verifier.TokenUSD(ctx, token)
	if err != nil {
		return asset.Amount{}, err
	}
	if !price.IsPositive() {
		return asset.Amount{}, fmt.Errorf("non-positive USD price for %s", token.Hex())
	}

	tok := e.tokenAsset(token, decimals)
	units := usd.DivRound(price, 18).Truncate(int32(tok.Decimals()))
	return asset.ParseDecimal(tok, units)
}

// tokenAsset resolves a token through the asset registry, falling back
// to an unnamed asset for tokens the registry does not know.
func (e *Executor) tokenAsset(token common.Address, decimals uint8) *asset.Asset {
	if e.assets != nil {
		if known, ok := e.assets.GetToken(e.config.ChainID, token); ok {
			return known
		}
	}
	return asset.NewAsset(asset.NewTokenAssetID(e.config.ChainID, token), token.Hex(), decimals)
}

// Simulate runs fresh-quote verification for an opportunity without
// touching executor state or building any transaction. It returns the
// verified net profit, or the same rejection the real execution path
// would produce.
func (e *Executor) Simulate(ctx context.Context, opp *domain.Opportunity, decision domain.Decision) (decimal.Decimal, error) {
	ctx, span := e.tracer.Start(ctx, "arbitrage.simulate",
		trace.WithAttributes(attribute.String("opportunity", opp.ID)),
	)
	defer span.End()

	verified, err := e.verify(ctx, opp, decision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
		return decimal.Zero, err
	}

	span.SetStatus(codes.Ok, "viable")
	return verified.netUSD, nil
}

// Status returns a snapshot of the executor's bookkeeping.
func (e *Executor) Status() ExecutorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return ExecutorStatus{
		KillSwitchTripped:   e.state.KillSwitchTripped,
		ConsecutiveFailures: e.state.ConsecutiveFailures,
		DailyPnlUSD:         e.state.DailyPnlUSD,
		TradesExecuted:      e.state.TradesExecuted,
		TradesFailed:        e.state.TradesFailed,
		TradesLastHour:      e.state.TradesInLastHour(e.now()),
		LastTradeTime:       e.state.LastTradeTime,
	}
}

// Rollover resets the daily P&L. Wired to the midnight cron; the kill
// switch deliberately survives it.
func (e *Executor) Rollover(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info(ctx, "daily rollover",
		"closed_pnl_usd", e.state.DailyPnlUSD.StringFixed(2),
		"trades", e.state.TradesExecuted,
	)
	e.state.Rollover()
	e.metrics.dailyPnl.Record(ctx, 0)
}

// ResetKillSwitch clears the latch. Operator action only.
func (e *Executor) ResetKillSwitch(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.ResetKillSwitch()
	e.logger.Warn(ctx, "kill switch reset by operator")
}

// baseToken returns the pair's lexically-lower token: the asset whose
// normalized price the detector compared across venues, and therefore
// the asset a settlement buys cheap and sells dear.
func baseToken(info pricingDomain.PoolInfo) (common.Address, uint8) {
	if aligned(info) {
		return info.Token0, info.Decimals0
	}
	return info.Token1, info.Decimals1
}

// quoteToken returns the pair's other token: the asset a settlement
// borrows, spends on the buy venue and collects back on the sell venue.
// The bool reports whether spending it on this pool is token0 -> token1.
func quoteToken(info pricingDomain.PoolInfo) (common.Address, uint8, bool) {
	if aligned(info) {
		return info.Token1, info.Decimals1, false
	}
	return info.Token0, info.Decimals0, true
}
