package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Limits are the hard safety bounds the executor enforces before any
// transaction leaves the process. All values come from configuration.
type Limits struct {
	MaxTradeSizeUSD    decimal.Decimal
	MinProfitUSD       decimal.Decimal
	MaxSlippagePct     decimal.Decimal
	MaxGasCostPct      decimal.Decimal // gas cost as a share of gross profit
	MaxTradesPerHour   int
	MaxDailyLossUSD    decimal.Decimal
	Cooldown           time.Duration
	KillOnFailedTrades int
	ProfitDriftPct     decimal.Decimal
	ProfitFloorPct     decimal.Decimal // share of verified profit enforced on-chain
}

// ExecutorState is the process-wide mutable executor bookkeeping. Not
// safe for concurrent use; the executor serializes access behind its
// own mutex.
type ExecutorState struct {
	LastTradeTime       time.Time
	ConsecutiveFailures int
	DailyPnlUSD         decimal.Decimal
	KillSwitchTripped   bool
	TradesExecuted      int
	TradesFailed        int

	tradeTimes []time.Time
}

// NewExecutorState returns zeroed executor state.
func NewExecutorState() *ExecutorState {
	return &ExecutorState{DailyPnlUSD: decimal.Zero}
}

// RecordSuccess resets the failure streak and books realized profit.
func (s *ExecutorState) RecordSuccess(now time.Time, pnlUSD decimal.Decimal) {
	s.ConsecutiveFailures = 0
	s.DailyPnlUSD = s.DailyPnlUSD.Add(pnlUSD)
	s.TradesExecuted++
	s.markTrade(now)
}

// RecordFailure books the assumed loss of a reverted transaction and,
// when the streak reaches the limit, trips the kill switch. Returns
// true when the switch tripped on this call.
func (s *ExecutorState) RecordFailure(now time.Time, assumedLossUSD decimal.Decimal, killAfter int) bool {
	s.ConsecutiveFailures++
	s.DailyPnlUSD = s.DailyPnlUSD.Sub(assumedLossUSD)
	s.TradesFailed++
	s.markTrade(now)

	if killAfter > 0 && s.ConsecutiveFailures >= killAfter && !s.KillSwitchTripped {
		s.KillSwitchTripped = true
		return true
	}
	return false
}

// TradesInLastHour counts trades in the trailing hour, pruning older
// timestamps as a side effect.
func (s *ExecutorState) TradesInLastHour(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	kept := s.tradeTimes[:0]
	for _, t := range s.tradeTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.tradeTimes = kept
	return len(kept)
}

// Rollover resets the daily P&L at the day boundary. The kill switch
// and failure streak survive rollover: a broken bot does not become
// trustworthy at midnight.
func (s *ExecutorState) Rollover() {
	s.DailyPnlUSD = decimal.Zero
}

// ResetKillSwitch clears the latch. Only an explicit operator action
// calls this.
func (s *ExecutorState) ResetKillSwitch() {
	s.KillSwitchTripped = false
	s.ConsecutiveFailures = 0
}

func (s *ExecutorState) markTrade(now time.Time) {
	s.LastTradeTime = now
	s.tradeTimes = append(s.tradeTimes, now)
}
