package app

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
)

// TxBuilder is the transaction-building collaborator. One call per
// approved execution; a non-success result is a failed trade outcome
// and is never retried within the same cycle.
type TxBuilder interface {
	ExecuteFlashloan(ctx context.Context, req FlashloanRequest) (*ExecutionReceipt, error)
}

// FlashloanRequest carries everything the settlement contract needs
// for one two-hop arbitrage: borrow TokenIn, swap TokenIn -> TokenOut
// on the buy venue, sell TokenOut back for TokenIn on the sell venue
// and repay the loan from the proceeds.
type FlashloanRequest struct {
	TokenIn      string
	TokenOut     string
	BuyPool      pricingDomain.PoolInfo
	SellPool     pricingDomain.PoolInfo
	AmountInWei  *big.Int
	MinProfitWei *big.Int
	Provider     domain.FlashProvider
	GasLimit     uint64
}

// ExecutionReceipt is the outcome of one settlement attempt.
type ExecutionReceipt struct {
	Success bool
	TxHash  string
	GasUsed uint64
	Error   string
}

// TradeLog persists execution history and answers the daily P&L query
// backing the rollover.
type TradeLog interface {
	Record(ctx context.Context, trade domain.TradeRecord) error
	DailyPnl(ctx context.Context) (decimal.Decimal, error)
	RecentTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error)
	Close() error
}

// TvlProvider resolves pool TVL for the detector's liquidity filter.
type TvlProvider interface {
	PoolTVL(ctx context.Context, state *pricingDomain.PoolState) (decimal.Decimal, error)
}

// Reporter surfaces scan results to an operator.
type Reporter interface {
	ReportCycle(stats CycleStats)
	ReportOpportunity(opp *domain.Opportunity, decision domain.Decision)
	ReportExecution(trade domain.TradeRecord)
}
