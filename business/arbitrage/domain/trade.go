package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one execution attempt as persisted in the trade log.
type TradeRecord struct {
	ID            int64
	OpportunityID string
	Timestamp     time.Time
	Pair          string
	BuyVenue      string
	SellVenue     string
	Path          Path
	Provider      FlashProvider
	TradeSizeUSD  decimal.Decimal
	ExpectedUSD   decimal.Decimal
	RealizedUSD   decimal.Decimal // negative for the assumed loss of a revert
	TxHash        string
	GasUsed       uint64
	Success       bool
	FailureReason string
}
