package domain

import (
	"github.com/shopspring/decimal"
)

// GasTier is the search parameter set selected for the current gas
// price. Recomputed every scan cycle and never persisted.
type GasTier struct {
	Name             string
	MaxHops          int
	MinProfitUSD     decimal.Decimal
	TradeSizesUSD    []decimal.Decimal
	MinPoolTVLUSD    decimal.Decimal
	MaxPathsPerToken int
	HopCostUSD       decimal.Decimal // gas cost of one swap leg at current prices
}

// TwoHopGasUSD returns the gas cost of the cheapest viable path, which
// is always two hops.
func (t GasTier) TwoHopGasUSD() decimal.Decimal {
	return t.HopCostUSD.Mul(decimal.NewFromInt(2))
}
