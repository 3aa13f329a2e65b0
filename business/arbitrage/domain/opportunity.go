// Package domain contains the core domain types for the arbitrage
// context: opportunities, gas tiers, routing decisions and executor
// state.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
)

// Opportunity is one detected cross-venue price divergence, priced for
// a concrete trade size. Immutable once constructed and re-derived
// fresh every scan; it is never authoritative across cycles.
type Opportunity struct {
	ID           string
	Pair         string
	BuyPool      pricingDomain.PoolInfo
	SellPool     pricingDomain.PoolInfo
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	TradeSizeUSD decimal.Decimal
	GrossUSD     decimal.Decimal
	FeesUSD      decimal.Decimal // venue swap fees + flash-loan provider fee
	GasCostUSD   decimal.Decimal
	NetUSD       decimal.Decimal
	RoiPct       decimal.Decimal
	Hops         int
	DiscoveredAt time.Time
}

// NewOpportunity builds an opportunity and enforces its invariants:
// the sell price must exceed the buy price and net profit must be
// non-negative. Anything else never reaches the router.
func NewOpportunity(
	buy, sell pricingDomain.PoolInfo,
	buyPrice, sellPrice decimal.Decimal,
	tradeSizeUSD, grossUSD, feesUSD, gasCostUSD decimal.Decimal,
) (*Opportunity, error) {
	if !sellPrice.GreaterThan(buyPrice) {
		return nil, fmt.Errorf("sell price %s not above buy price %s", sellPrice, buyPrice)
	}

	net := grossUSD.Sub(feesUSD).Sub(gasCostUSD)
	if net.IsNegative() {
		return nil, fmt.Errorf("net profit %s is negative", net)
	}

	roi := decimal.Zero
	if tradeSizeUSD.IsPositive() {
		roi = net.Div(tradeSizeUSD).Mul(decimal.NewFromInt(100))
	}

	now := time.Now()
	return &Opportunity{
		ID: fmt.Sprintf("%s-%s-%s-%d",
			buy.Venue, sell.Venue, tradeSizeUSD.StringFixed(0), now.UnixNano()),
		Pair:         buy.PairKey(),
		BuyPool:      buy,
		SellPool:     sell,
		BuyPrice:     buyPrice,
		SellPrice:    sellPrice,
		TradeSizeUSD: tradeSizeUSD,
		GrossUSD:     grossUSD,
		FeesUSD:      feesUSD,
		GasCostUSD:   gasCostUSD,
		NetUSD:       net,
		RoiPct:       roi,
		Hops:         2,
		DiscoveredAt: now,
	}, nil
}

// SpreadBps returns the raw buy/sell divergence in basis points.
func (o *Opportunity) SpreadBps() decimal.Decimal {
	if o.BuyPrice.IsZero() {
		return decimal.Zero
	}
	return o.SellPrice.Sub(o.BuyPrice).Div(o.BuyPrice).Mul(decimal.NewFromInt(10000))
}
