// Package app contains the application services of the arbitrage
// context: detector, gas tuner, execution router, auto-executor and
// the scan engine facade.
package app

import (
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	blockchainDomain "github.com/fd1az/dex-arb-engine/business/blockchain/domain"
	"github.com/fd1az/dex-arb-engine/internal/config"
)

const (
	tracerName = "arbitrage.app"
	meterName  = "arbitrage.app"
)

// GasTuner maps the current network gas price onto a search tier. As
// gas rises the tiers get strictly more conservative: fewer hops,
// higher profit floors, deeper TVL requirements.
type GasTuner struct {
	config config.GasTunerConfig
}

// NewGasTuner creates a tuner from the validated tier table.
func NewGasTuner(cfg config.GasTunerConfig) *GasTuner {
	return &GasTuner{config: cfg}
}

// gasPerHop returns the gas units one swap leg costs on the configured
// settlement path.
func (t *GasTuner) gasPerHop() uint64 {
	if t.config.UseFlashLoans {
		return t.config.GasPerHopFlash
	}
	return t.config.GasPerHopDirect
}

// HopCostUSD converts the current gas price into the USD cost of one
// swap leg.
func (t *GasTuner) HopCostUSD(price *blockchainDomain.GasPrice, nativeUSD decimal.Decimal) decimal.Decimal {
	estimate := blockchainDomain.NewGasEstimate(t.gasPerHop(), price)
	return estimate.CostUSD(nativeUSD)
}

// ComputeTier selects the tier for the current per-hop gas cost. The
// tier table is ordered by ascending hop-cost bound; the last tier
// catches everything above the previous bound.
func (t *GasTuner) ComputeTier(price *blockchainDomain.GasPrice, nativeUSD decimal.Decimal) domain.GasTier {
	hopCost := t.HopCostUSD(price, nativeUSD)

	tiers := t.config.Tiers
	selected := tiers[len(tiers)-1]
	for _, tier := range tiers[:len(tiers)-1] {
		if hopCost.LessThanOrEqual(decimal.NewFromFloat(tier.MaxHopCostUSD)) {
			selected = tier
			break
		}
	}

	sizes := make([]decimal.Decimal, len(selected.TradeSizesUSD))
	for i, s := range selected.TradeSizesUSD {
		sizes[i] = decimal.NewFromFloat(s)
	}

	return domain.GasTier{
		Name:             selected.Name,
		MaxHops:          selected.MaxHops,
		MinProfitUSD:     decimal.NewFromFloat(selected.MinProfitUSD),
		TradeSizesUSD:    sizes,
		MinPoolTVLUSD:    decimal.NewFromFloat(selected.MinPoolTVLUSD),
		MaxPathsPerToken: selected.MaxPathsPerToken,
		HopCostUSD:       hopCost,
	}
}

// ShouldSearch is the cheap guard that skips a whole scan cycle when
// even the cheapest viable path (two hops) costs more gas than the
// caller will accept.
func (t *GasTuner) ShouldSearch(tier domain.GasTier, maxTwoHopGasUSD decimal.Decimal) bool {
	return tier.TwoHopGasUSD().LessThanOrEqual(maxTwoHopGasUSD)
}
