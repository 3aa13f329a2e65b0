package app

import (
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
)

// Flash-loan provider fees in basis points and per-path gas budgets,
// matching the settlement contract's call paths.
const (
	balancerFeeBps = 0
	aaveFeeBps     = 9

	balancerGasLimit = 400_000
	aaveGasLimit     = 450_000
	directGasLimit   = 250_000
)

// RouterConfig holds the wallet-capital flag and the per-hop gas
// figure the tier's hop cost was derived from.
type RouterConfig struct {
	HasWalletCapital bool
	UseFlashLoans    bool
	GasPerHop        uint64
}

// Router picks the settlement path for one opportunity. It is a pure
// decision function of its inputs: no state is read or written, which
// is what makes it exhaustively testable.
type Router struct {
	config RouterConfig
}

// NewRouter creates an execution router.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{config: cfg}
}

// pathOption is one candidate settlement path with its cost model.
type pathOption struct {
	path     domain.Path
	provider domain.FlashProvider
	feeBps   int64
	gasLimit uint64
	enabled  bool
}

// Route decides the settlement path. Paths are tried in fixed priority
// order: the zero-fee flash-loan provider, the fee-bearing one, then a
// wallet-funded direct swap. A flash loan needs no idle capital, so it
// wins whenever viable. The first path whose net profit clears the
// tier floor is chosen.
//
// Paths of three or more hops are always skipped: the settlement
// contract is two-hop-only, and the multi-hop arithmetic is
// deliberately not implemented rather than silently wrong.
func (r *Router) Route(opp *domain.Opportunity, tier domain.GasTier) domain.Decision {
	if opp.Hops >= 3 {
		return domain.Skip("unsupported hop count")
	}

	options := []pathOption{
		{
			path:     domain.PathFlashLoan,
			provider: domain.ProviderBalancer,
			feeBps:   balancerFeeBps,
			gasLimit: balancerGasLimit,
			enabled:  r.config.UseFlashLoans,
		},
		{
			path:     domain.PathFlashLoan,
			provider: domain.ProviderAave,
			feeBps:   aaveFeeBps,
			gasLimit: aaveGasLimit,
			enabled:  r.config.UseFlashLoans,
		},
		{
			path:     domain.PathDirectSwap,
			provider: domain.ProviderNone,
			feeBps:   0,
			gasLimit: directGasLimit,
			enabled:  r.config.HasWalletCapital,
		},
	}

	for _, opt := range options {
		if !opt.enabled {
			continue
		}

		providerFee := opp.TradeSizeUSD.
			Mul(decimal.NewFromInt(opt.feeBps)).
			Div(decimal.NewFromInt(10000))

		// The opportunity's gas estimate is per-hop based; replace it
		// with this path's own budget.
		gasUSD := pathGasUSD(opt.gasLimit, r.config.GasPerHop, tier.HopCostUSD)
		net := opp.GrossUSD.Sub(opp.FeesUSD).Sub(providerFee).Sub(gasUSD)

		if net.GreaterThanOrEqual(tier.MinProfitUSD) {
			return domain.Decision{
				Path:            opt.path,
				Provider:        opt.provider,
				Reason:          "first viable path in priority order",
				EstimatedGasUSD: gasUSD,
				EstimatedNetUSD: net,
				GasLimit:        opt.gasLimit,
			}
		}
	}

	return domain.Skip("insufficient margin")
}

// pathGasUSD scales the tier's per-hop USD cost to the path's total
// gas budget.
func pathGasUSD(gasLimit, gasPerHop uint64, hopCostUSD decimal.Decimal) decimal.Decimal {
	if gasPerHop == 0 {
		return hopCostUSD
	}
	return hopCostUSD.
		Mul(decimal.NewFromInt(int64(gasLimit))).
		Div(decimal.NewFromInt(int64(gasPerHop)))
}
