package app

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
)

func routerOpportunity(grossUSD, feesUSD float64) *domain.Opportunity {
	buy := pricingDomain.PoolInfo{Venue: "alpha", Address: common.HexToAddress("0xa1")}
	sell := pricingDomain.PoolInfo{Venue: "bravo", Address: common.HexToAddress("0xb1")}

	return &domain.Opportunity{
		ID:           "test",
		BuyPool:      buy,
		SellPool:     sell,
		BuyPrice:     decimal.NewFromInt(2000),
		SellPrice:    decimal.NewFromInt(2020),
		TradeSizeUSD: decimal.NewFromInt(1000),
		GrossUSD:     decimal.NewFromFloat(grossUSD),
		FeesUSD:      decimal.NewFromFloat(feesUSD),
		Hops:         2,
	}
}

func routerTier(minProfit float64) domain.GasTier {
	return domain.GasTier{
		Name:         "cheap",
		MaxHops:      4,
		MinProfitUSD: decimal.NewFromFloat(minProfit),
		HopCostUSD:   decimal.RequireFromString("0.05"),
	}
}

func defaultRouter() *Router {
	return NewRouter(RouterConfig{
		HasWalletCapital: true,
		UseFlashLoans:    true,
		GasPerHop:        150_000,
	})
}

func TestRoute_PrefersZeroFeeProvider(t *testing.T) {
	r := defaultRouter()
	d := r.Route(routerOpportunity(10, 6), routerTier(1))

	if d.Path != domain.PathFlashLoan {
		t.Fatalf("expected flash loan, got %s (%s)", d.Path, d.Reason)
	}
	if d.Provider != domain.ProviderBalancer {
		t.Errorf("expected the zero-fee provider first, got %s", d.Provider)
	}
	if !d.EstimatedNetUSD.IsPositive() {
		t.Errorf("expected positive estimated net, got %s", d.EstimatedNetUSD)
	}
}

func TestRoute_TightFloorStillPicksZeroFeePath(t *testing.T) {
	// At a $3.50 floor only the zero-fee path clears: its net is
	// ~$3.87 while the 9 bps provider loses $0.90 in fees plus extra
	// gas and lands below the floor.
	r := defaultRouter()

	d := r.Route(routerOpportunity(10, 6), routerTier(3.5))
	if d.Provider != domain.ProviderBalancer {
		t.Fatalf("expected the zero-fee provider, got %s (%s)", d.Provider, d.Reason)
	}
}

func TestRoute_DirectSwapWhenFlashLoansDisabled(t *testing.T) {
	r := NewRouter(RouterConfig{
		HasWalletCapital: true,
		UseFlashLoans:    false,
		GasPerHop:        150_000,
	})

	d := r.Route(routerOpportunity(10, 6), routerTier(1))
	if d.Path != domain.PathDirectSwap {
		t.Fatalf("expected direct swap, got %s (%s)", d.Path, d.Reason)
	}
	if d.Provider != domain.ProviderNone {
		t.Errorf("direct swap must not name a provider, got %s", d.Provider)
	}
}

func TestRoute_SkipWithoutCapitalOrLoans(t *testing.T) {
	r := NewRouter(RouterConfig{HasWalletCapital: false, UseFlashLoans: false})

	d := r.Route(routerOpportunity(10, 6), routerTier(1))
	if d.Path != domain.PathSkip {
		t.Fatalf("expected skip, got %s", d.Path)
	}
	if d.Reason != "insufficient margin" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
}

func TestRoute_SkipOnThinMargin(t *testing.T) {
	r := defaultRouter()

	d := r.Route(routerOpportunity(6.5, 6), routerTier(1))
	if d.Path != domain.PathSkip {
		t.Fatalf("expected skip on thin margin, got %s via %s", d.Path, d.Provider)
	}
}

func TestRoute_SkipsMultiHop(t *testing.T) {
	r := defaultRouter()

	opp := routerOpportunity(100, 6)
	opp.Hops = 3

	d := r.Route(opp, routerTier(1))
	if d.Path != domain.PathSkip {
		t.Fatalf("expected skip for 3 hops, got %s", d.Path)
	}
	if d.Reason != "unsupported hop count" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	r := defaultRouter()
	opp := routerOpportunity(10, 6)
	tier := routerTier(1)

	first := r.Route(opp, tier)
	for i := 0; i < 50; i++ {
		got := r.Route(opp, tier)
		same := got.Path == first.Path &&
			got.Provider == first.Provider &&
			got.Reason == first.Reason &&
			got.GasLimit == first.GasLimit &&
			got.EstimatedGasUSD.Equal(first.EstimatedGasUSD) &&
			got.EstimatedNetUSD.Equal(first.EstimatedNetUSD)
		if !same {
			t.Fatalf("route diverged on iteration %d: %+v vs %+v", i, got, first)
		}
	}
}
