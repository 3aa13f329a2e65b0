package app

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

type staticTvl struct {
	tvl map[string]decimal.Decimal
}

func (s staticTvl) PoolTVL(_ context.Context, state *pricingDomain.PoolState) (decimal.Decimal, error) {
	if v, ok := s.tvl[state.Info.Key()]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

func usdcWethPool(venue string, usdc, weth int64, feeBps uint32) *pricingDomain.PoolState {
	return &pricingDomain.PoolState{
		Info: pricingDomain.PoolInfo{
			Venue:     venue,
			PairLabel: "USDC/WETH",
			Address:   common.HexToAddress("0x" + venue[:1] + "1"),
			Token0:    common.HexToAddress("0x1000000000000000000000000000000000000001"), // USDC, lower address
			Token1:    common.HexToAddress("0x2000000000000000000000000000000000000002"), // WETH
			Type:      pricingDomain.ConstantProduct,
			FeeBps:    feeBps,
			Decimals0: 6,
			Decimals1: 18,
		},
		Reserve0: new(big.Int).Mul(big.NewInt(usdc), big.NewInt(1e6)),
		Reserve1: new(big.Int).Mul(big.NewInt(weth), big.NewInt(1e18)),
	}
}

func freeTier() domain.GasTier {
	return domain.GasTier{
		Name:          "cheap",
		MaxHops:       4,
		MinProfitUSD:  decimal.NewFromInt(1),
		TradeSizesUSD: []decimal.Decimal{decimal.NewFromInt(1000)},
		MinPoolTVLUSD: decimal.NewFromInt(10_000),
		HopCostUSD:    decimal.RequireFromString("0.01"),
	}
}

func newTestDetector(t *testing.T, tvl TvlProvider) *Detector {
	t.Helper()
	d, err := NewDetector(tvl, logger.NewDiscard())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// Two constant-product pools priced apart by roughly 1%: pool A gives
// 2000 USDC/WETH, pool B gives ~2020. Buying WETH on A and selling on
// B must clear 30 bps fees per side at a $1000 size, and must not
// clear 200 bps per side.
func TestFindOpportunities_TwoVenueScenario(t *testing.T) {
	detector := newTestDetector(t, staticTvl{})

	states := map[string][]*pricingDomain.PoolState{
		"pair": {
			usdcWethPool("alpha", 1_000_000, 500, 30),
			usdcWethPool("bravo", 2_000_000, 990, 30),
		},
	}

	opps := detector.FindOpportunities(context.Background(), states, freeTier())
	if len(opps) == 0 {
		t.Fatal("expected an opportunity at 30 bps fees")
	}

	best := opps[0]
	if best.BuyPool.Venue != "bravo" || best.SellPool.Venue != "alpha" {
		t.Errorf("expected buy on bravo (cheaper WETH) sell on alpha, got buy %s sell %s",
			best.BuyPool.Venue, best.SellPool.Venue)
	}
	if !best.NetUSD.IsPositive() {
		t.Errorf("expected positive net profit, got %s", best.NetUSD)
	}
	if !best.SellPrice.GreaterThan(best.BuyPrice) {
		t.Error("sell price must exceed buy price")
	}

	// Same pools at 200 bps per side: the ~1% spread cannot cover 4%
	// of fees.
	states = map[string][]*pricingDomain.PoolState{
		"pair": {
			usdcWethPool("alpha", 1_000_000, 500, 200),
			usdcWethPool("bravo", 2_000_000, 990, 200),
		},
	}
	opps = detector.FindOpportunities(context.Background(), states, freeTier())
	if len(opps) != 0 {
		t.Errorf("expected no opportunity at 200 bps fees, got %d", len(opps))
	}
}

func TestFindOpportunities_Invariants(t *testing.T) {
	detector := newTestDetector(t, staticTvl{})
	tier := freeTier()
	tier.TradeSizesUSD = []decimal.Decimal{
		decimal.NewFromInt(100), decimal.NewFromInt(1000), decimal.NewFromInt(5000),
	}

	states := map[string][]*pricingDomain.PoolState{
		"pair": {
			usdcWethPool("alpha", 1_000_000, 500, 30),
			usdcWethPool("bravo", 2_000_000, 990, 30),
			usdcWethPool("carol", 3_000_000, 1490, 30),
		},
	}

	opps := detector.FindOpportunities(context.Background(), states, tier)
	prev := decimal.NewFromInt(1 << 40)
	for _, opp := range opps {
		if !opp.SellPrice.GreaterThan(opp.BuyPrice) {
			t.Errorf("opportunity %s: sell %s <= buy %s", opp.ID, opp.SellPrice, opp.BuyPrice)
		}
		if opp.NetUSD.LessThan(tier.MinProfitUSD) {
			t.Errorf("opportunity %s: net %s below tier floor %s", opp.ID, opp.NetUSD, tier.MinProfitUSD)
		}
		if opp.NetUSD.GreaterThan(prev) {
			t.Error("opportunities not sorted by net profit descending")
		}
		prev = opp.NetUSD
	}
}

func TestFindOpportunities_SingleVenueSkipped(t *testing.T) {
	detector := newTestDetector(t, staticTvl{})

	states := map[string][]*pricingDomain.PoolState{
		"pair": {usdcWethPool("alpha", 1_000_000, 500, 30)},
	}

	if opps := detector.FindOpportunities(context.Background(), states, freeTier()); len(opps) != 0 {
		t.Errorf("expected no opportunities from a single venue, got %d", len(opps))
	}
}

func TestFindOpportunities_TvlFilter(t *testing.T) {
	buyPool := usdcWethPool("alpha", 1_000_000, 500, 30)
	sellPool := usdcWethPool("bravo", 2_000_000, 990, 30)

	tvl := staticTvl{tvl: map[string]decimal.Decimal{
		buyPool.Info.Key():  decimal.NewFromInt(500), // far below the tier floor
		sellPool.Info.Key(): decimal.NewFromInt(4_000_000),
	}}
	detector := newTestDetector(t, tvl)

	states := map[string][]*pricingDomain.PoolState{
		"pair": {buyPool, sellPool},
	}

	if opps := detector.FindOpportunities(context.Background(), states, freeTier()); len(opps) != 0 {
		t.Errorf("expected TVL filter to reject the pair, got %d opportunities", len(opps))
	}
}

func TestFindOpportunities_ZeroLiquiditySkipped(t *testing.T) {
	detector := newTestDetector(t, staticTvl{})

	empty := usdcWethPool("alpha", 0, 0, 30)
	full := usdcWethPool("bravo", 2_000_000, 990, 30)

	states := map[string][]*pricingDomain.PoolState{
		"pair": {empty, full},
	}

	if opps := detector.FindOpportunities(context.Background(), states, freeTier()); len(opps) != 0 {
		t.Errorf("expected empty pool to be excluded, got %d opportunities", len(opps))
	}
}
