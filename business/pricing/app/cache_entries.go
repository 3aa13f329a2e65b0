package app

import (
	"math/big"

	"github.com/fd1az/dex-arb-engine/business/pricing/domain"
)

// Bucket names inside the persistent cache store. Pair prices and TVL
// expire on different horizons.
const (
	BucketPairPrice = "pair_price"
	BucketTvl       = "tvl"
	BucketOracle    = "oracle"
)

// pairPriceEntry is the persisted form of one pool's live state.
// Big integers are serialized as decimal strings to survive JSON
// round-trips without precision loss.
type pairPriceEntry struct {
	Reserve0     string `json:"reserve0,omitempty"`
	Reserve1     string `json:"reserve1,omitempty"`
	SqrtPriceX96 string `json:"sqrt_price_x96,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
}

// tvlEntry is the persisted form of one pool's TVL.
type tvlEntry struct {
	TvlUSD string `json:"tvl_usd"`
}

func entryFromState(state *domain.PoolState) pairPriceEntry {
	e := pairPriceEntry{}
	if state.Reserve0 != nil {
		e.Reserve0 = state.Reserve0.String()
	}
	if state.Reserve1 != nil {
		e.Reserve1 = state.Reserve1.String()
	}
	if state.SqrtPriceX96 != nil {
		e.SqrtPriceX96 = state.SqrtPriceX96.String()
	}
	if state.Liquidity != nil {
		e.Liquidity = state.Liquidity.String()
	}
	return e
}

// toState rebuilds pool state from a cache entry. Returns false when
// the entry does not carry the fields the pool type needs, which
// happens when a registry entry changed type between runs.
func (e pairPriceEntry) toState(info domain.PoolInfo) (*domain.PoolState, bool) {
	state := &domain.PoolState{Info: info}

	switch info.Type {
	case domain.ConstantProduct:
		r0, ok0 := parseBig(e.Reserve0)
		r1, ok1 := parseBig(e.Reserve1)
		if !ok0 || !ok1 {
			return nil, false
		}
		state.Reserve0, state.Reserve1 = r0, r1
	case domain.ConcentratedLiquidity, domain.Algebra:
		sp, ok0 := parseBig(e.SqrtPriceX96)
		liq, ok1 := parseBig(e.Liquidity)
		if !ok0 || !ok1 {
			return nil, false
		}
		state.SqrtPriceX96, state.Liquidity = sp, liq
	default:
		return nil, false
	}

	return state, true
}

func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}
