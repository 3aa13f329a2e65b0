package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a derived price point for one pool: the instantaneous price
// plus a simulated swap output for a concrete input size. Pure and
// never mutated after creation.
type Quote struct {
	Venue     string
	Pool      PoolInfo
	Price     decimal.Decimal // token1 per token0
	AmountIn  *big.Int
	AmountOut *big.Int
	Timestamp time.Time
}

// NewQuote derives a Quote from live or cached pool state.
func NewQuote(state *PoolState, amountIn *big.Int, zeroForOne bool) (Quote, error) {
	price, err := state.Price()
	if err != nil {
		return Quote{}, err
	}

	out, err := state.SwapOutput(amountIn, zeroForOne)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Venue:     state.Info.Venue,
		Pool:      state.Info,
		Price:     price,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: out,
		Timestamp: time.Now(),
	}, nil
}
