// Package domain contains the core domain types for the pricing
// context: normalized pool state and the AMM math that prices it.
package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/internal/apperror"
)

// PoolType tags the AMM style of a pool. The set is closed: pricing
// switches over it exhaustively.
type PoolType string

const (
	ConstantProduct       PoolType = "v2"
	ConcentratedLiquidity PoolType = "v3"
	Algebra               PoolType = "v3_algebra"
)

// ParsePoolType maps a registry type string to a PoolType.
func ParsePoolType(s string) (PoolType, error) {
	switch strings.ToLower(s) {
	case "v2":
		return ConstantProduct, nil
	case "v3":
		return ConcentratedLiquidity, nil
	case "v3_algebra", "algebra":
		return Algebra, nil
	default:
		return "", fmt.Errorf("unknown pool type %q", s)
	}
}

// PoolInfo is the static registry view of one pool: where it lives and
// what it trades. Read-only input to the fetch stage.
type PoolInfo struct {
	Venue     string
	PairLabel string
	Address   common.Address
	Token0    common.Address
	Token1    common.Address
	Type      PoolType
	FeeBps    uint32
	Decimals0 uint8
	Decimals1 uint8
}

// Key returns the cache key for this pool, "{venue}:{pool_address}".
func (i PoolInfo) Key() string {
	return strings.ToLower(i.Venue + ":" + i.Address.Hex())
}

// PairKey returns the unordered token pair key. Pools trading the same
// two tokens group together regardless of token0/token1 ordering.
func (i PoolInfo) PairKey() string {
	a := strings.ToLower(i.Token0.Hex())
	b := strings.ToLower(i.Token1.Hex())
	if a > b {
		a, b = b, a
	}
	return a + "/" + b
}

// PoolState is the normalized live view of one pool. It is derived, not
// owned: rebuilt from cache or a live call each cycle. Exactly one of
// the reserve fields or the sqrt-price/liquidity fields is meaningful,
// selected by Type.
type PoolState struct {
	Info PoolInfo

	// ConstantProduct
	Reserve0 *big.Int
	Reserve1 *big.Int

	// ConcentratedLiquidity / Algebra
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
}

// HasLiquidity reports whether the pool can be priced at all. A pool
// with zero reserves or zero liquidity is never used for pricing.
func (s *PoolState) HasLiquidity() bool {
	switch s.Info.Type {
	case ConstantProduct:
		return s.Reserve0 != nil && s.Reserve1 != nil &&
			s.Reserve0.Sign() > 0 && s.Reserve1.Sign() > 0
	case ConcentratedLiquidity, Algebra:
		return s.SqrtPriceX96 != nil && s.Liquidity != nil &&
			s.SqrtPriceX96.Sign() > 0 && s.Liquidity.Sign() > 0
	}
	return false
}

// Price returns the instantaneous price of token0 in token1 units,
// adjusted for decimals. Zero-liquidity pools are rejected explicitly
// rather than propagating Inf or NaN.
func (s *PoolState) Price() (decimal.Decimal, error) {
	if !s.HasLiquidity() {
		return decimal.Zero, apperror.New(apperror.CodeZeroLiquidity,
			apperror.WithContext(s.Info.Key()))
	}

	switch s.Info.Type {
	case ConstantProduct:
		return V2Price(s.Reserve0, s.Reserve1, s.Info.Decimals0, s.Info.Decimals1)
	case ConcentratedLiquidity, Algebra:
		return SqrtPriceX96ToPrice(s.SqrtPriceX96, s.Info.Decimals0, s.Info.Decimals1)
	}
	return decimal.Zero, apperror.New(apperror.CodePriceCalculationFailed,
		apperror.WithContext(fmt.Sprintf("unhandled pool type %s", s.Info.Type)))
}

// SwapOutput simulates a swap of amountIn through the pool and returns
// the output amount in the other token's raw units. zeroForOne selects
// the direction (token0 in, token1 out when true).
//
// For concentrated-liquidity pools this uses the constant-liquidity
// virtual-reserve approximation: good enough for opportunity filtering,
// not exact across tick boundaries. Anything selected for execution is
// re-quoted through the venue's own quoting call first.
func (s *PoolState) SwapOutput(amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if !s.HasLiquidity() {
		return nil, apperror.New(apperror.CodeZeroLiquidity,
			apperror.WithContext(s.Info.Key()))
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, apperror.New(apperror.CodePriceCalculationFailed,
			apperror.WithContext("negative or nil amount in"))
	}

	var reserveIn, reserveOut *big.Int

	switch s.Info.Type {
	case ConstantProduct:
		reserveIn, reserveOut = s.Reserve0, s.Reserve1
	case ConcentratedLiquidity, Algebra:
		x, y, err := VirtualReserves(s.SqrtPriceX96, s.Liquidity)
		if err != nil {
			return nil, err
		}
		reserveIn, reserveOut = x, y
	default:
		return nil, apperror.New(apperror.CodePriceCalculationFailed,
			apperror.WithContext(fmt.Sprintf("unhandled pool type %s", s.Info.Type)))
	}

	if !zeroForOne {
		reserveIn, reserveOut = reserveOut, reserveIn
	}

	return V2SwapOutput(amountIn, reserveIn, reserveOut, s.Info.FeeBps)
}
