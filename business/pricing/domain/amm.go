package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/internal/apperror"
)

// Scale is the basis-point denominator used by the constant-product
// swap math. Fees are expressed in basis points of this scale.
const Scale = 10000

var (
	scaleBig = big.NewInt(Scale)
	q96      = new(big.Int).Lsh(big.NewInt(1), 96)
	q192     = new(big.Int).Lsh(big.NewInt(1), 192)
)

// V2Price returns reserve1/reserve0 adjusted for token decimals: the
// price of token0 denominated in token1.
func V2Price(reserve0, reserve1 *big.Int, decimals0, decimals1 uint8) (decimal.Decimal, error) {
	if reserve0 == nil || reserve1 == nil || reserve0.Sign() <= 0 || reserve1.Sign() <= 0 {
		return decimal.Zero, apperror.New(apperror.CodeZeroLiquidity,
			apperror.WithContext("constant-product price needs positive reserves"))
	}

	r0 := decimal.NewFromBigInt(reserve0, -int32(decimals0))
	r1 := decimal.NewFromBigInt(reserve1, -int32(decimals1))
	return r1.DivRound(r0, 18), nil
}

// V2SwapOutput computes the exact constant-product swap output:
//
//	out = floor(in_with_fee * reserveOut / (reserveIn*Scale + in_with_fee))
//	in_with_fee = amountIn * (Scale - feeBps)
//
// All arithmetic is integer. Floating point never touches quantities
// that must match the contract's own math.
func V2SwapOutput(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, error) {
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, apperror.New(apperror.CodeZeroLiquidity,
			apperror.WithContext("swap against empty reserves"))
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, apperror.New(apperror.CodePriceCalculationFailed,
			apperror.WithContext("negative or nil amount in"))
	}
	if uint64(feeBps) >= Scale {
		return nil, apperror.New(apperror.CodePriceCalculationFailed,
			apperror.WithContext("fee must be below 100%"))
	}

	if amountIn.Sign() == 0 {
		return big.NewInt(0), nil
	}

	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(Scale-feeBps)))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, scaleBig)
	denominator.Add(denominator, inWithFee)

	return numerator.Div(numerator, denominator), nil
}

// SqrtPriceX96ToPrice decodes a Q64.96 square-root price into the price
// of token0 in token1 units, adjusted for decimals:
//
//	price = (sqrtPriceX96 / 2^96)^2 * 10^(decimals0-decimals1)
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) (decimal.Decimal, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, apperror.New(apperror.CodeZeroLiquidity,
			apperror.WithContext("sqrt price must be positive"))
	}

	squared := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	numerator := decimal.NewFromBigInt(squared, 0).Shift(int32(decimals0) - int32(decimals1))
	return numerator.DivRound(decimal.NewFromBigInt(q192, 0), 18), nil
}

// VirtualReserves converts concentrated-liquidity state into the
// equivalent constant-product reserves at the current price:
//
//	x = L * 2^96 / sqrtP   (token0)
//	y = L * sqrtP / 2^96   (token1)
//
// Valid only while the price stays inside the current tick range, which
// is why output computed from these is a filter, not an execution quote.
func VirtualReserves(sqrtPriceX96, liquidity *big.Int) (x, y *big.Int, err error) {
	if sqrtPriceX96 == nil || liquidity == nil || sqrtPriceX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return nil, nil, apperror.New(apperror.CodeZeroLiquidity,
			apperror.WithContext("virtual reserves need positive sqrt price and liquidity"))
	}

	x = new(big.Int).Mul(liquidity, q96)
	x.Div(x, sqrtPriceX96)

	y = new(big.Int).Mul(liquidity, sqrtPriceX96)
	y.Div(y, q96)

	return x, y, nil
}
