// Package domain contains the core domain types for the blockchain context.
package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// GasPrice represents a network gas price observation.
type GasPrice struct {
	Wei       *big.Int
	Timestamp time.Time
}

// NewGasPrice creates a GasPrice from wei.
func NewGasPrice(wei *big.Int) *GasPrice {
	return &GasPrice{
		Wei:       new(big.Int).Set(wei),
		Timestamp: time.Now(),
	}
}

// GasPriceFromGwei creates a GasPrice from a gwei value.
func GasPriceFromGwei(gwei int64) *GasPrice {
	wei := new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1e9))
	return NewGasPrice(wei)
}

// Gwei returns the price in gwei, for display and tier mapping.
func (g *GasPrice) Gwei() float64 {
	f := new(big.Float).SetInt(g.Wei)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

// GasEstimate represents the estimated gas cost of an operation.
type GasEstimate struct {
	GasLimit uint64
	Price    *GasPrice
}

// NewGasEstimate creates a GasEstimate.
func NewGasEstimate(gasLimit uint64, price *GasPrice) *GasEstimate {
	return &GasEstimate{GasLimit: gasLimit, Price: price}
}

// TotalWei returns gasLimit * gasPrice.
func (e *GasEstimate) TotalWei() *big.Int {
	return new(big.Int).Mul(e.Price.Wei, new(big.Int).SetUint64(e.GasLimit))
}

// CostNative returns the cost in the chain's native token.
func (e *GasEstimate) CostNative() decimal.Decimal {
	return decimal.NewFromBigInt(e.TotalWei(), -18)
}

// CostUSD converts the cost to USD given the native token price.
// USD values are display and threshold quantities, so decimal is fine
// here; on-chain quantities stay in big.Int.
func (e *GasEstimate) CostUSD(nativeUSD decimal.Decimal) decimal.Decimal {
	return e.CostNative().Mul(nativeUSD)
}
