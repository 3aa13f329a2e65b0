package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/fd1az/dex-arb-engine/business/pricing/domain"
)

// PoolReader fetches live on-chain state for one pool.
type PoolReader interface {
	ReadState(ctx context.Context, info domain.PoolInfo) (*domain.PoolState, error)
}

// ExecutionQuoter produces execution-grade output amounts from live
// chain state, bypassing every cache.
type ExecutionQuoter interface {
	QuoteOutput(ctx context.Context, info domain.PoolInfo, amountIn *big.Int, zeroForOne bool) (*big.Int, error)
}

// UsdOracle resolves USD prices for sizing and reporting.
type UsdOracle interface {
	NativeUSD(ctx context.Context) (decimal.Decimal, error)
	TokenUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}
