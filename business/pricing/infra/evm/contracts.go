// Package evm reads on-chain pool state and execution quotes through
// the shared RPC endpoint pool.
package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	tracerName = "pricing.evm"
	meterName  = "pricing.evm"
)

// pairABI covers the constant-product pair surface the reader needs.
const pairABIJSON = `[
  {"name":"getReserves","type":"function","stateMutability":"view","inputs":[],
   "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
  {"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// v3PoolABI covers the concentrated-liquidity pool surface.
const v3PoolABIJSON = `[
  {"name":"slot0","type":"function","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"sqrtPriceX96","type":"uint160"},
     {"name":"tick","type":"int24"},
     {"name":"observationIndex","type":"uint16"},
     {"name":"observationCardinality","type":"uint16"},
     {"name":"observationCardinalityNext","type":"uint16"},
     {"name":"feeProtocol","type":"uint8"},
     {"name":"unlocked","type":"bool"}]},
  {"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
  {"name":"fee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint24"}]}
]`

// algebraPoolABI covers Algebra-style pools, which expose globalState
// instead of slot0 and carry a dynamic fee.
const algebraPoolABIJSON = `[
  {"name":"globalState","type":"function","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"price","type":"uint160"},
     {"name":"tick","type":"int24"},
     {"name":"fee","type":"uint16"},
     {"name":"timepointIndex","type":"uint16"},
     {"name":"communityFeeToken0","type":"uint8"},
     {"name":"communityFeeToken1","type":"uint8"},
     {"name":"unlocked","type":"bool"}]},
  {"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]}
]`

// quoterV2ABI is the QuoterV2 quoteExactInputSingle surface used to
// re-verify concentrated-liquidity legs before execution.
const quoterV2ABIJSON = `[
  {"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"params","type":"tuple","components":[
     {"name":"tokenIn","type":"address"},
     {"name":"tokenOut","type":"address"},
     {"name":"amountIn","type":"uint256"},
     {"name":"fee","type":"uint24"},
     {"name":"sqrtPriceLimitX96","type":"uint160"}]}],
   "outputs":[
     {"name":"amountOut","type":"uint256"},
     {"name":"sqrtPriceX96After","type":"uint160"},
     {"name":"initializedTicksCrossed","type":"uint32"},
     {"name":"gasEstimate","type":"uint256"}]}
]`

var (
	pairABI        abi.ABI
	v3PoolABI      abi.ABI
	algebraPoolABI abi.ABI
	quoterV2ABI    abi.ABI
)

func init() {
	pairABI = mustABI(pairABIJSON)
	v3PoolABI = mustABI(v3PoolABIJSON)
	algebraPoolABI = mustABI(algebraPoolABIJSON)
	quoterV2ABI = mustABI(quoterV2ABIJSON)
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("evm: bad embedded ABI: " + err.Error())
	}
	return parsed
}
