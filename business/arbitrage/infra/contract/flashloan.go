// Package contract builds, signs and submits settlement transactions
// against the deployed two-hop arbitrage contract.
package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/app"
	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	ethpool "github.com/fd1az/dex-arb-engine/business/blockchain/infra/ethereum"
	pricingDomain "github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/config"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

const (
	tracerName = "arbitrage.contract"
	meterName  = "arbitrage.contract"

	// receiptPollInterval is how often a submitted transaction is
	// polled for its receipt.
	receiptPollInterval = 2 * time.Second

	// GasBucketName is the cache bucket remembering observed gas usage
	// per settlement path.
	GasBucketName = "router_gas"
)

// Dex version codes the settlement contract dispatches on.
const (
	dexVersionV2 uint8 = 2
	dexVersionV3 uint8 = 3
)

// All three entry points share one signature; the contract differs
// only in where the input capital comes from.
const settlementABIJSON = `[
	{"name":"executeFlashloan","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
		{"name":"dex1","type":"address"},{"name":"dex2","type":"address"},
		{"name":"dex1Version","type":"uint8"},{"name":"dex2Version","type":"uint8"},
		{"name":"amountIn","type":"uint256"},{"name":"minProfitAmount","type":"uint256"},
		{"name":"dex1Data","type":"bytes"},{"name":"dex2Data","type":"bytes"}],"outputs":[]},
	{"name":"executeBalancerFlashloan","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
		{"name":"dex1","type":"address"},{"name":"dex2","type":"address"},
		{"name":"dex1Version","type":"uint8"},{"name":"dex2Version","type":"uint8"},
		{"name":"amountIn","type":"uint256"},{"name":"minProfitAmount","type":"uint256"},
		{"name":"dex1Data","type":"bytes"},{"name":"dex2Data","type":"bytes"}],"outputs":[]},
	{"name":"executeDirectSwap","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
		{"name":"dex1","type":"address"},{"name":"dex2","type":"address"},
		{"name":"dex1Version","type":"uint8"},{"name":"dex2Version","type":"uint8"},
		{"name":"amountIn","type":"uint256"},{"name":"minProfitAmount","type":"uint256"},
		{"name":"dex1Data","type":"bytes"},{"name":"dex2Data","type":"bytes"}],"outputs":[]}
]`

var settlementABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(settlementABIJSON))
	if err != nil {
		panic("invalid settlement abi: " + err.Error())
	}
	settlementABI = parsed
}

type builderMetrics struct {
	submitted metric.Int64Counter
	confirmed metric.Int64Counter
	reverted  metric.Int64Counter
	gasUsed   metric.Int64Histogram
}

// Builder signs and submits settlement transactions. It implements the
// arbitrage context's TxBuilder port.
type Builder struct {
	pool           *ethpool.Pool
	contract       common.Address
	key            *ecdsa.PrivateKey
	sender         common.Address
	chainID        *big.Int
	receiptTimeout time.Duration
	maxFeeWei      *big.Int
	gasCache       *cache.Bucket
	logger         logger.LoggerInterface

	tracer  trace.Tracer
	metrics *builderMetrics
}

// NewBuilder creates a transaction builder from the execution config.
// The private key is expected to come from the environment; it is
// parsed once and never logged. gasCache remembers observed gas usage
// per settlement path on the slow cache horizon; nil disables it.
func NewBuilder(cfg config.ExecutionConfig, chain config.ChainConfig, pool *ethpool.Pool, gasCache *cache.Bucket, log logger.LoggerInterface) (*Builder, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	b := &Builder{
		pool:           pool,
		contract:       cfg.ContractAddressHex(),
		key:            key,
		sender:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:        new(big.Int).SetUint64(chain.ID),
		receiptTimeout: cfg.ReceiptTimeout,
		maxFeeWei:      new(big.Int).Mul(big.NewInt(chain.MaxGasPriceGwei), big.NewInt(1e9)),
		gasCache:       gasCache,
		logger:         log,
		tracer:         otel.Tracer(tracerName),
	}

	if err := b.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return b, nil
}

func (b *Builder) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	b.metrics = &builderMetrics{}

	b.metrics.submitted, err = meter.Int64Counter(
		"settlement_tx_submitted_total",
		metric.WithDescription("Settlement transactions submitted"),
		metric.WithUnit("{tx}"),
	)
	if err != nil {
		return err
	}

	b.metrics.confirmed, err = meter.Int64Counter(
		"settlement_tx_confirmed_total",
		metric.WithDescription("Settlement transactions mined successfully"),
		metric.WithUnit("{tx}"),
	)
	if err != nil {
		return err
	}

	b.metrics.reverted, err = meter.Int64Counter(
		"settlement_tx_reverted_total",
		metric.WithDescription("Settlement transactions mined but reverted"),
		metric.WithUnit("{tx}"),
	)
	if err != nil {
		return err
	}

	b.metrics.gasUsed, err = meter.Int64Histogram(
		"settlement_tx_gas_used",
		metric.WithDescription("Gas used by mined settlement transactions"),
		metric.WithUnit("{gas}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Sender returns the signing wallet's address.
func (b *Builder) Sender() common.Address {
	return b.sender
}

// ExecuteFlashloan packs, signs and submits one settlement transaction
// and waits for its receipt. A mined-but-reverted transaction is a
// non-error result with Success false; the caller books the loss.
func (b *Builder) ExecuteFlashloan(ctx context.Context, req app.FlashloanRequest) (*app.ExecutionReceipt, error) {
	ctx, span := b.tracer.Start(ctx, "contract.execute_flashloan",
		trace.WithAttributes(
			attribute.String("provider", string(req.Provider)),
			attribute.String("buy_venue", req.BuyPool.Venue),
			attribute.String("sell_venue", req.SellPool.Venue),
		),
	)
	defer span.End()

	calldata, err := b.packCall(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pack failed")
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("pack calldata"))
	}

	tx, err := b.signTx(ctx, calldata, b.gasLimitFor(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign failed")
		return nil, err
	}

	err = b.pool.Execute(ctx, func(ctx context.Context, client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("send transaction"))
	}

	b.metrics.submitted.Add(ctx, 1)
	txHash := tx.Hash()
	span.SetAttributes(attribute.String("tx_hash", txHash.Hex()))
	b.logger.Info(ctx, "settlement transaction submitted",
		"tx_hash", txHash.Hex(),
		"provider", string(req.Provider),
		"gas_limit", req.GasLimit,
	)

	receipt, err := b.waitReceipt(ctx, txHash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "receipt wait failed")
		// The transaction may still land; the hash is reported so the
		// operator can reconcile manually.
		return &app.ExecutionReceipt{
			Success: false,
			TxHash:  txHash.Hex(),
			Error:   "receipt not observed: " + err.Error(),
		}, nil
	}

	out := &app.ExecutionReceipt{
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		TxHash:  txHash.Hex(),
		GasUsed: receipt.GasUsed,
	}
	b.metrics.gasUsed.Record(ctx, int64(receipt.GasUsed))

	if out.Success {
		b.rememberGas(req.Provider, receipt.GasUsed)
		b.metrics.confirmed.Add(ctx, 1)
		span.SetStatus(codes.Ok, "confirmed")
	} else {
		out.Error = "execution reverted"
		b.metrics.reverted.Add(ctx, 1)
		span.SetStatus(codes.Error, "reverted")
	}

	return out, nil
}

// packCall selects the contract entry point for the provider and packs
// the two-hop call.
func (b *Builder) packCall(req app.FlashloanRequest) ([]byte, error) {
	var method string
	switch req.Provider {
	case domain.ProviderBalancer:
		method = "executeBalancerFlashloan"
	case domain.ProviderAave:
		method = "executeFlashloan"
	case domain.ProviderNone:
		method = "executeDirectSwap"
	default:
		return nil, fmt.Errorf("unknown provider %q", req.Provider)
	}

	return settlementABI.Pack(method,
		common.HexToAddress(req.TokenIn),
		common.HexToAddress(req.TokenOut),
		req.BuyPool.Address,
		req.SellPool.Address,
		dexVersion(req.BuyPool),
		dexVersion(req.SellPool),
		req.AmountInWei,
		req.MinProfitWei,
		dexData(req.BuyPool),
		dexData(req.SellPool),
	)
}

// signTx builds an EIP-1559 transaction with the current fee estimate,
// capped at the configured maximum.
func (b *Builder) signTx(ctx context.Context, calldata []byte, gasLimit uint64) (*types.Transaction, error) {
	nonce, err := ethpool.Call(ctx, b.pool, func(ctx context.Context, client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, b.sender)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("pending nonce"))
	}

	tip, err := ethpool.Call(ctx, b.pool, func(ctx context.Context, client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasTipCap(ctx)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("gas tip"))
	}

	head, err := ethpool.Call(ctx, b.pool, func(ctx context.Context, client *ethclient.Client) (*types.Header, error) {
		return client.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("chain head"))
	}

	// feeCap = 2*baseFee + tip, the usual headroom for two full blocks
	// of base-fee growth.
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	if feeCap.Cmp(b.maxFeeWei) > 0 {
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithContext(fmt.Sprintf("fee cap %s wei above configured maximum", feeCap)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &b.contract,
		Data:      calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, apperror.New(apperror.CodeExecutionFailed,
			apperror.WithCause(err),
			apperror.WithContext("sign transaction"))
	}
	return signed, nil
}

// waitReceipt polls for the transaction receipt until it appears or
// the configured timeout elapses.
func (b *Builder) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, b.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := ethpool.Call(ctx, b.pool, func(ctx context.Context, client *ethclient.Client) (*types.Receipt, error) {
			return client.TransactionReceipt(ctx, txHash)
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt timeout for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// observedGas is the cached gas-usage record for one settlement path.
type observedGas struct {
	GasUsed uint64 `json:"gas_used"`
}

// gasLimitFor tightens the static per-path budget using observed gas
// from earlier successful settlements on the same path. Observed usage
// plus 20% headroom is taken when it undercuts the static limit; the
// limit is never raised above the router's budget.
func (b *Builder) gasLimitFor(req app.FlashloanRequest) uint64 {
	if b.gasCache == nil {
		return req.GasLimit
	}

	var rec observedGas
	if !b.gasCache.Get(gasCacheKey(req.Provider), &rec) || rec.GasUsed == 0 {
		return req.GasLimit
	}

	padded := rec.GasUsed + rec.GasUsed/5
	if padded < req.GasLimit {
		return padded
	}
	return req.GasLimit
}

func (b *Builder) rememberGas(provider domain.FlashProvider, gasUsed uint64) {
	if b.gasCache == nil || gasUsed == 0 {
		return
	}
	b.gasCache.Set(gasCacheKey(provider), observedGas{GasUsed: gasUsed})
}

func gasCacheKey(provider domain.FlashProvider) string {
	if provider == domain.ProviderNone {
		return "direct"
	}
	return string(provider)
}

func dexVersion(info pricingDomain.PoolInfo) uint8 {
	if info.Type == pricingDomain.ConstantProduct {
		return dexVersionV2
	}
	return dexVersionV3
}

// dexData carries the fee tier for concentrated-liquidity hops; the
// contract reads it as a uint24. Constant-product hops need none.
func dexData(info pricingDomain.PoolInfo) []byte {
	if info.Type == pricingDomain.ConstantProduct {
		return []byte{}
	}
	tier := new(big.Int).SetUint64(uint64(info.FeeBps) * 100)
	return common.LeftPadBytes(tier.Bytes(), 32)
}
