package app

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/dex-arb-engine/business/pricing/domain"
	"github.com/fd1az/dex-arb-engine/internal/apperror"
	"github.com/fd1az/dex-arb-engine/internal/cache"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

type fakeReader struct {
	reads  atomic.Int64
	states map[string]*domain.PoolState
	fail   map[string]bool
}

func (f *fakeReader) ReadState(_ context.Context, info domain.PoolInfo) (*domain.PoolState, error) {
	f.reads.Add(1)
	if f.fail[info.Key()] {
		return nil, apperror.New(apperror.CodePoolReadFailed, apperror.WithContext(info.Key()))
	}
	st, ok := f.states[info.Key()]
	if !ok {
		return nil, apperror.New(apperror.CodePoolNotFound, apperror.WithContext(info.Key()))
	}
	return st, nil
}

type fakeQuoter struct{}

func (fakeQuoter) QuoteOutput(_ context.Context, _ domain.PoolInfo, amountIn *big.Int, _ bool) (*big.Int, error) {
	return new(big.Int).Set(amountIn), nil
}

type fakeOracle struct {
	native decimal.Decimal
	tokens map[common.Address]decimal.Decimal
}

func (f *fakeOracle) NativeUSD(context.Context) (decimal.Decimal, error) {
	return f.native, nil
}

func (f *fakeOracle) TokenUSD(_ context.Context, token common.Address) (decimal.Decimal, error) {
	if usd, ok := f.tokens[token]; ok {
		return usd, nil
	}
	return decimal.Zero, apperror.New(apperror.CodeOraclePriceUnavailable)
}

func testPools() []domain.PoolInfo {
	return []domain.PoolInfo{
		{
			Venue:     "quickswap",
			PairLabel: "WPOL/USDC",
			Address:   common.HexToAddress("0x01"),
			Token0:    common.HexToAddress("0xa1"),
			Token1:    common.HexToAddress("0xb1"),
			Type:      domain.ConstantProduct,
			FeeBps:    30,
			Decimals0: 18,
			Decimals1: 6,
		},
		{
			Venue:     "sushiswap",
			PairLabel: "WPOL/USDC",
			Address:   common.HexToAddress("0x02"),
			Token0:    common.HexToAddress("0xa1"),
			Token1:    common.HexToAddress("0xb1"),
			Type:      domain.ConstantProduct,
			FeeBps:    30,
			Decimals0: 18,
			Decimals1: 6,
		},
	}
}

func testStates(pools []domain.PoolInfo) map[string]*domain.PoolState {
	out := make(map[string]*domain.PoolState)
	for _, info := range pools {
		out[info.Key()] = &domain.PoolState{
			Info:     info,
			Reserve0: big.NewInt(1_000_000),
			Reserve1: big.NewInt(2_000_000),
		}
	}
	return out
}

func newTestService(t *testing.T, reader PoolReader, oracle UsdOracle, pools []domain.PoolInfo) *PricingService {
	t.Helper()

	store, err := cache.NewStore(t.TempDir(), logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	svc, err := NewPricingService(
		pools,
		reader,
		fakeQuoter{},
		oracle,
		store.Bucket(BucketPairPrice, 30*time.Second),
		store.Bucket(BucketTvl, time.Hour),
		logger.NewDiscard(),
	)
	require.NoError(t, err)
	return svc
}

func TestFetchPoolStates_CachesSecondCycle(t *testing.T) {
	pools := testPools()
	reader := &fakeReader{states: testStates(pools)}
	svc := newTestService(t, reader, &fakeOracle{}, pools)

	_, stats, err := svc.FetchPoolStates(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LiveReads)
	assert.Equal(t, 0, stats.CacheHits)

	states, stats, err := svc.FetchPoolStates(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.LiveReads)
	assert.Equal(t, 2, stats.CacheHits)
	assert.Equal(t, int64(2), reader.reads.Load())

	// Cached state round-trips the raw integers exactly.
	require.Len(t, states, 2)
	for _, st := range states {
		assert.Equal(t, big.NewInt(1_000_000), st.Reserve0)
		assert.Equal(t, big.NewInt(2_000_000), st.Reserve1)
	}
}

func TestFetchPoolStates_BypassReadsLive(t *testing.T) {
	pools := testPools()
	reader := &fakeReader{states: testStates(pools)}
	svc := newTestService(t, reader, &fakeOracle{}, pools)

	_, _, err := svc.FetchPoolStates(context.Background(), true)
	require.NoError(t, err)

	_, stats, err := svc.FetchPoolStates(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LiveReads)
	assert.Equal(t, 0, stats.CacheHits)
}

func TestFetchPoolStates_SkipsFailedPool(t *testing.T) {
	pools := testPools()
	reader := &fakeReader{
		states: testStates(pools),
		fail:   map[string]bool{pools[0].Key(): true},
	}
	svc := newTestService(t, reader, &fakeOracle{}, pools)

	states, stats, err := svc.FetchPoolStates(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failures)
	assert.Len(t, states, 1)
	assert.Equal(t, pools[1].Key(), states[0].Info.Key())
}

func TestGroupByPair_DropsSingletons(t *testing.T) {
	pools := testPools()
	states := []*domain.PoolState{
		{Info: pools[0]},
		{Info: pools[1]},
		{Info: domain.PoolInfo{
			Venue:  "lonely",
			Token0: common.HexToAddress("0xf0"),
			Token1: common.HexToAddress("0xf1"),
		}},
	}

	grouped := GroupByPair(states)
	require.Len(t, grouped, 1)
	assert.Len(t, grouped[pools[0].PairKey()], 2)
}

func TestPoolTVL_ComputesAndCaches(t *testing.T) {
	pools := testPools()
	reader := &fakeReader{states: testStates(pools)}
	oracle := &fakeOracle{
		native: decimal.NewFromFloat(0.5),
		tokens: map[common.Address]decimal.Decimal{
			common.HexToAddress("0xa1"): decimal.NewFromFloat(0.5), // 18 decimals
			common.HexToAddress("0xb1"): decimal.NewFromInt(1),     // 6 decimals
		},
	}
	svc := newTestService(t, reader, oracle, pools)

	state := &domain.PoolState{
		Info:     pools[0],
		Reserve0: new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)), // 1000 tokens at $0.5
		Reserve1: new(big.Int).Mul(big.NewInt(300), big.NewInt(1e6)),   // 300 tokens at $1
	}

	tvl, err := svc.PoolTVL(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, tvl.Equal(decimal.NewFromInt(800)), "got %s", tvl)

	// Second lookup is served from cache even if the oracle forgets
	// the tokens.
	oracle.tokens = nil
	tvl, err = svc.PoolTVL(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, tvl.Equal(decimal.NewFromInt(800)), "got %s", tvl)
}
