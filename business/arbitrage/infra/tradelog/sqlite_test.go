package tradelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fd1az/dex-arb-engine/business/arbitrage/domain"
	"github.com/fd1az/dex-arb-engine/internal/logger"
)

func openTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "trades.db"), logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func sampleTrade(ts time.Time, realized string, success bool) domain.TradeRecord {
	return domain.TradeRecord{
		OpportunityID: "quickswap-sushiswap-1000",
		Timestamp:     ts,
		Pair:          "USDC/WETH",
		BuyVenue:      "quickswap",
		SellVenue:     "sushiswap",
		Path:          domain.PathFlashLoan,
		Provider:      domain.ProviderBalancer,
		TradeSizeUSD:  decimal.NewFromInt(1000),
		ExpectedUSD:   decimal.RequireFromString("4.20"),
		RealizedUSD:   decimal.RequireFromString(realized),
		TxHash:        "0xabc",
		GasUsed:       310_000,
		Success:       success,
	}
}

func TestRecordAndRecentTrades(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, log.Record(ctx, sampleTrade(now.Add(-2*time.Minute), "4.10", true)))
	require.NoError(t, log.Record(ctx, sampleTrade(now.Add(-time.Minute), "-0.5", false)))

	trades, err := log.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Newest first.
	assert.False(t, trades[0].Success)
	assert.True(t, trades[0].RealizedUSD.Equal(decimal.RequireFromString("-0.5")))
	assert.True(t, trades[1].Success)
	assert.Equal(t, domain.PathFlashLoan, trades[1].Path)
	assert.Equal(t, domain.ProviderBalancer, trades[1].Provider)
	assert.Equal(t, uint64(310_000), trades[1].GasUsed)
}

func TestRecentTrades_Limit(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record(ctx, sampleTrade(now.Add(time.Duration(i)*time.Second), "1", true)))
	}

	trades, err := log.RecentTrades(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestDailyPnl_SumsTodayOnly(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, log.Record(ctx, sampleTrade(now, "3.25", true)))
	require.NoError(t, log.Record(ctx, sampleTrade(now, "-0.5", false)))
	require.NoError(t, log.Record(ctx, sampleTrade(now.Add(-48*time.Hour), "100", true)))

	pnl, err := log.DailyPnl(ctx)
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.RequireFromString("2.75")),
		"expected 2.75, got %s", pnl)
}

func TestDailyPnl_EmptyLog(t *testing.T) {
	log := openTestLog(t)

	pnl, err := log.DailyPnl(context.Background())
	require.NoError(t, err)
	assert.True(t, pnl.IsZero())
}
