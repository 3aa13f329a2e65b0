package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fd1az/dex-arb-engine/internal/logger"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store, err := NewStore(t.TempDir(), logger.NewDiscard())
	require.NoError(t, err)
	store.now = clock.now
	return store, clock
}

type payload struct {
	Price string `json:"price"`
}

func TestBucket_SetThenGet(t *testing.T) {
	store, _ := newTestStore(t)
	b := store.Bucket("pair_price", time.Hour)

	b.Set(Key("quickswap_v2", "0xAbC"), payload{Price: "3400.5"})

	var got payload
	require.True(t, b.Get("quickswap_v2:0xabc", &got))
	require.Equal(t, "3400.5", got.Price)
}

func TestBucket_GetUnknownKey(t *testing.T) {
	store, _ := newTestStore(t)
	b := store.Bucket("pair_price", time.Hour)

	var got payload
	require.False(t, b.Get("nope", &got))
}

func TestBucket_ExpiryIsTimeBased(t *testing.T) {
	store, clock := newTestStore(t)
	b := store.Bucket("pair_price", time.Hour)

	b.Set("k", payload{Price: "1"})

	var got payload
	clock.advance(59 * time.Minute)
	require.True(t, b.Get("k", &got), "entry inside TTL must hit")

	clock.advance(2 * time.Minute)
	require.False(t, b.Get("k", &got), "entry past TTL must behave like a miss")
	require.Equal(t, 0, b.Len(), "expired entry is pruned on read")
}

func TestBucket_IndependentTTLs(t *testing.T) {
	store, clock := newTestStore(t)
	prices := store.Bucket("pair_price", time.Hour)
	tvl := store.Bucket("tvl", 3*time.Hour)

	prices.Set("k", payload{Price: "1"})
	tvl.Set("k", payload{Price: "2"})

	clock.advance(2 * time.Hour)

	var got payload
	require.False(t, prices.Get("k", &got))
	require.True(t, tvl.Get("k", &got))
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewDiscard()

	store, err := NewStore(dir, log)
	require.NoError(t, err)
	b := store.Bucket("pair_price", time.Hour)
	b.Set("quickswap_v2:0x1", payload{Price: "42"})
	store.Flush()

	reopened, err := NewStore(dir, log)
	require.NoError(t, err)
	b2 := reopened.Bucket("pair_price", time.Hour)

	var got payload
	require.True(t, b2.Get("quickswap_v2:0x1", &got))
	require.Equal(t, "42", got.Price)
}

func TestStore_CorruptFileLoadsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pair_price_cache.json"), []byte("{not json"), 0o644))

	store, err := NewStore(dir, logger.NewDiscard())
	require.NoError(t, err)

	b := store.Bucket("pair_price", time.Hour)
	require.Equal(t, 0, b.Len())

	// The bucket must still be writable after a corrupt load.
	b.Set("k", payload{Price: "1"})
	var got payload
	require.True(t, b.Get("k", &got))
}

func TestStore_CleanupExpiredCountsRemovals(t *testing.T) {
	store, clock := newTestStore(t)
	b := store.Bucket("pair_price", time.Hour)

	b.Set("a", payload{Price: "1"})
	b.Set("b", payload{Price: "2"})
	clock.advance(2 * time.Hour)
	b.Set("c", payload{Price: "3"})

	require.Equal(t, 2, store.CleanupExpired())
	require.Equal(t, 1, b.Len())
}

func TestBucket_AutoFlushAfterThreshold(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, logger.NewDiscard())
	require.NoError(t, err)
	b := store.Bucket("pair_price", time.Hour)

	for i := 0; i < flushThreshold; i++ {
		b.Set(Key("venue", string(rune('a'+i))), payload{Price: "1"})
	}

	_, statErr := os.Stat(filepath.Join(dir, "pair_price_cache.json"))
	require.NoError(t, statErr, "bucket file must exist after threshold writes")
}

func TestKey(t *testing.T) {
	require.Equal(t, "quickswap_v2:0xabc", Key("QuickSwap_V2", "0xAbC"))
}
