// Package cache provides a persistent, time-boxed key/value store. Data is
// partitioned into named buckets, each with its own TTL and its own JSON
// file on disk, so fast-moving data (pair prices) and slow-moving data
// (TVL, oracle prices) expire independently.
//
// The cache is an optimization, never a source of truth: disk write failures
// are logged and swallowed, and a corrupt or missing file loads as an empty
// bucket.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fd1az/dex-arb-engine/internal/logger"
)

// flushThreshold is the number of writes after which a bucket is
// persisted to disk automatically.
const flushThreshold = 5

type entry struct {
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Stats holds per-bucket hit/miss/write counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Writes    uint64 `json:"writes"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Store owns a set of buckets backed by one directory.
type Store struct {
	dir    string
	logger logger.LoggerInterface
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewStore creates (and if needed, creates the directory for) a cache store.
func NewStore(dir string, log logger.LoggerInterface) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:     dir,
		logger:  log,
		now:     time.Now,
		buckets: make(map[string]*Bucket),
	}, nil
}

// Bucket returns the named bucket, loading its file from disk on first use.
// Calling Bucket twice with the same name returns the same instance; the TTL
// of the first call wins.
func (s *Store) Bucket(name string, ttl time.Duration) *Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[name]; ok {
		return b
	}

	b := &Bucket{
		name:   name,
		ttl:    ttl,
		file:   filepath.Join(s.dir, name+"_cache.json"),
		logger: s.logger,
		now:    s.now,
	}
	b.load()
	s.buckets[name] = b
	return b
}

// Flush force-writes every bucket to disk.
func (s *Store) Flush() {
	for _, b := range s.snapshot() {
		b.Flush()
	}
}

// CleanupExpired sweeps every bucket and returns the total number of
// entries removed.
func (s *Store) CleanupExpired() int {
	removed := 0
	for _, b := range s.snapshot() {
		removed += b.CleanupExpired()
	}
	return removed
}

// Stats returns per-bucket statistics keyed by bucket name.
func (s *Store) Stats() map[string]Stats {
	out := make(map[string]Stats)
	for _, b := range s.snapshot() {
		out[b.name] = b.Stats()
	}
	return out
}

// Close flushes all buckets. The store must not be used afterwards.
func (s *Store) Close() {
	s.Flush()
}

func (s *Store) snapshot() []*Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	return out
}

// Bucket is one TTL class of cached data, persisted to its own file.
type Bucket struct {
	name   string
	ttl    time.Duration
	file   string
	logger logger.LoggerInterface
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	writes  int
	stats   Stats
}

// Key builds a cache key from parts, lowercased and colon-joined, matching
// the "{venue}:{pool_address}" layout of the persisted file.
func Key(parts ...string) string {
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
	}
	return strings.Join(lowered, ":")
}

// Get unmarshals the cached value for key into out. It returns false when
// the key is absent or the entry is past TTL; expired entries are pruned
// on the spot.
func (b *Bucket) Get(key string, out any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		b.stats.Misses++
		return false
	}

	if b.expired(e) {
		delete(b.entries, key)
		b.stats.Misses++
		b.stats.Evictions++
		return false
	}

	if err := json.Unmarshal(e.Data, out); err != nil {
		// Treat undecodable entries like corruption: drop and miss.
		delete(b.entries, key)
		b.stats.Misses++
		return false
	}

	b.stats.Hits++
	return true
}

// Age returns how old the entry for key is, and whether a live entry exists.
func (b *Bucket) Age(key string) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || b.expired(e) {
		return 0, false
	}
	return b.now().Sub(time.Unix(e.Timestamp, 0)), true
}

// Set stores v under key with the current timestamp, overwriting any
// previous entry. Every flushThreshold writes the bucket is persisted.
func (b *Bucket) Set(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn(context.Background(), "cache value not serializable, dropped",
			"bucket", b.name, "key", key, "error", err)
		return
	}

	b.mu.Lock()
	b.entries[key] = entry{Timestamp: b.now().Unix(), Data: data}
	b.stats.Writes++
	b.writes++
	shouldFlush := b.writes%flushThreshold == 0
	b.mu.Unlock()

	if shouldFlush {
		b.Flush()
	}
}

// Delete removes the entry for key if present.
func (b *Bucket) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Len returns the number of entries, expired ones included.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// TTL returns the bucket's validity window.
func (b *Bucket) TTL() time.Duration {
	return b.ttl
}

// Stats returns a copy of the bucket counters.
func (b *Bucket) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Entries = len(b.entries)
	return s
}

// CleanupExpired removes all expired entries and persists the bucket when
// anything was dropped. Returns the number of entries removed.
func (b *Bucket) CleanupExpired() int {
	b.mu.Lock()
	removed := 0
	for key, e := range b.entries {
		if b.expired(e) {
			delete(b.entries, key)
			removed++
		}
	}
	b.stats.Evictions += uint64(removed)
	b.mu.Unlock()

	if removed > 0 {
		b.Flush()
	}
	return removed
}

// Flush writes the bucket synchronously to disk. Failures are logged and
// swallowed.
func (b *Bucket) Flush() {
	b.mu.Lock()
	data, err := json.MarshalIndent(b.entries, "", "  ")
	b.mu.Unlock()
	if err != nil {
		b.logger.Warn(context.Background(), "cache flush marshal failed",
			"bucket", b.name, "error", err)
		return
	}

	tmp := b.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		b.logger.Warn(context.Background(), "cache flush failed",
			"bucket", b.name, "file", b.file, "error", err)
		return
	}
	if err := os.Rename(tmp, b.file); err != nil {
		b.logger.Warn(context.Background(), "cache flush rename failed",
			"bucket", b.name, "file", b.file, "error", err)
	}
}

func (b *Bucket) expired(e entry) bool {
	return b.now().Sub(time.Unix(e.Timestamp, 0)) > b.ttl
}

// load reads the bucket file. Missing or corrupt files yield an empty
// bucket; a cold start must never be fatal.
func (b *Bucket) load() {
	b.entries = make(map[string]entry)

	data, err := os.ReadFile(b.file)
	if err != nil {
		return
	}

	var loaded map[string]entry
	if err := json.Unmarshal(data, &loaded); err != nil {
		b.logger.Warn(context.Background(), "cache file unreadable, starting empty",
			"bucket", b.name, "file", b.file, "error", err)
		return
	}
	b.entries = loaded
}
