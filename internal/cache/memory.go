package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a generic in-memory TTL cache for hot, short-lived values
// (suggested gas price, native token quote). It is independent of the
// persistent Store: nothing in it survives a restart.
type Memory[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]memEntry[V]
	stop    chan struct{}
	stopped sync.Once
}

type memEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewMemory creates an in-memory cache that sweeps expired entries every
// cleanupInterval.
func NewMemory[K comparable, V any](cleanupInterval time.Duration) *Memory[K, V] {
	m := &Memory[K, V]{
		items: make(map[K]memEntry[V]),
		stop:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go m.cleanupLoop(cleanupInterval)
	}

	return m
}

// Get returns the value for key if present and not expired.
func (m *Memory[K, V]) Get(_ context.Context, key K) (V, bool) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key for ttl.
func (m *Memory[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	m.mu.Lock()
	m.items[key] = memEntry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

// Delete removes key.
func (m *Memory[K, V]) Delete(_ context.Context, key K) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// Close stops the cleanup loop.
func (m *Memory[K, V]) Close() {
	m.stopped.Do(func() {
		close(m.stop)
	})
}

func (m *Memory[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for k, e := range m.items {
				if now.After(e.expiresAt) {
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
