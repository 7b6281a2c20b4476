package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryItem stores a cached value with its bookkeeping. lastAccess and
// hits are the only fields mutated after insertion.
type memoryItem struct {
	value      interface{}
	insertedAt time.Time
	ttl        time.Duration
	tags       map[string]struct{}
	lastAccess time.Time
	hits       int64
}

func (m *memoryItem) expired(now time.Time) bool {
	return m.ttl > 0 && now.Sub(m.insertedAt) >= m.ttl
}

// MemoryCache is a bounded in-memory cache with TTL expiry, strict LRU
// eviction and tag-based invalidation. Size never exceeds MaxSize: an
// insert that would overflow evicts exactly one entry, the one with the
// oldest last access.
type MemoryCache struct {
	mu         sync.Mutex
	data       map[string]*memoryItem
	maxSize    int
	defaultTTL time.Duration

	hits      int64
	misses    int64
	evictions int64

	strategies    []PrefetchStrategy
	onFetchErr    func(key string, err error)
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewMemoryCache creates a bounded in-memory cache. Misconfiguration is
// the only failure surfaced synchronously.
func NewMemoryCache(opts ...MemoryOption) (*MemoryCache, error) {
	cfg := &MemoryConfig{
		MaxSize:    1000,
		DefaultTTL: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("cache: max size must be positive, got %d", cfg.MaxSize)
	}
	if cfg.DefaultTTL <= 0 {
		return nil, fmt.Errorf("cache: default ttl must be positive, got %v", cfg.DefaultTTL)
	}

	mc := &MemoryCache{
		data:       make(map[string]*memoryItem),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		onFetchErr: cfg.OnFetchError,
	}

	if cfg.CleanupInterval > 0 {
		mc.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
		mc.stopCleanup = make(chan struct{})
		go mc.cleanupLoop()
	}

	return mc, nil
}

// Set upserts a value. A zero or negative ttl uses the default TTL.
func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	now := time.Now()
	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}

	mc.data[key] = &memoryItem{
		value:      value,
		insertedAt: now,
		ttl:        ttl,
		tags:       tagSet,
		lastAccess: now,
	}
	return nil
}

// Get returns a fresh value and touches its recency. Expired entries are
// removed on read and counted as misses.
func (mc *MemoryCache) Get(_ context.Context, key string) (interface{}, bool) {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.data[key]
	if !ok {
		mc.misses++
		return nil, false
	}
	if item.expired(now) {
		delete(mc.data, key)
		mc.misses++
		return nil, false
	}

	item.lastAccess = now
	item.hits++
	mc.hits++
	return item.value, true
}

// Has reports existence without mutating recency or hit counters.
func (mc *MemoryCache) Has(_ context.Context, key string) bool {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.data[key]
	return ok && !item.expired(now)
}

// Delete removes keys unconditionally.
func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

// Clear removes every entry. Stats are untouched.
func (mc *MemoryCache) Clear(_ context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.data = make(map[string]*memoryItem)
	return nil
}

// Cleanup sweeps all currently-expired entries and returns the removed
// count. Intended for a periodic timer.
func (mc *MemoryCache) Cleanup() int {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	removed := 0
	for key, item := range mc.data {
		if item.expired(now) {
			delete(mc.data, key)
			removed++
		}
	}
	return removed
}

// ClearByTag removes every entry tagged with tag and returns the count.
func (mc *MemoryCache) ClearByTag(tag string) int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	removed := 0
	for key, item := range mc.data {
		if _, ok := item.tags[tag]; ok {
			delete(mc.data, key)
			removed++
		}
	}
	return removed
}

// GetOrFetch returns a fresh cached value, or invokes fetcher and caches
// the result under the default TTL. Two concurrent misses for the same
// key may both invoke fetcher; single-flight deduplication is left to a
// separate collaborator.
func (mc *MemoryCache) GetOrFetch(ctx context.Context, key string, fetcher func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := mc.Get(ctx, key); ok {
		return v, nil
	}

	v, err := fetcher(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}

	if err := mc.Set(ctx, key, v, 0); err != nil {
		return nil, err
	}
	return v, nil
}

// Len returns the current entry count.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

// Stats returns a copy of the hit/miss accounting.
func (mc *MemoryCache) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	s := Stats{Hits: mc.hits, Misses: mc.misses, Evictions: mc.evictions}
	if total := mc.hits + mc.misses; total > 0 {
		s.HitRate = float64(mc.hits) / float64(total)
	}
	return s
}

// ResetStats zeroes the counters without touching entries.
func (mc *MemoryCache) ResetStats() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.hits, mc.misses, mc.evictions = 0, 0, 0
}

// Export dumps every live entry for diagnostics.
func (mc *MemoryCache) Export() []ExportedEntry {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	out := make([]ExportedEntry, 0, len(mc.data))
	for key, item := range mc.data {
		if item.expired(now) {
			continue
		}
		out = append(out, ExportedEntry{
			Key:   key,
			Value: item.value,
			Age:   now.Sub(item.insertedAt),
			Hits:  item.hits,
		})
	}
	return out
}

// evictLRU removes the entry with the oldest last access. Caller holds
// the lock.
func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, item := range mc.data {
		if first || item.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = item.lastAccess
			first = false
		}
	}

	if !first {
		delete(mc.data, oldestKey)
		mc.evictions++
	}
}

func (mc *MemoryCache) cleanupLoop() {
	for {
		select {
		case <-mc.cleanupTicker.C:
			mc.Cleanup()
		case <-mc.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup sweep. Safe to call more than once.
func (mc *MemoryCache) Close() error {
	if mc.cleanupTicker != nil {
		mc.cleanupTicker.Stop()
		select {
		case <-mc.stopCleanup:
		default:
			close(mc.stopCleanup)
		}
	}
	return nil
}
