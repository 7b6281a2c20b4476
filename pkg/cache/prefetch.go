package cache

import (
	"context"
	"sort"
)

// PrefetchStrategy is one named prefetch rule. Strategies are plain data
// records so they can be registered and removed at runtime; lower
// Priority wins when several match.
type PrefetchStrategy struct {
	Name     string
	Priority int
	Enabled  bool
	Match    func(key string) bool
	Fetch    func(ctx context.Context, key string) (interface{}, error)
}

// RegisterStrategy adds or replaces a strategy by name and keeps the
// list ordered by priority.
func (mc *MemoryCache) RegisterStrategy(s PrefetchStrategy) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for i := range mc.strategies {
		if mc.strategies[i].Name == s.Name {
			mc.strategies[i] = s
			mc.sortStrategies()
			return
		}
	}
	mc.strategies = append(mc.strategies, s)
	mc.sortStrategies()
}

// RemoveStrategy deletes a strategy by name.
func (mc *MemoryCache) RemoveStrategy(name string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for i := range mc.strategies {
		if mc.strategies[i].Name == name {
			mc.strategies = append(mc.strategies[:i], mc.strategies[i+1:]...)
			return
		}
	}
}

// Prefetch runs the first enabled strategy matching key, unless the key
// is already cached. Fetcher failures are reported to the error hook and
// swallowed.
func (mc *MemoryCache) Prefetch(ctx context.Context, key string) {
	if mc.Has(ctx, key) {
		return
	}

	strategy, ok := mc.matchStrategy(key)
	if !ok {
		return
	}

	v, err := strategy.Fetch(ctx, key)
	if err != nil {
		if mc.onFetchErr != nil {
			mc.onFetchErr(key, err)
		}
		return
	}
	_ = mc.Set(ctx, key, v, 0)
}

// WarmUp prefetches every key in order.
func (mc *MemoryCache) WarmUp(ctx context.Context, keys []string) {
	for _, key := range keys {
		mc.Prefetch(ctx, key)
	}
}

func (mc *MemoryCache) matchStrategy(key string) (PrefetchStrategy, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, s := range mc.strategies {
		if s.Enabled && s.Match != nil && s.Match(key) {
			return s, true
		}
	}
	return PrefetchStrategy{}, false
}

// sortStrategies orders by priority ascending. Caller holds the lock.
func (mc *MemoryCache) sortStrategies() {
	sort.SliceStable(mc.strategies, func(i, j int) bool {
		return mc.strategies[i].Priority < mc.strategies[j].Priority
	})
}
