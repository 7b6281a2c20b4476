package cache

import (
	"context"
	"time"
)

// Decode turns raw L2 bytes back into the typed value promoted to L1.
type Decode func(data []byte) (interface{}, error)

// LayeredCache is a two-level cache: the bounded memory cache in front
// of Redis. Writes go through to both; L2 hits are promoted to L1.
type LayeredCache struct {
	mem    *MemoryCache
	redis  *RedisCache
	decode Decode
}

// NewLayeredCache wraps a memory cache and a Redis tier. decode may be
// nil, in which case L2 hits are returned as raw bytes.
func NewLayeredCache(mem *MemoryCache, redisCache *RedisCache, decode Decode) *LayeredCache {
	return &LayeredCache{mem: mem, redis: redisCache, decode: decode}
}

// Set writes through: Redis first so a partial failure never leaves L1
// fresher than L2.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	if err := lc.redis.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return lc.mem.Set(ctx, key, value, ttl, tags...)
}

// Get checks L1, then L2. An L2 hit is decoded and promoted.
func (lc *LayeredCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if v, ok := lc.mem.Get(ctx, key); ok {
		return v, true
	}

	data, err := lc.redis.GetBytes(ctx, key)
	if err != nil {
		return nil, false
	}

	var v interface{} = data
	if lc.decode != nil {
		decoded, derr := lc.decode(data)
		if derr != nil {
			return nil, false
		}
		v = decoded
	}

	_ = lc.mem.Set(ctx, key, v, 0)
	return v, true
}

// Has checks L1 without touching recency, then L2.
func (lc *LayeredCache) Has(ctx context.Context, key string) bool {
	if lc.mem.Has(ctx, key) {
		return true
	}
	ok, err := lc.redis.Exists(ctx, key)
	return err == nil && ok
}

// Delete removes from both tiers.
func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

// Clear empties L1 and the prefixed L2 keyspace.
func (lc *LayeredCache) Clear(ctx context.Context) error {
	_ = lc.mem.Clear(ctx)
	return lc.redis.DeleteByPattern(ctx, "*")
}

// Memory returns the L1 tier for stats and tag operations.
func (lc *LayeredCache) Memory() *MemoryCache {
	return lc.mem
}

// Stats reports the L1 tier's counters. Redis keeps its own server-side
// stats and is not folded in here.
func (lc *LayeredCache) Stats() Stats {
	return lc.mem.Stats()
}

// Close closes both tiers.
func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.redis.Close()
}
