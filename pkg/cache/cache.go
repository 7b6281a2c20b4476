package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Store defines the operations shared by the memory, Redis and layered
// caches. The bounded memory cache is the primary implementation; the
// other two are deployment tiers around it.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error
	Get(ctx context.Context, key string) (interface{}, bool)
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
	Close() error
}

// Stats is a point-in-time copy of hit/miss accounting.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"` // hits/(hits+misses), 0 when no lookups yet
}

// ExportedEntry is one row of the diagnostic dump.
type ExportedEntry struct {
	Key   string        `json:"key"`
	Value interface{}   `json:"value"`
	Age   time.Duration `json:"age"`
	Hits  int64         `json:"hits"`
}
