// Package cache is the byte-oriented key/value store backing the
// observability Store's hourly per-(key,model) usage buckets. It has
// exactly two backends:
//   - Single mode (Ristretto): an in-process, cost-bounded cache
//   - Disabled mode (Noop): a passthrough that never retains anything
//
// Both the Key Scheduler and the observability Store built on top of
// this package run single-process, so there is no distributed/HA
// backend here to keep multiple instances' hourly buckets in sync —
// a deployment that needs that would run the scheduler's RPM window
// and failure accounting independently per instance anyway.
//
// Basic usage:
//
//	cfg := cache.Config{
//		Mode: cache.ModeSingle,
//		Ristretto: cache.RistrettoConfig{
//			NumCounters: 1e6,
//			MaxCost:     100 << 20, // 100 MB
//			BufferItems: 64,
//		},
//	}
//
//	c, err := cache.New(context.Background(), &cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.SetWithTTL(ctx, "key", []byte("value"), time.Hour)
//	data, err := c.Get(ctx, "key")
//	if errors.Is(err, cache.ErrNotFound) {
//		// bucket not yet recorded this hour
//	}
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for cache operations.
// All implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns ErrNotFound if the key does not exist.
	// Returns ErrClosed if the cache has been closed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with no expiration.
	// Returns ErrClosed if the cache has been closed.
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL stores a value in the cache with a time-to-live.
	// After the TTL expires, the key will no longer be retrievable.
	// Returns ErrClosed if the cache has been closed.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache.
	// Returns nil if the key does not exist (idempotent).
	// Returns ErrClosed if the cache has been closed.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the cache.
	// Returns ErrClosed if the cache has been closed.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources associated with the cache.
	// After Close is called, all operations will return ErrClosed.
	// Close is idempotent.
	Close() error
}

// Stats provides cache statistics for observability.
type Stats struct {
	// Hits is the number of cache hits.
	Hits uint64 `json:"hits"`

	// Misses is the number of cache misses.
	Misses uint64 `json:"misses"`

	// KeyCount is the current number of keys in the cache.
	KeyCount uint64 `json:"key_count"`

	// BytesUsed is the approximate memory used by cached values.
	BytesUsed uint64 `json:"bytes_used"`

	// Evictions is the number of keys evicted due to capacity limits.
	Evictions uint64 `json:"evictions"`
}

// StatsProvider is an optional interface for caches that support statistics.
// Use type assertion to check if a cache implements this interface:
//
//	if sp, ok := c.(cache.StatsProvider); ok {
//		stats := sp.Stats()
//		// use stats
//	}
type StatsProvider interface {
	// Stats returns current cache statistics.
	Stats() Stats
}

// Neither backend needs batch get/set or a connectivity ping: those
// earn their keep on a distributed cache fronting a network hop, and
// both of this package's backends are in-process.
