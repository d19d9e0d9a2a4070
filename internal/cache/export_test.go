package cache

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

// Exported for testing in external test package (cache_test).

// NewRistrettoCacheForTest exports the ristretto cache constructor for testing.
var NewRistrettoCacheForTest = newRistrettoCache

// NewNoopCacheForTest exports the noop cache constructor for testing.
var NewNoopCacheForTest = newNoopCache

// RistrettoCacheT exports the internal cache type for testing.
type RistrettoCacheT = ristrettoCache

// NoopCacheT exports the internal noop cache type for testing.
type NoopCacheT = noopCache

// ContainsString checks if a string contains a substring (for testing).
func ContainsString(str, substr string) bool {
	return len(str) >= len(substr) && containsStr(str, substr)
}

// containsStr searches for substr in str.
func containsStr(s, sub string) bool {
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// RistrettoWait calls Wait() on the underlying ristretto cache for test synchronization.
func RistrettoWait(cache *ristrettoCache) {
	cache.cache.Wait()
}

// NewRistrettoCacheWithLogger creates a ristretto cache using a specific logger,
// avoiding the global cache.Logger for test isolation.
func NewRistrettoCacheWithLogger(cfg RistrettoConfig, l *zerolog.Logger) (*ristrettoCache, error) {
	return newRistrettoCacheWithLog(cfg, l)
}

// NewNoopCacheWithLogger creates a noop cache using a specific logger,
// avoiding the global cache.Logger for test isolation.
func NewNoopCacheWithLogger(l *zerolog.Logger) *noopCache {
	return newNoopCacheWithLog(l)
}

// NewTestLogger creates a test logger at the given level, returning
// the buffer (for inspecting output) and the logger pointer.
func NewTestLogger(level zerolog.Level) (*bytes.Buffer, *zerolog.Logger) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(level)
	return &buf, &logger
}

// DefaultTestRistrettoConfig returns the standard test Ristretto configuration
// used across most tests, reducing duplication.
func DefaultTestRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 100_000,
		MaxCost:     10 << 20,
		BufferItems: 64,
	}
}

// SmallTestRistrettoConfig returns a smaller test Ristretto configuration
// for lightweight tests.
func SmallTestRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	}
}

// ZeroRistrettoConfig returns a zero-value RistrettoConfig for factory tests.
func ZeroRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		NumCounters: 0,
		MaxCost:     0,
		BufferItems: 0,
	}
}

// NewTestRistrettoCacheWithCleanup creates a ristretto cache with the default
// test config and registers cleanup with t.Cleanup.
func NewTestRistrettoCacheWithCleanup(t *testing.T, testLogger *zerolog.Logger) *ristrettoCache {
	t.Helper()
	cache, err := newRistrettoCacheWithLog(DefaultTestRistrettoConfig(), testLogger)
	if err != nil {
		t.Fatalf("NewRistrettoCacheWithLogger failed: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := cache.Close(); closeErr != nil {
			t.Errorf("Close() error = %v", closeErr)
		}
	})
	return cache
}

// NewTestNoopCacheWithCleanup creates a noop cache with the given logger
// and registers cleanup with t.Cleanup.
func NewTestNoopCacheWithCleanup(t *testing.T, testLogger *zerolog.Logger) *noopCache {
	t.Helper()
	cache := newNoopCacheWithLog(testLogger)
	t.Cleanup(func() {
		if closeErr := cache.Close(); closeErr != nil {
			t.Errorf("Close() error = %v", closeErr)
		}
	})
	return cache
}
