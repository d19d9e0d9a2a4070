package observability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quotamux/quotamux/internal/cache"
	"github.com/quotamux/quotamux/internal/clock"
)

// memCache is a trivial in-memory cache.Cache used only to unit test
// the Store's bucketing logic in isolation from the real Ristretto
// backend.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return v, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) SetWithTTL(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return m.Set(ctx, key, value)
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	return err == nil, nil
}

func (m *memCache) Close() error { return nil }

func TestStore_RecordAndSumWithinWindow(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	s := New(newMemCache(), c)

	s.RecordRequest("k1", "gemini-flash")
	s.RecordRequest("k1", "gemini-flash")
	s.RecordRequest("k1", "gemini-pro")

	details := s.KeyUsageDetails("k1")
	assert.Equal(t, 2, details["gemini-flash"])
	assert.Equal(t, 1, details["gemini-pro"])
}

func TestStore_OldBucketsDropOutOfWindow(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	s := New(newMemCache(), c)

	s.RecordRequest("k1", "m")

	c.Advance(25 * time.Hour)
	s.RecordRequest("k1", "m")

	details := s.KeyUsageDetails("k1")
	assert.Equal(t, 1, details["m"])
}

func TestStore_UnknownKeyReturnsEmpty(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	s := New(newMemCache(), c)

	assert.Empty(t, s.KeyUsageDetails("never-seen"))
}
