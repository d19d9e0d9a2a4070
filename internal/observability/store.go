// Package observability implements the in-process observability store:
// a rolling 24-hour, per-(key,model) request counter backed by the
// ristretto-based internal/cache, used to answer the admin surface's
// key-usage-details query without requiring an external database. It
// is deliberately in-process only; no cluster/cross-process cache is
// wired in here.
package observability

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/quotamux/quotamux/internal/cache"
	"github.com/quotamux/quotamux/internal/clock"
)

// bucketTTL keeps an hourly bucket around a little longer than the
// 24-hour query window so a bucket is never evicted mid-read.
const bucketTTL = 25 * time.Hour

// Store records request counts keyed by (credential key, model, hour
// bucket) and answers 24-hour rollups per key.
type Store struct {
	cache cache.Cache
	clock clock.Clock

	mu    sync.Mutex
	index map[string]map[string]struct{} // credential key -> models observed
}

// New wraps an existing Cache (see internal/cache) as an
// observability store.
func New(c cache.Cache, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Store{cache: c, clock: clk, index: make(map[string]map[string]struct{})}
}

func bucketKey(key, model string, hour int64) string {
	return fmt.Sprintf("obs|%s|%s|%d", key, model, hour)
}

func (s *Store) currentHour() int64 {
	return s.clock.Now().Unix() / 3600
}

// RecordRequest increments the current hour's bucket for (key, model).
// It never returns an error: cache failures are swallowed with the
// bucket simply starting over: observability failures are
// swallowed" policy; callers (the dispatcher's onRequest hook) are
// fire-and-forget regardless.
func (s *Store) RecordRequest(key, model string) {
	ctx := context.Background()
	hour := s.currentHour()
	bk := bucketKey(key, model, hour)

	count := 0
	if raw, err := s.cache.Get(ctx, bk); err == nil {
		if n, convErr := strconv.Atoi(string(raw)); convErr == nil {
			count = n
		}
	}
	count++
	_ = s.cache.SetWithTTL(ctx, bk, []byte(strconv.Itoa(count)), bucketTTL)

	s.mu.Lock()
	models, ok := s.index[key]
	if !ok {
		models = make(map[string]struct{})
		s.index[key] = models
	}
	models[model] = struct{}{}
	s.mu.Unlock()
}

// KeyUsageDetails sums the last 24 hourly buckets per model for key,
// matching the `GET /api/key-usage-details/{key}` response shape.
func (s *Store) KeyUsageDetails(key string) map[string]int {
	s.mu.Lock()
	models := make([]string, 0, len(s.index[key]))
	for m := range s.index[key] {
		models = append(models, m)
	}
	s.mu.Unlock()

	ctx := context.Background()
	now := s.currentHour()
	out := make(map[string]int, len(models))
	for _, model := range models {
		total := 0
		for h := now - 23; h <= now; h++ {
			raw, err := s.cache.Get(ctx, bucketKey(key, model, h))
			if err != nil {
				continue
			}
			if n, convErr := strconv.Atoi(string(raw)); convErr == nil {
				total += n
			}
		}
		out[model] = total
	}
	return out
}
