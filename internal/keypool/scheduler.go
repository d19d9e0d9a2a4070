package keypool

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotamux/quotamux/internal/clock"
	"github.com/quotamux/quotamux/internal/failure"
	"github.com/quotamux/quotamux/internal/rpmwindow"
)

// Scheduler chooses a Key for a given model, combining cache-affinity,
// RPM headroom, and failure state. One Scheduler serves exactly
// one pool (primary or auxiliary); pools never share a Scheduler.
type Scheduler struct {
	name string // "primary" or "auxiliary", for logging only

	pool          *pool
	tracker       *rpmwindow.Tracker
	failures      *failure.Accountant
	tokenCapacity *TokenCapacity

	preferCache bool
	maxRetries  int
	clock       clock.Clock
	logger      zerolog.Logger
}

// Config configures a new Scheduler.
type Config struct {
	Name        string
	Keys        []Key
	RPMLimits   map[string]int
	RPMWindow   int // seconds; 0 uses rpmwindow.DefaultWindow
	PreferCache bool
	MaxFailures int
	MaxRetries  int
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// New constructs a Scheduler from Config.
func New(cfg Config) *Scheduler {
	c := cfg.Clock
	if c == nil {
		c = clock.NewReal()
	}
	windowDuration := rpmwindow.DefaultWindow
	if cfg.RPMWindow > 0 {
		windowDuration = time.Duration(cfg.RPMWindow) * time.Second
	}
	return &Scheduler{
		name:          cfg.Name,
		pool:          newPool(cfg.Keys),
		tracker:       rpmwindow.New(cfg.RPMLimits, windowDuration, c),
		failures:      failure.New(cfg.MaxFailures),
		tokenCapacity: NewTokenCapacity(),
		preferCache:   cfg.PreferCache,
		maxRetries:    cfg.MaxRetries,
		clock:         c,
		logger:        cfg.Logger.With().Str("pool", cfg.Name).Logger(),
	}
}

// Name returns the pool's label ("primary"/"auxiliary").
func (s *Scheduler) Name() string { return s.name }

// Keys returns a copy of the pool's ordered key list.
func (s *Scheduler) Keys() []Key { return s.pool.Keys() }

// TokenCapacity exposes the scheduler's learned token-capacity
// tracker, so the Retry Dispatcher's observability hook can feed it
// fresh observations.
func (s *Scheduler) TokenCapacity() *TokenCapacity { return s.tokenCapacity }

// Choose implements the key-selection algorithm.
func (s *Scheduler) Choose(model string) Key {
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	return s.chooseLocked(model)
}

func (s *Scheduler) chooseLocked(model string) Key {
	n := len(s.pool.keys)
	if n == 0 {
		return ""
	}
	limit := s.tracker.LimitFor(model)

	// Step 2: cache-affinity path.
	if s.preferCache && s.pool.hasCached {
		cached := s.pool.cached
		if _, ok := s.pool.index[cached]; ok &&
			!s.failures.IsDisabled(cached) && s.tracker.Count(cached, model) < limit {
			s.tracker.Record(cached, model)
			return cached
		}
	}

	// Step 3: rotating scan, one full lap from the cursor.
	for i := 0; i < n; i++ {
		idx := (s.pool.cursor + i) % n
		k := s.pool.keys[idx]
		if !s.failures.IsDisabled(k) && s.tracker.Count(k, model) < limit {
			s.advanceAndCacheLocked(idx)
			s.tracker.Record(k, model)
			return k
		}
	}

	// Step 4: least-loaded fallback among non-disabled keys, tie-break
	// on learned token capacity, then insertion order.
	best := -1
	bestRatio := math.Inf(1)
	bestScore := -1.0
	for i, k := range s.pool.keys {
		if s.failures.IsDisabled(k) {
			continue
		}
		ratio := float64(s.tracker.Count(k, model)) / float64(limit)
		score := s.tokenCapacity.Score(k)
		switch {
		case best == -1, ratio < bestRatio:
			best, bestRatio, bestScore = i, ratio, score
		case ratio == bestRatio && score > bestScore:
			best, bestScore = i, score
		}
	}
	if best != -1 {
		k := s.pool.keys[best]
		s.advanceAndCacheLocked(best)
		s.tracker.Record(k, model)
		return k
	}

	// Step 5: forced path. Every key is disabled; serve from the
	// cursor anyway rather than fail the caller outright.
	idx := s.pool.cursor % n
	k := s.pool.keys[idx]
	s.advanceAndCacheLocked(idx)
	s.tracker.Record(k, model)
	s.logger.Warn().Str("key", k).Str("model", model).
		Msg("all keys disabled; forcing selection")
	return k
}

func (s *Scheduler) advanceAndCacheLocked(chosenIdx int) {
	n := len(s.pool.keys)
	s.pool.cursor = (chosenIdx + 1) % n
	s.pool.cached = s.pool.keys[chosenIdx]
	s.pool.hasCached = true
}

// OnFailure increments key's failure
// counter; if attempt is still within the retry budget it clears the
// cache-affinity slot (forcing a fresh selection) and returns the next
// key; otherwise it returns ("", false) to signal the retry budget is
// exhausted.
func (s *Scheduler) OnFailure(key Key, attempt int, model string) (Key, bool) {
	s.failures.Increment(key)
	if attempt >= s.maxRetries {
		return "", false
	}

	s.pool.mu.Lock()
	if s.pool.hasCached && s.pool.cached == key {
		s.pool.hasCached = false
	}
	s.pool.mu.Unlock()

	next := s.Choose(model)
	return next, true
}

// ResetFailures resets one key's failure counter.
func (s *Scheduler) ResetFailures(key Key) { s.failures.Reset(key) }

// ResetAllFailures resets every key's failure counter.
func (s *Scheduler) ResetAllFailures() { s.failures.ResetAll() }

// Classify partitions the pool's keys by failure threshold.
func (s *Scheduler) Classify() (valid, invalid map[Key]int) {
	return s.failures.Classify(s.pool.Keys())
}

// FirstValid returns the first non-disabled key, or the first key if
// all are disabled, or "" if the pool is empty.
func (s *Scheduler) FirstValid() Key {
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	if len(s.pool.keys) == 0 {
		return ""
	}
	for _, k := range s.pool.keys {
		if !s.failures.IsDisabled(k) {
			return k
		}
	}
	return s.pool.keys[0]
}

// KeySnapshot is one key's entry in a Scheduler snapshot.
type KeySnapshot struct {
	Models       map[string]rpmwindow.ModelUsage
	IsCurrent    bool
	FailureCount int
}

// Snapshot returns the RPM Tracker's per-key usage plus, for every key
// in the pool, whether it is the current cached key and its failure
// count.
func (s *Scheduler) Snapshot() map[Key]KeySnapshot {
	s.pool.mu.Lock()
	keys := make([]Key, len(s.pool.keys))
	copy(keys, s.pool.keys)
	cached := s.pool.cached
	hasCached := s.pool.hasCached
	s.pool.mu.Unlock()

	trackerSnap := s.tracker.Snapshot()
	out := make(map[Key]KeySnapshot, len(keys))
	for _, k := range keys {
		out[k] = KeySnapshot{
			Models:       trackerSnap[k],
			IsCurrent:    hasCached && cached == k,
			FailureCount: s.failures.Count(k),
		}
	}
	return out
}

// RPMLimits returns the configured model->limit map.
func (s *Scheduler) RPMLimits() map[string]int { return s.tracker.Limits() }

// RPMWindowSeconds returns the configured sliding-window length in
// whole seconds.
func (s *Scheduler) RPMWindowSeconds() int {
	return int(s.tracker.Window() / time.Second)
}

// PreferCache reports whether cache-affinity selection is enabled.
func (s *Scheduler) PreferCache() bool { return s.preferCache }
