// Package rpmwindow implements the sliding-window RPM (requests per
// minute) accounting shared by both key pools. A Tracker answers "how
// many requests has this (key, model) pair recorded in the trailing
// window" and enforces per-model limits looked up by exact match or,
// failing that, by family token (lite/flash/pro).
package rpmwindow

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quotamux/quotamux/internal/clock"
)

// DefaultWindow is the trailing window length used when a caller does
// not override it.
const DefaultWindow = 60 * time.Second

// DefaultFallbackLimit is used when limitFor cannot find any entry,
// exact or fuzzy, and the configured limit map is empty.
const DefaultFallbackLimit = 10

// ModelUsage is one (model) entry of a key's usage snapshot.
type ModelUsage struct {
	CurrentRPM      int
	RPMLimit        int
	UsagePercentage float64
}

// Tracker holds, per (key, model), an ordered slice of request
// timestamps falling within the trailing window. All state for one
// pool lives behind a single mutex; the Scheduler acquires its cursor
// lock before this one and never the reverse.
type Tracker struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	limits map[string]int
	// requests[key][model] is kept in insertion (and therefore time)
	// order; expired entries are trimmed from the front lazily.
	requests map[string]map[string][]time.Time
}

// New returns a Tracker with the given per-model limit map, window
// length (DefaultWindow if zero) and clock.
func New(limits map[string]int, window time.Duration, c clock.Clock) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	limitsCopy := make(map[string]int, len(limits))
	for k, v := range limits {
		limitsCopy[k] = v
	}
	return &Tracker{
		clock:    c,
		window:   window,
		limits:   limitsCopy,
		requests: make(map[string]map[string][]time.Time),
	}
}

// Count clears expired timestamps for (key, model) and returns the
// remaining count. A key/model never seen before returns 0.
func (t *Tracker) Count(key, model string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(key, model)
}

func (t *Tracker) countLocked(key, model string) int {
	perModel, ok := t.requests[key]
	if !ok {
		return 0
	}
	times, ok := perModel[model]
	if !ok {
		return 0
	}
	times = t.expireLocked(times)
	perModel[model] = times
	return len(times)
}

// expireLocked drops timestamps older than now-window from the head of
// an ordered slice. Callers must hold t.mu.
func (t *Tracker) expireLocked(times []time.Time) []time.Time {
	cutoff := t.clock.Now().Add(-t.window)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	remaining := make([]time.Time, len(times)-i)
	copy(remaining, times[i:])
	return remaining
}

// Record appends the current time to (key, model)'s window.
func (t *Tracker) Record(key, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(key, model)
}

func (t *Tracker) recordLocked(key, model string) {
	perModel, ok := t.requests[key]
	if !ok {
		perModel = make(map[string][]time.Time)
		t.requests[key] = perModel
	}
	perModel[model] = append(t.expireLocked(perModel[model]), t.clock.Now())
}

// WithinLimit reports whether key's current count for model is below
// the configured limit.
func (t *Tracker) WithinLimit(key, model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked(key, model) < t.limitForLocked(model)
}

// LimitFor resolves the RPM ceiling for model: exact match first, then
// a fuzzy family-token match (lite, flash-but-not-flash-lite, pro)
// against the configured keys, then the minimum configured limit, then
// DefaultFallbackLimit if no limits are configured at all.
func (t *Tracker) LimitFor(model string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitForLocked(model)
}

func (t *Tracker) limitForLocked(model string) int {
	if l, ok := t.limits[model]; ok {
		return l
	}

	modelLower := strings.ToLower(model)
	for configModel, limit := range t.limits {
		parts := strings.Split(strings.ToLower(configModel), "-")
		switch {
		case containsToken(parts, "lite") && strings.Contains(modelLower, "lite"):
			return limit
		case containsToken(parts, "flash") && !containsToken(parts, "lite") &&
			strings.Contains(modelLower, "flash") && !strings.Contains(modelLower, "lite"):
			return limit
		case containsToken(parts, "pro") && strings.Contains(modelLower, "pro"):
			return limit
		}
	}

	if len(t.limits) == 0 {
		return DefaultFallbackLimit
	}
	min := -1
	for _, l := range t.limits {
		if min == -1 || l < min {
			min = l
		}
	}
	return min
}

func containsToken(parts []string, token string) bool {
	for _, p := range parts {
		if p == token {
			return true
		}
	}
	return false
}

// KeyUsage is one key's full per-model snapshot.
type KeyUsage map[string]ModelUsage

// Snapshot returns, for every (key, model) pair with a non-empty
// window, the current count, configured limit, and usage percentage.
// Keys/models with no recorded requests are omitted; callers that need
// "is this key known at all" track that separately (the Scheduler
// does, via its pool membership).
func (t *Tracker) Snapshot() map[string]KeyUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]KeyUsage, len(t.requests))
	keys := make([]string, 0, len(t.requests))
	for k := range t.requests {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		perModel := t.requests[key]
		usage := make(KeyUsage, len(perModel))
		for model := range perModel {
			count := t.countLocked(key, model)
			limit := t.limitForLocked(model)
			pct := 0.0
			if limit > 0 {
				pct = float64(count) / float64(limit) * 100
			}
			usage[model] = ModelUsage{
				CurrentRPM:      count,
				RPMLimit:        limit,
				UsagePercentage: pct,
			}
		}
		out[key] = usage
	}
	return out
}

// Limits returns a copy of the configured per-model limit map.
func (t *Tracker) Limits() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.limits))
	for k, v := range t.limits {
		out[k] = v
	}
	return out
}

// Window returns the configured trailing-window duration.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Reset discards all recorded history for every key/model. The
// Scheduler's reconfigure procedure does not call it; it builds a
// fresh Tracker instead, with the same effect.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = make(map[string]map[string][]time.Time)
}
