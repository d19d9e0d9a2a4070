package keypool

import "github.com/quotamux/quotamux/internal/rpmwindow"

// Reconfigure builds a fresh Scheduler for a new key list, carrying
// forward the reconfigure contract: surviving keys keep their failure
// counters, and the rotation cursor is positioned so the first Choose
// on the new Scheduler returns the key the old cursor was about to
// yield (or the nearest surviving key in the old rotation order, or
// the front of the new list if nothing survived). RPM history and
// learned token-capacity scores are intentionally discarded: both are
// short-lived observations that become accurate again within one
// window.
func (s *Scheduler) Reconfigure(newKeys []Key, newLimits map[string]int) *Scheduler {
	s.pool.mu.Lock()
	oldKeys := make([]Key, len(s.pool.keys))
	copy(oldKeys, s.pool.keys)
	oldCursor := s.pool.cursor
	s.pool.mu.Unlock()

	next := &Scheduler{
		name:          s.name,
		pool:          newPool(newKeys),
		tracker:       rebuildTracker(s, newLimits),
		failures:      s.failures.Preserve(newKeys),
		tokenCapacity: NewTokenCapacity(),
		preferCache:   s.preferCache,
		maxRetries:    s.maxRetries,
		clock:         s.clock,
		logger:        s.logger,
	}
	next.pool.cursor = nextCursor(oldKeys, oldCursor, next.pool.index)
	return next
}

// nextCursor implements the reconfigure cursor hand-off rule.
func nextCursor(oldKeys []Key, oldCursor int, newIndex map[Key]int) int {
	n := len(oldKeys)
	if n == 0 || len(newIndex) == 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		candidate := oldKeys[(oldCursor+i)%n]
		if idx, ok := newIndex[candidate]; ok {
			return idx
		}
	}
	return 0
}

func rebuildTracker(s *Scheduler, newLimits map[string]int) *rpmwindow.Tracker {
	limits := newLimits
	if limits == nil {
		limits = s.tracker.Limits()
	}
	return rpmwindow.New(limits, s.tracker.Window(), s.clock)
}
