// Package failure implements the Failure Accountant: a per-key counter
// of failures with a disable threshold. A success does not reset the
// counter and there is no decay; operators reset explicitly via the
// admin surface.
package failure

import "sync"

// Accountant holds per-key failure counters for one pool.
type Accountant struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
}

// New returns an Accountant that treats a key as disabled once its
// counter reaches threshold.
func New(threshold int) *Accountant {
	return &Accountant{
		threshold: threshold,
		counts:    make(map[string]int),
	}
}

// Increment bumps key's failure counter by one and returns the new
// value.
func (a *Accountant) Increment(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[key]++
	return a.counts[key]
}

// Count returns key's current failure counter (0 if never seen).
func (a *Accountant) Count(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[key]
}

// IsDisabled reports whether key's counter has reached the threshold.
func (a *Accountant) IsDisabled(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[key] >= a.threshold
}

// Reset zeroes one key's counter.
func (a *Accountant) Reset(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, key)
}

// ResetAll zeroes every tracked counter.
func (a *Accountant) ResetAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts = make(map[string]int)
}

// Classify partitions keys into valid (counter < threshold) and
// invalid (counter >= threshold) maps of key to current count. Keys
// never seen (count 0) are always valid.
func (a *Accountant) Classify(keys []string) (valid, invalid map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	valid = make(map[string]int)
	invalid = make(map[string]int)
	for _, k := range keys {
		count := a.counts[k]
		if count >= a.threshold {
			invalid[k] = count
		} else {
			valid[k] = count
		}
	}
	return valid, invalid
}

// Preserve carries surviving keys' counters into a freshly constructed
// Accountant for the same pool, per the reconfigure contract. Keys
// absent from survivors start at 0 in the returned Accountant.
func (a *Accountant) Preserve(survivors []string) *Accountant {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := New(a.threshold)
	for _, k := range survivors {
		if c, ok := a.counts[k]; ok {
			next.counts[k] = c
		}
	}
	return next
}

// Threshold returns MAX_FAILURES for this accountant.
func (a *Accountant) Threshold() int {
	return a.threshold
}
