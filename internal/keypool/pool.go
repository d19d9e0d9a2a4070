// Package keypool implements the Key Scheduler: the component that
// hands out a credential for a given model under a per-key RPM
// ceiling, rotating through a pool, falling back to the least-loaded
// key, and tracking per-key failures. Two independent Schedulers exist
// in the running process, one per credential pool (primary/auxiliary);
// they share no state and no locks.
package keypool

import "sync"

// Key is an opaque credential string. It is the identity the
// Scheduler, RPM Tracker and Failure Accountant all key off of.
type Key = string

// pool holds the ordered key list and the rotation/cache-affinity
// state for one Scheduler. Its mutex is the "cursor lock" referenced
// throughout the package: it is always acquired before the RPM
// Tracker's internal lock, never after.
type pool struct {
	mu        sync.Mutex
	keys      []Key
	index     map[Key]int
	cursor    int
	cached    Key
	hasCached bool
}

func newPool(keys []Key) *pool {
	idx := make(map[Key]int, len(keys))
	cp := make([]Key, len(keys))
	copy(cp, keys)
	for i, k := range cp {
		idx[k] = i
	}
	return &pool{keys: cp, index: idx}
}

// Len returns the number of keys registered in the pool.
func (p *pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Keys returns a copy of the pool's ordered key list.
func (p *pool) Keys() []Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Key, len(p.keys))
	copy(out, p.keys)
	return out
}
