package cache

import "errors"

// Sentinel errors surfaced by every Cache implementation.
//
//	data, err := c.Get(ctx, key)
//	if errors.Is(err, cache.ErrNotFound) {
//		// bucket not recorded for this hour yet
//	}
var (
	// ErrNotFound means key has no entry (or its TTL already expired).
	ErrNotFound = errors.New("cache: key not found")

	// ErrClosed means Close was already called; every other method
	// also returns it once closed.
	ErrClosed = errors.New("cache: cache is closed")
)
