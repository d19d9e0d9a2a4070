package keypool

import "sync"

// TokenCapacity holds a learned, per-key estimate of remaining
// input/output token budget, expressed as a 0..1 score where 1.0 means
// "no observed pressure yet" and lower values mean less headroom. It
// is consulted only as a tie-break in the least-loaded fallback
// step 4): a key that is otherwise tied on RPM ratio with another is
// preferred if it has more learned token headroom. It is never a
// primary selection criterion and never blocks a choice on its own.
type TokenCapacity struct {
	mu     sync.Mutex
	scores map[Key]float64
}

// NewTokenCapacity returns an empty TokenCapacity tracker. Unobserved
// keys score 1.0 (unlimited) until Observe is called for them.
func NewTokenCapacity() *TokenCapacity {
	return &TokenCapacity{scores: make(map[Key]float64)}
}

// Score returns key's learned capacity score, defaulting to 1.0 for a
// key that has never been observed.
func (t *TokenCapacity) Score(key Key) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scores[key]; ok {
		return s
	}
	return 1.0
}

// Observe records a fresh capacity score for key, derived by the
// caller from upstream token-usage headers or estimates. Scores are
// clamped to [0, 1].
func (t *TokenCapacity) Observe(key Key, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores[key] = score
}

// Reset discards all learned scores. Reconfigure does not call it; it
// starts the new Scheduler with a fresh TokenCapacity instead.
func (t *TokenCapacity) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores = make(map[Key]float64)
}
