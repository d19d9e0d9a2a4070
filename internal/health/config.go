// Package health provides the Retry Dispatcher's optional per-pool
// health gate: a circuit breaker that trips on consecutive pool-wide
// failures, independent of and in addition to the per-key Failure
// Accountant in internal/failure.
//
// The breaker is consulted, never mutated, by the Key Scheduler
// itself; only the dispatcher reports outcomes to it.
package health

import "time"

// Default configuration values.
const (
	DefaultFailureThreshold = 5     // consecutive failures to open circuit
	DefaultOpenDurationMS   = 30000 // 30 seconds before half-open
	DefaultHalfOpenProbes   = 3     // probes allowed in half-open state
)

// CircuitBreakerConfig defines circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenDurationMS is the duration in milliseconds the circuit stays open before
	// transitioning to half-open state. Default: 30000 (30 seconds)
	OpenDurationMS int `yaml:"open_duration_ms"`

	// HalfOpenProbes is the number of probe requests allowed in half-open state.
	// If all probes succeed, circuit closes. If any fails, circuit reopens.
	// Default: 3
	HalfOpenProbes int `yaml:"half_open_probes"`
}

// GetFailureThreshold returns the configured failure threshold or default 5.
func (c *CircuitBreakerConfig) GetFailureThreshold() int {
	if c.FailureThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.FailureThreshold
}

// GetOpenDuration returns the open duration as time.Duration.
// Returns default 30s if not set or negative.
func (c *CircuitBreakerConfig) GetOpenDuration() time.Duration {
	if c.OpenDurationMS <= 0 {
		return time.Duration(DefaultOpenDurationMS) * time.Millisecond
	}
	return time.Duration(c.OpenDurationMS) * time.Millisecond
}

// GetHalfOpenProbes returns the configured half-open probes or default 3.
func (c *CircuitBreakerConfig) GetHalfOpenProbes() int {
	if c.HalfOpenProbes <= 0 {
		return DefaultHalfOpenProbes
	}
	return c.HalfOpenProbes
}

// Config wraps the per-pool circuit breaker configuration. It is
// optional: a pool with a zero-value Config still gets a breaker, just
// one using the package defaults above.
type Config struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}
