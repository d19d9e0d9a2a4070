// Package config provides configuration loading and parsing for quotamux.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/mo"

	"github.com/quotamux/quotamux/internal/cache"
	"github.com/quotamux/quotamux/internal/health"
)

// Configuration errors.
var (
	ErrKeyRequired = errors.New("config: key is required")
)

// RuntimeConfig defines the interface for accessing runtime configuration that supports hot-reload.
// Components that need to observe config changes should use this interface instead of
// holding a direct *Config pointer, which would become stale after hot-reload.
//
// Usage pattern:
//
//	func (d *Dispatcher) Do(ctx context.Context, model string, req Request) (Response, error) {
//		cfg := d.runtime.Get()
//		limit := cfg.RPMLimits[model]
//		// Use limit for this request...
//	}
type RuntimeConfig interface {
	Get() *Config
}

// InvalidRPMOverrideError is returned when a key's per-key RPM override is negative.
type InvalidRPMOverrideError struct {
	Key      string
	Override int
}

func (e InvalidRPMOverrideError) Error() string {
	return fmt.Sprintf("config: rpm_override must be >= 0, got %d for key %q", e.Override, e.Key)
}

// InvalidRPMLimitError is returned when a configured model RPM limit is non-positive.
type InvalidRPMLimitError struct {
	Model string
	Limit int
}

func (e InvalidRPMLimitError) Error() string {
	return fmt.Sprintf("config: rpm_limits[%s] must be > 0, got %d", e.Model, e.Limit)
}

// Log level constants.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// DefaultRPMWindowSeconds is used when RPMWindowSeconds is unset.
const DefaultRPMWindowSeconds = 60

// DefaultMaxFailures is used when MaxFailures is unset.
const DefaultMaxFailures = 5

// DefaultMaxRetries is used when MaxRetries is unset.
const DefaultMaxRetries = 3

// Config represents the complete quotamux configuration: two credential
// pools (direct API keys and Vertex-style service-account keys) sharing
// the same Key Scheduler machinery, plus the ambient server/logging/cache
// stack around them.
type Config struct {
	APIKeys          []KeyEntry                  `yaml:"api_keys"           toml:"api_keys"`
	VertexAPIKeys    []KeyEntry                  `yaml:"vertex_api_keys"    toml:"vertex_api_keys"`
	RPMLimits        map[string]int              `yaml:"rpm_limits"         toml:"rpm_limits"`
	MaxFailures      int                         `yaml:"max_failures"       toml:"max_failures"`
	MaxRetries       int                         `yaml:"max_retries"        toml:"max_retries"`
	RPMWindowSeconds int                         `yaml:"rpm_window_seconds" toml:"rpm_window_seconds"`
	RPMPreferCache   bool                        `yaml:"rpm_prefer_cache"   toml:"rpm_prefer_cache"`
	VertexProjectID  string                      `yaml:"vertex_project_id"  toml:"vertex_project_id"`
	VertexLocation   string                      `yaml:"vertex_location"    toml:"vertex_location"`
	Server           ServerConfig                `yaml:"server"             toml:"server"`
	Logging          LoggingConfig               `yaml:"logging"            toml:"logging"`
	Cache            cache.Config                `yaml:"cache"              toml:"cache"`
	CircuitBreaker   health.CircuitBreakerConfig `yaml:"circuit_breaker"    toml:"circuit_breaker"`
}

// KeyEntry is one credential entry in a pool. RPMOverride, when positive,
// is a per-key ceiling consulted by callers that want a tighter limit than
// the model-level RPMLimits entry; the RPM Tracker itself remains keyed
// by (key, model), not per-key override.
type KeyEntry struct {
	Key         string `yaml:"key"          toml:"key"`
	RPMOverride int    `yaml:"rpm_override" toml:"rpm_override"`
}

// Validate checks KeyEntry for errors.
func (k *KeyEntry) Validate() error {
	if k.Key == "" {
		return ErrKeyRequired
	}
	if k.RPMOverride < 0 {
		return InvalidRPMOverrideError{Key: k.Key, Override: k.RPMOverride}
	}
	return nil
}

// GetRPMOverrideOption returns the per-key RPM override as an Option.
// Returns None if RPMOverride is zero or negative (no override set).
func (k *KeyEntry) GetRPMOverrideOption() mo.Option[int] {
	if k.RPMOverride <= 0 {
		return mo.None[int]()
	}
	return mo.Some(k.RPMOverride)
}

// GetMaxFailures returns MaxFailures with a default fallback.
func (c *Config) GetMaxFailures() int {
	if c.MaxFailures <= 0 {
		return DefaultMaxFailures
	}
	return c.MaxFailures
}

// GetMaxRetries returns MaxRetries with a default fallback.
func (c *Config) GetMaxRetries() int {
	if c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// GetRPMWindow returns RPMWindowSeconds as a Duration, with a default
// fallback of DefaultRPMWindowSeconds.
func (c *Config) GetRPMWindow() time.Duration {
	if c.RPMWindowSeconds <= 0 {
		return DefaultRPMWindowSeconds * time.Second
	}
	return time.Duration(c.RPMWindowSeconds) * time.Second
}

// APIKeyStrings returns the primary pool's keys as plain strings, in
// configured order, for handing to the Key Scheduler's pool constructor.
func (c *Config) APIKeyStrings() []string {
	return keyStrings(c.APIKeys)
}

// VertexAPIKeyStrings returns the auxiliary pool's keys as plain strings.
func (c *Config) VertexAPIKeyStrings() []string {
	return keyStrings(c.VertexAPIKeys)
}

func keyStrings(entries []KeyEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

// ServerConfig defines server-level settings for the admin HTTP surface.
type ServerConfig struct {
	Listen        string     `yaml:"listen"         toml:"listen"`
	Auth          AuthConfig `yaml:"auth"           toml:"auth"`
	TimeoutMS     int        `yaml:"timeout_ms"     toml:"timeout_ms"`
	MaxConcurrent int        `yaml:"max_concurrent" toml:"max_concurrent"`
}

// AuthConfig defines authentication settings for the admin HTTP surface.
type AuthConfig struct {
	// BearerToken is the expected value for the Authorization: Bearer header.
	// If empty, bearer authentication rejects every request (localhost
	// bypass, if enabled, is still honored).
	BearerToken string `yaml:"bearer_token" toml:"bearer_token"`

	// AllowLocalhostBypass admits requests from a loopback address without
	// a bearer token.
	AllowLocalhostBypass bool `yaml:"allow_localhost_bypass" toml:"allow_localhost_bypass"`
}

// IsEnabled returns true if bearer authentication is configured.
func (a *AuthConfig) IsEnabled() bool {
	return a.BearerToken != ""
}

// GetTimeoutOption returns the timeout as an Option.
// Returns None if TimeoutMS is zero (use default).
func (s *ServerConfig) GetTimeoutOption() mo.Option[time.Duration] {
	if s.TimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(s.TimeoutMS) * time.Millisecond)
}

// GetMaxConcurrentOption returns the max concurrent setting as an Option.
// Returns None if MaxConcurrent is zero (unlimited).
func (s *ServerConfig) GetMaxConcurrentOption() mo.Option[int] {
	if s.MaxConcurrent <= 0 {
		return mo.None[int]()
	}
	return mo.Some(s.MaxConcurrent)
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level        string       `yaml:"level"         toml:"level"`
	Format       string       `yaml:"format"        toml:"format"`
	Output       string       `yaml:"output"        toml:"output"`
	Pretty       bool         `yaml:"pretty"        toml:"pretty"`
	DebugOptions DebugOptions `yaml:"debug_options" toml:"debug_options"`
}

// ParseLevel converts a string log level to zerolog.Level.
// Returns zerolog.InfoLevel if the level string is invalid.
func (l *LoggingConfig) ParseLevel() zerolog.Level {
	switch strings.ToLower(l.Level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// EnableAllDebugOptions turns on all debug logging features.
// Used by the --debug CLI flag shortcut.
func (l *LoggingConfig) EnableAllDebugOptions() {
	l.Level = LevelDebug
	l.DebugOptions = DebugOptions{
		LogRequestBody:     true,
		LogResponseHeaders: true,
		MaxBodyLogSize:     1000,
	}
}

// DebugOptions defines granular debug logging controls.
type DebugOptions struct {
	// LogRequestBody enables logging of request body in debug mode.
	// Body is truncated to MaxBodyLogSize to prevent massive logs.
	LogRequestBody bool `yaml:"log_request_body" toml:"log_request_body"`

	// LogResponseHeaders enables logging of response headers in debug mode.
	LogResponseHeaders bool `yaml:"log_response_headers" toml:"log_response_headers"`

	// MaxBodyLogSize is the maximum number of bytes to log from request/response bodies.
	// Default: 1000 bytes. Zero or a negative value falls back to the default.
	MaxBodyLogSize int `yaml:"max_body_log_size" toml:"max_body_log_size"`
}

// GetMaxBodyLogSize returns the effective max body log size with default fallback.
func (d *DebugOptions) GetMaxBodyLogSize() int {
	if d.MaxBodyLogSize <= 0 {
		return 1000
	}
	return d.MaxBodyLogSize
}

// IsEnabled returns true if any debug option is enabled.
func (d *DebugOptions) IsEnabled() bool {
	return d.LogRequestBody || d.LogResponseHeaders
}

// GetMaxBodyLogSizeOption returns the max body log size as an Option.
// Returns None if the value is not explicitly set (zero or negative).
func (d *DebugOptions) GetMaxBodyLogSizeOption() mo.Option[int] {
	if d.MaxBodyLogSize <= 0 {
		return mo.None[int]()
	}
	return mo.Some(d.MaxBodyLogSize)
}
