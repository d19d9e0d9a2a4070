package config

import (
	"github.com/quotamux/quotamux/internal/cache"
	"github.com/quotamux/quotamux/internal/health"
)

// Exported for testing in external test package (config_test).

// DetectFormat exports detectFormat for testing.
var DetectFormat = detectFormat

// MakeTestConfig builds a minimal valid Config for tests.
func MakeTestConfig() Config {
	return Config{
		APIKeys: []KeyEntry{
			{Key: "sk-test-1"},
			{Key: "sk-test-2", RPMOverride: 30},
		},
		RPMLimits:        map[string]int{"claude-3-opus": 60},
		MaxFailures:      5,
		MaxRetries:       3,
		RPMWindowSeconds: 60,
		Server:           MakeTestServerConfig(),
		Logging:          MakeTestLoggingConfig(),
		Cache:            MakeTestCacheConfig(),
		CircuitBreaker:   MakeTestCircuitBreakerConfig(),
	}
}

// MakeTestServerConfig builds a minimal valid ServerConfig for tests.
func MakeTestServerConfig() ServerConfig {
	return ServerConfig{
		Listen:        "127.0.0.1:8080",
		Auth:          MakeTestAuthConfig(),
		TimeoutMS:     30000,
		MaxConcurrent: 100,
	}
}

// MakeTestAuthConfig builds a minimal AuthConfig for tests.
func MakeTestAuthConfig() AuthConfig {
	return AuthConfig{
		BearerToken:          "test-bearer-token",
		AllowLocalhostBypass: true,
	}
}

// MakeTestKeyEntry builds a KeyEntry for tests.
func MakeTestKeyEntry(key string, rpmOverride int) KeyEntry {
	return KeyEntry{Key: key, RPMOverride: rpmOverride}
}

// MakeTestLoggingConfig builds a minimal LoggingConfig for tests.
func MakeTestLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:        LevelInfo,
		Format:       "json",
		Output:       "stdout",
		Pretty:       false,
		DebugOptions: MakeTestDebugOptions(),
	}
}

// MakeTestDebugOptions builds a DebugOptions for tests.
func MakeTestDebugOptions() DebugOptions {
	return DebugOptions{
		LogRequestBody:     false,
		LogResponseHeaders: false,
		MaxBodyLogSize:     1000,
	}
}

// MakeTestCacheConfig builds a minimal valid cache.Config for tests.
func MakeTestCacheConfig() cache.Config {
	return cache.Config{
		Mode:      cache.ModeSingle,
		Ristretto: cache.DefaultRistrettoConfig(),
	}
}

// MakeTestCircuitBreakerConfig builds a minimal valid health.CircuitBreakerConfig for tests.
func MakeTestCircuitBreakerConfig() health.CircuitBreakerConfig {
	return health.CircuitBreakerConfig{
		FailureThreshold: health.DefaultFailureThreshold,
		OpenDurationMS:   health.DefaultOpenDurationMS,
		HalfOpenProbes:   health.DefaultHalfOpenProbes,
	}
}

// MakeTestValidationError builds a ValidationError with the given messages.
func MakeTestValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Errors: msgs}
}

func boolPtr(b bool) *bool {
	return &b
}
