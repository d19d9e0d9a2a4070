// Package config provides configuration loading, parsing, and validation for quotamux.
package config

import (
	"net"
	"strings"
)

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"text":    true, // Alias for console
	"pretty":  true,
}

// Validate checks the configuration for errors.
// It validates all required fields, valid values, and cross-field constraints.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{Errors: nil}

	validateServer(c, errs)
	validateKeyPools(c, errs)
	validateRPM(c, errs)
	validateVertex(c, errs)
	validateLogging(c, errs)

	return errs.ToError()
}

// validateServer validates the server configuration section.
func validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Listen == "" {
		errs.Add("server.listen is required")
	} else {
		validateListenAddress(cfg.Server.Listen, errs)
	}

	if cfg.Server.TimeoutMS < 0 {
		errs.Add("server.timeout_ms must be >= 0")
	}

	if cfg.Server.MaxConcurrent < 0 {
		errs.Add("server.max_concurrent must be >= 0")
	}
}

// validateListenAddress validates a listen address in host:port format.
func validateListenAddress(addr string, errs *ValidationError) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		errs.Addf("server.listen must be in host:port format (got %q)", addr)
		return
	}

	if host != "" {
		if ip := net.ParseIP(host); ip == nil {
			if strings.ContainsAny(host, " \t\n") {
				errs.Add("server.listen host contains invalid characters")
			}
		}
	}

	if port == "" {
		errs.Add("server.listen port is required")
	}
}

// validateKeyPools validates the api_keys and vertex_api_keys entries and
// the failure/retry knobs that govern the key scheduler built around them.
func validateKeyPools(cfg *Config, errs *ValidationError) {
	if len(cfg.APIKeys) == 0 && len(cfg.VertexAPIKeys) == 0 {
		errs.Add("at least one of api_keys or vertex_api_keys is required")
	}

	validateKeyEntries(cfg.APIKeys, "api_keys", errs)
	validateKeyEntries(cfg.VertexAPIKeys, "vertex_api_keys", errs)

	if cfg.MaxFailures < 0 {
		errs.Add("max_failures must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		errs.Add("max_retries must be >= 0")
	}
}

func validateKeyEntries(entries []KeyEntry, field string, errs *ValidationError) {
	seen := make(map[string]bool, len(entries))
	for idx, entry := range entries {
		if entry.Key == "" {
			errs.Addf("%s[%d].key is required", field, idx)
			continue
		}
		if seen[entry.Key] {
			errs.Addf("%s[%d].key is a duplicate of an earlier entry", field, idx)
		}
		seen[entry.Key] = true

		if entry.RPMOverride < 0 {
			errs.Addf("%s[%d].rpm_override must be >= 0 (got %d)", field, idx, entry.RPMOverride)
		}
	}
}

// validateRPM validates the rpm_limits map and the window/cache-preference knobs.
func validateRPM(cfg *Config, errs *ValidationError) {
	for model, limit := range cfg.RPMLimits {
		if limit <= 0 {
			errs.Addf("rpm_limits[%s] must be > 0 (got %d)", model, limit)
		}
	}

	if cfg.RPMWindowSeconds < 0 {
		errs.Add("rpm_window_seconds must be >= 0")
	}
}

// validateVertex requires a project and location whenever the auxiliary
// Vertex pool is populated; without both, the Vertex provider cannot mint
// an OAuth2 token exchange request.
func validateVertex(cfg *Config, errs *ValidationError) {
	if len(cfg.VertexAPIKeys) == 0 {
		return
	}

	if cfg.VertexProjectID == "" {
		errs.Add("vertex_project_id is required when vertex_api_keys is non-empty")
	}
	if cfg.VertexLocation == "" {
		errs.Add("vertex_location is required when vertex_api_keys is non-empty")
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(cfg *Config, errs *ValidationError) {
	if !validLogLevels[cfg.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			cfg.Logging.Level)
	}

	if !validLogFormats[cfg.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, text, pretty)",
			cfg.Logging.Format)
	}

	if cfg.Logging.DebugOptions.MaxBodyLogSize < 0 {
		errs.Add("logging.debug_options.max_body_log_size must be >= 0")
	}
}
