package cache

import (
	"github.com/rs/zerolog"
)

// Logger is silent until SetLogger is called, so a cache built in a
// test or before DI wiring runs never writes to stderr unexpectedly.
var Logger = zerolog.Nop()

// SetLogger points every cache backend's log output at l, tagged with
// component: cache. The DI layer calls this once, at startup, with the
// process logger before building the configured backend.
func SetLogger(l zerolog.Logger) {
	Logger = l.With().Str("component", "cache").Logger()
}

func logger() zerolog.Logger {
	return Logger
}
