package admin

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotamux/quotamux/internal/auth"
	"github.com/quotamux/quotamux/internal/config"
)

// AuthMiddleware builds the admin surface's authenticator chain from
// config: a localhost bypass (if enabled) ahead of a bearer-token check,
// and wraps next so every request passes through it first.
func AuthMiddleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	var authenticators []auth.Authenticator
	if cfg.AllowLocalhostBypass {
		authenticators = append(authenticators, auth.NewLocalhostBypassAuthenticator())
	}
	authenticators = append(authenticators, auth.NewBearerAuthenticator(cfg.BearerToken))

	chain := auth.NewChainAuthenticator(authenticators...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := chain.Validate(r)
			if !result.Valid {
				zerolog.Ctx(r.Context()).Warn().
					Str("auth_type", string(result.Type)).
					Str("error", result.Error).
					Msg("admin authentication failed")
				WriteError(w, http.StatusUnauthorized, result.Error)

				return
			}

			zerolog.Ctx(r.Context()).Debug().
				Str("auth_type", string(result.Type)).
				Msg("admin authentication succeeded")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware adds an X-Request-ID response header and attaches
// a request-scoped logger to the context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			ctx := AddRequestID(r.Context(), requestID)

			if requestID == "" {
				requestID = GetRequestID(ctx)
			}

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs each request's method, path, status, and duration.
func LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			requestID := GetRequestID(r.Context())
			shortID := requestID
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}

			logger := zerolog.Ctx(r.Context()).With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", shortID).
				Logger()

			logger.Info().Msgf("%s %s", r.Method, r.URL.Path)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			entry := logger.Info()
			if wrapped.statusCode >= 500 {
				entry = logger.Error()
			} else if wrapped.statusCode >= 400 {
				entry = logger.Warn()
			}
			entry.
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msgf("%s %s (%d)", r.Method, r.URL.Path, wrapped.statusCode)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
