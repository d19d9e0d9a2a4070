package admin

import (
	"context"
	"net/http"
	"time"
)

// Server wraps http.Server with timeouts suited to a mostly
// short-lived JSON admin API that also carries the relay surface's
// long-lived streaming responses: WriteTimeout is left at zero
// (no limit) rather than bounding every response to the admin
// surface's own quick-reply expectations.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer creates a new Server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     handler,
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
	}
}

// ListenAndServe starts the server (blocks).
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
