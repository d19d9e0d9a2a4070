package auth

import (
	"net"
	"net/http"
)

// LocalhostBypassAuthenticator admits any request whose remote address is
// the loopback interface, without inspecting credentials at all. It is
// meant to sit ahead of a BearerAuthenticator in a ChainAuthenticator so
// that local tooling (curl from the same host, a sidecar health check)
// can reach the admin surface without a token while remote callers still
// need one.
type LocalhostBypassAuthenticator struct{}

// NewLocalhostBypassAuthenticator creates a localhost-bypass authenticator.
func NewLocalhostBypassAuthenticator() *LocalhostBypassAuthenticator {
	return &LocalhostBypassAuthenticator{}
}

// Validate succeeds only when RemoteAddr's host is a loopback IP
// (127.0.0.0/8 or ::1) or the literal name "localhost".
// It deliberately ignores the Host header: that value is client-supplied
// and trivially spoofed, unlike RemoteAddr which the HTTP server sets
// from the actual TCP connection.
func (a *LocalhostBypassAuthenticator) Validate(r *http.Request) Result {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if isLoopback(host) {
		return Result{Valid: true, Type: TypeNone}
	}

	return Result{
		Valid: false,
		Type:  TypeNone,
		Error: "remote address is not localhost",
	}
}

// Type returns TypeNone since bypass is not a credential check.
func (a *LocalhostBypassAuthenticator) Type() Type {
	return TypeNone
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
