package admin

import (
	"net/http"
	"testing"
	"time"
)

func TestNewServerCreatesValidServer(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := NewServer("127.0.0.1:0", handler)

	if server == nil {
		t.Fatal("expected non-nil server")
	}
	if server.addr != "127.0.0.1:0" {
		t.Errorf("addr = %q, want %q", server.addr, "127.0.0.1:0")
	}
	if server.httpServer == nil {
		t.Fatal("expected non-nil httpServer")
	}
}

func TestNewServerHasExpectedTimeouts(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := NewServer("127.0.0.1:0", handler)

	if server.httpServer.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", server.httpServer.ReadTimeout)
	}
	if server.httpServer.WriteTimeout != 0 {
		t.Errorf("WriteTimeout = %v, want 0 (unbounded, for relay streaming)", server.httpServer.WriteTimeout)
	}
	if server.httpServer.IdleTimeout != 120*time.Second {
		t.Errorf("IdleTimeout = %v, want 120s", server.httpServer.IdleTimeout)
	}
}

func TestServerShutdown(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := NewServer("127.0.0.1:0", handler)

	if err := server.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}
