// Package relay exposes the minimal inbound surface that actually
// drives the Retry Dispatcher end-to-end: a generate/count-tokens
// route per pool, forwarding the caller's request body to the chosen
// upstream through dispatcher.Dispatcher. Full request/response wire
// adaptation to the provider's exact schema is out of scope here (see
// internal/upstream); this package only needs enough of an HTTP
// surface to exercise Choose/OnFailure/Do/Stream from real traffic
// rather than from tests alone.
package relay

import (
	"errors"
	"io"
	"net/http"

	"github.com/quotamux/quotamux/internal/admin"
	"github.com/quotamux/quotamux/internal/dispatcher"
)

// Dispatchers bundles the two pool-bound Retry Dispatchers the relay
// surface forwards to.
type Dispatchers struct {
	Primary   *dispatcher.Dispatcher
	Auxiliary *dispatcher.Dispatcher
}

// Handler serves the relay HTTP surface backed by Dispatchers.
type Handler struct {
	dispatchers Dispatchers
}

// NewHandler returns a Handler for the given dispatchers.
func NewHandler(d Dispatchers) *Handler {
	return &Handler{dispatchers: d}
}

// Register adds the relay routes to mux, wrapped in the same
// request-ID, logging, and auth middleware chain the admin surface
// uses, so a single bearer token and a single access log cover both.
func (h *Handler) Register(mux *http.ServeMux, authChain func(http.Handler) http.Handler) {
	mux.Handle("POST /api/generate/{model}", h.wrap(authChain, http.HandlerFunc(h.handleGenerate)))
	mux.Handle("POST /api/generate/{model}/stream", h.wrap(authChain, http.HandlerFunc(h.handleStream)))
	mux.Handle("POST /api/count-tokens/{model}", h.wrap(authChain, http.HandlerFunc(h.handleCountTokens)))
}

func (h *Handler) wrap(authChain func(http.Handler) http.Handler, next http.Handler) http.Handler {
	return admin.RequestIDMiddleware()(admin.LoggingMiddleware()(authChain(next)))
}

// poolFor picks the auxiliary dispatcher when the caller asks for it
// via ?pool=auxiliary; every other value, including an absent query
// param, selects the primary pool.
func (h *Handler) poolFor(r *http.Request) *dispatcher.Dispatcher {
	if r.URL.Query().Get("pool") == "auxiliary" {
		return h.dispatchers.Auxiliary
	}
	return h.dispatchers.Primary
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		admin.WriteError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	resp, err := h.poolFor(r).Do(r.Context(), model, body)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
}

func (h *Handler) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		admin.WriteError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	resp, err := h.poolFor(r).CountTokens(r.Context(), model, body)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		admin.WriteError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	rc, err := h.poolFor(r).Stream(r.Context(), model, body)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// writeDispatchError maps a dispatcher error to an admin-shaped JSON
// error response, surfacing the last upstream status code when the
// retry budget was exhausted.
func writeDispatchError(w http.ResponseWriter, err error) {
	var exhausted *dispatcher.ExhaustedError
	if errors.As(err, &exhausted) {
		status := exhausted.LastStatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		admin.WriteError(w, status, err.Error())
		return
	}
	if errors.Is(err, dispatcher.ErrDisabled) {
		admin.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	admin.WriteError(w, http.StatusBadGateway, err.Error())
}
