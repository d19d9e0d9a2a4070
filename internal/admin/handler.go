package admin

import (
	"net/http"

	"github.com/quotamux/quotamux/internal/keypool"
	"github.com/quotamux/quotamux/internal/observability"
)

// Pools bundles the two Key Scheduler instances the admin surface
// reports on: the primary direct-API-key pool and the auxiliary
// Vertex-OAuth2 pool. Both run identical scheduler machinery.
type Pools struct {
	Primary   *keypool.Scheduler
	Auxiliary *keypool.Scheduler
}

// Handler serves the admin HTTP surface backed by Pools and an
// observability Store.
type Handler struct {
	pools Pools
	store *observability.Store
}

// NewHandler returns a Handler for the given pools and store.
func NewHandler(pools Pools, store *observability.Store) *Handler {
	return &Handler{pools: pools, store: store}
}

// Mux builds a ServeMux routing the three admin endpoints, wrapped in
// request-ID, logging, and auth middleware in that order (outermost
// first) so every logged request carries a request ID and auth
// failures are still logged.
func (h *Handler) Mux(authChain func(http.Handler) http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /api/rpm-status", h.wrap(authChain, http.HandlerFunc(h.handleRPMStatus)))
	mux.Handle("GET /api/key-usage-details/{key}", h.wrap(authChain, http.HandlerFunc(h.handleKeyUsageDetails)))
	mux.Handle("POST /api/reset-failures/{key}", h.wrap(authChain, http.HandlerFunc(h.handleResetFailures)))
	return mux
}

func (h *Handler) wrap(authChain func(http.Handler) http.Handler, next http.Handler) http.Handler {
	return RequestIDMiddleware()(LoggingMiddleware()(authChain(next)))
}

// modelStatus mirrors one model entry of the rpm-status response.
type modelStatus struct {
	CurrentRPM      int     `json:"current_rpm"`
	RPMLimit        int     `json:"rpm_limit"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// keyStatus mirrors one key entry of the rpm-status response.
type keyStatus struct {
	Models       map[string]modelStatus `json:"models"`
	IsCurrent    bool                   `json:"is_current"`
	FailureCount int                    `json:"failure_count"`
}

// rpmStatusResponse is the full GET /api/rpm-status body.
type rpmStatusResponse struct {
	APIKeys          map[string]keyStatus `json:"api_keys"`
	VertexKeys       map[string]keyStatus `json:"vertex_keys"`
	CurrentModel     *string              `json:"current_model"`
	RPMWindowSeconds int                  `json:"rpm_window_seconds"`
	RPMPreferCache   bool                 `json:"rpm_prefer_cache"`
	RPMLimits        map[string]int       `json:"rpm_limits"`
	ModelRPMLimit    *int                 `json:"model_rpm_limit,omitempty"`
}

func poolStatus(sched *keypool.Scheduler) map[string]keyStatus {
	snap := sched.Snapshot()
	out := make(map[string]keyStatus, len(snap))
	for key, ks := range snap {
		models := make(map[string]modelStatus, len(ks.Models))
		for model, usage := range ks.Models {
			models[model] = modelStatus{
				CurrentRPM:      usage.CurrentRPM,
				RPMLimit:        usage.RPMLimit,
				UsagePercentage: usage.UsagePercentage,
			}
		}
		out[key] = keyStatus{
			Models:       models,
			IsCurrent:    ks.IsCurrent,
			FailureCount: ks.FailureCount,
		}
	}
	return out
}

func (h *Handler) handleRPMStatus(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")

	resp := rpmStatusResponse{
		APIKeys:          poolStatus(h.pools.Primary),
		VertexKeys:       poolStatus(h.pools.Auxiliary),
		RPMWindowSeconds: h.pools.Primary.RPMWindowSeconds(),
		RPMPreferCache:   h.pools.Primary.PreferCache(),
		RPMLimits:        h.pools.Primary.RPMLimits(),
	}

	if model != "" {
		resp.CurrentModel = &model
		if limit, ok := resp.RPMLimits[model]; ok {
			resp.ModelRPMLimit = &limit
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleKeyUsageDetails(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteError(w, http.StatusBadRequest, "missing key path segment")
		return
	}

	writeJSON(w, http.StatusOK, h.store.KeyUsageDetails(key))
}

// classifyResult mirrors one pool's Classify() result.
type classifyResult struct {
	Valid   map[string]int `json:"valid"`
	Invalid map[string]int `json:"invalid"`
}

// resetFailuresResponse is the full POST /api/reset-failures/{key} body.
type resetFailuresResponse struct {
	APIKeys    classifyResult `json:"api_keys"`
	VertexKeys classifyResult `json:"vertex_keys"`
}

func (h *Handler) handleResetFailures(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		WriteError(w, http.StatusBadRequest, "missing key path segment")
		return
	}

	if key == "all" {
		h.pools.Primary.ResetAllFailures()
		h.pools.Auxiliary.ResetAllFailures()
	} else {
		h.pools.Primary.ResetFailures(key)
		h.pools.Auxiliary.ResetFailures(key)
	}

	writeJSON(w, http.StatusOK, resetFailuresResponse{
		APIKeys:    classify(h.pools.Primary),
		VertexKeys: classify(h.pools.Auxiliary),
	})
}

func classify(sched *keypool.Scheduler) classifyResult {
	valid, invalid := sched.Classify()
	return classifyResult{Valid: toStringMap(valid), Invalid: toStringMap(invalid)}
}

func toStringMap(m map[keypool.Key]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
