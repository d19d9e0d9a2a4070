package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotamux/quotamux/internal/cache"
	"github.com/quotamux/quotamux/internal/clock"
	"github.com/quotamux/quotamux/internal/keypool"
	"github.com/quotamux/quotamux/internal/observability"
)

func newTestPools(t *testing.T, fake *clock.Fake) Pools {
	t.Helper()

	primary := keypool.New(keypool.Config{
		Name:        "primary",
		Keys:        []keypool.Key{"k1", "k2"},
		RPMLimits:   map[string]int{"gemini-flash": 3},
		PreferCache: true,
		MaxFailures: 2,
		Clock:       fake,
		Logger:      zerolog.Nop(),
	})
	auxiliary := keypool.New(keypool.Config{
		Name:        "auxiliary",
		Keys:        []keypool.Key{"v1"},
		RPMLimits:   map[string]int{"gemini-flash": 3},
		PreferCache: true,
		MaxFailures: 2,
		Clock:       fake,
		Logger:      zerolog.Nop(),
	})

	return Pools{Primary: primary, Auxiliary: auxiliary}
}

func newTestStore(t *testing.T, fake *clock.Fake) *observability.Store {
	t.Helper()

	c, err := cache.New(t.Context(), &cache.Config{Mode: cache.ModeSingle, Ristretto: cache.DefaultRistrettoConfig()})
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return observability.New(c, fake)
}

func TestHandlerRPMStatus(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	pools := newTestPools(t, fake)
	store := newTestStore(t, fake)

	pools.Primary.Choose("gemini-flash")

	h := NewHandler(pools, store)
	mux := h.Mux(func(next http.Handler) http.Handler { return next })

	req := httptest.NewRequest(http.MethodGet, "/api/rpm-status?model=gemini-flash", http.NoBody)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp rpmStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.CurrentModel == nil || *resp.CurrentModel != "gemini-flash" {
		t.Errorf("CurrentModel = %v, want gemini-flash", resp.CurrentModel)
	}
	if resp.ModelRPMLimit == nil || *resp.ModelRPMLimit != 3 {
		t.Errorf("ModelRPMLimit = %v, want 3", resp.ModelRPMLimit)
	}
	if len(resp.APIKeys) != 2 {
		t.Errorf("len(APIKeys) = %d, want 2", len(resp.APIKeys))
	}
	if len(resp.VertexKeys) != 1 {
		t.Errorf("len(VertexKeys) = %d, want 1", len(resp.VertexKeys))
	}
	if !resp.APIKeys["k1"].IsCurrent {
		t.Error("expected k1 to be the current cached key")
	}
}

func TestHandlerRPMStatusWithoutModelOmitsLimit(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	pools := newTestPools(t, fake)
	store := newTestStore(t, fake)

	h := NewHandler(pools, store)
	mux := h.Mux(func(next http.Handler) http.Handler { return next })

	req := httptest.NewRequest(http.MethodGet, "/api/rpm-status", http.NoBody)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp rpmStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.CurrentModel != nil {
		t.Errorf("CurrentModel = %v, want nil", resp.CurrentModel)
	}
	if resp.ModelRPMLimit != nil {
		t.Errorf("ModelRPMLimit = %v, want nil", resp.ModelRPMLimit)
	}
}

func TestHandlerKeyUsageDetails(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	pools := newTestPools(t, fake)
	store := newTestStore(t, fake)

	store.RecordRequest("k1", "gemini-flash")
	store.RecordRequest("k1", "gemini-flash")

	h := NewHandler(pools, store)
	mux := h.Mux(func(next http.Handler) http.Handler { return next })

	req := httptest.NewRequest(http.MethodGet, "/api/key-usage-details/k1", http.NoBody)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var details map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &details); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if details["gemini-flash"] != 2 {
		t.Errorf("details[gemini-flash] = %d, want 2", details["gemini-flash"])
	}
}

func TestHandlerResetFailuresSingleKey(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	pools := newTestPools(t, fake)
	store := newTestStore(t, fake)

	pools.Primary.OnFailure("k1", 0, "gemini-flash")
	pools.Primary.OnFailure("k1", 1, "gemini-flash")

	h := NewHandler(pools, store)
	mux := h.Mux(func(next http.Handler) http.Handler { return next })

	req := httptest.NewRequest(http.MethodPost, "/api/reset-failures/k1", http.NoBody)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp resetFailuresResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if count, ok := resp.APIKeys.Valid["k1"]; !ok || count != 0 {
		t.Errorf("APIKeys.Valid[k1] = %d, ok=%v, want 0, true", count, ok)
	}
}

func TestHandlerResetFailuresAll(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	pools := newTestPools(t, fake)
	store := newTestStore(t, fake)

	pools.Primary.OnFailure("k1", 0, "gemini-flash")
	pools.Primary.OnFailure("k1", 1, "gemini-flash")
	pools.Auxiliary.OnFailure("v1", 0, "gemini-flash")
	pools.Auxiliary.OnFailure("v1", 1, "gemini-flash")

	h := NewHandler(pools, store)
	mux := h.Mux(func(next http.Handler) http.Handler { return next })

	req := httptest.NewRequest(http.MethodPost, "/api/reset-failures/all", http.NoBody)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp resetFailuresResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(resp.APIKeys.Invalid) != 0 {
		t.Errorf("APIKeys.Invalid = %v, want empty", resp.APIKeys.Invalid)
	}
	if len(resp.VertexKeys.Invalid) != 0 {
		t.Errorf("VertexKeys.Invalid = %v, want empty", resp.VertexKeys.Invalid)
	}
}

func TestHandlerAuthRejection(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Unix(0, 0))
	pools := newTestPools(t, fake)
	store := newTestStore(t, fake)

	h := NewHandler(pools, store)
	rejectAll := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			WriteError(w, http.StatusUnauthorized, "denied")
		})
	}
	mux := h.Mux(rejectAll)

	req := httptest.NewRequest(http.MethodGet, "/api/rpm-status", http.NoBody)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
