package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/do/v2"
	"golang.org/x/time/rate"

	"github.com/quotamux/quotamux/internal/admin"
	"github.com/quotamux/quotamux/internal/cache"
	"github.com/quotamux/quotamux/internal/clock"
	"github.com/quotamux/quotamux/internal/config"
	"github.com/quotamux/quotamux/internal/dispatcher"
	"github.com/quotamux/quotamux/internal/health"
	"github.com/quotamux/quotamux/internal/keypool"
	"github.com/quotamux/quotamux/internal/observability"
	"github.com/quotamux/quotamux/internal/relay"
	"github.com/quotamux/quotamux/internal/upstream"
)

// Upstream endpoints for the two credential pools. Neither is a
// user-facing configuration key: the primary pool always talks to the
// Gemini Generative Language API, and the auxiliary pool always talks
// to Vertex AI, so both are wiring constants rather than config fields.
const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	geminiAPIKeyHeader = "x-goog-api-key"
)

// retryBackoffRate and retryBackoffBurst bound how fast the Retry
// Dispatcher may retry against a pool, independent of the RPM
// Tracker's per-(key,model) accounting.
const (
	retryBackoffRate  = 10 // per second
	retryBackoffBurst = 5
)

// tokenCapacityBudget approximates a per-key, per-minute input+output
// token budget. It only converts an observed response's token usage
// into a TokenCapacity score: there is no upstream-advertised per-key
// token quota to read it from, so a response using close to this many
// tokens scores near 0 (little headroom) and one using few scores
// near 1 (plenty).
const tokenCapacityBudget = 250_000

// ConfigService loads the configuration file once at startup and holds
// it behind a Runtime for lock-free hot-reload reads. A Watcher is
// attached when the file can be watched; if watching fails, the
// service still works, it just never reloads.
type ConfigService struct {
	// Config is the config as loaded at startup.
	Config *config.Config

	runtime *config.Runtime
	watcher *config.Watcher
	path    string
}

// Get returns the current configuration, reflecting the most recent
// successful hot-reload if any.
func (c *ConfigService) Get() *config.Config {
	return c.runtime.Get()
}

// StartWatching begins watching the config file for changes, applying
// each successfully-validated reload to the Runtime. It is a no-op if
// no watcher could be created at startup.
func (c *ConfigService) StartWatching(ctx context.Context) {
	if c.watcher == nil {
		return
	}
	c.watcher.OnReload(func(newCfg *config.Config) error {
		c.runtime.Store(newCfg)
		log.Info().Str("path", c.path).Msg("config hot-reloaded successfully")
		return nil
	})
	go func() {
		if err := c.watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("path", c.path).Msg("config watcher stopped")
		}
	}()
}

// Shutdown closes the watcher, satisfying do.Shutdowner.
func (c *ConfigService) Shutdown() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

// NewConfigService loads and validates the config file named under
// ConfigPathKey, then attempts to attach a file watcher.
func NewConfigService(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	svc := &ConfigService{Config: cfg, runtime: config.NewRuntime(cfg), path: path}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config watcher unavailable, hot-reload disabled")
	} else {
		svc.watcher = watcher
	}

	return svc, nil
}

// LoggerService holds the process-wide zerolog.Logger built from the
// loaded configuration's logging section.
type LoggerService struct {
	Logger zerolog.Logger
}

// NewLoggerService builds the process logger and installs it as the
// global zerolog logger, so logging is configured before any other
// service logs a line.
func NewLoggerService(i do.Injector) (*LoggerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)

	logger, err := admin.NewLogger(cfgSvc.Config.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	log.Logger = logger

	return &LoggerService{Logger: logger}, nil
}

// ClockService holds the real wall clock every other service shares,
// so that swapping in a fake clock for tests never requires touching
// the DI graph itself.
type ClockService struct {
	Clock clock.Clock
}

// NewClockService returns the real clock. There is no configuration
// surface for it: a fake clock is only ever substituted directly in
// tests, outside of this container.
func NewClockService(_ do.Injector) (*ClockService, error) {
	return &ClockService{Clock: clock.NewReal()}, nil
}

// CacheService holds the ristretto-backed (or noop) cache.Cache that
// backs the observability store's hourly usage buckets.
type CacheService struct {
	Cache cache.Cache
}

// Shutdown closes the underlying cache, satisfying do.Shutdowner.
func (c *CacheService) Shutdown() error {
	return c.Cache.Close()
}

// NewCacheService builds the cache from the loaded configuration's
// cache section, first pointing the cache package's own logger at the
// process logger so Ristretto backend events land in the same log
// stream as everything else instead of the package's no-op default.
func NewCacheService(i do.Injector) (*CacheService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)

	cache.SetLogger(loggerSvc.Logger)

	c, err := cache.New(context.Background(), &cfgSvc.Config.Cache)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	return &CacheService{Cache: c}, nil
}

// ObservabilityService holds the observability.Store backing the
// admin surface's key-usage-details endpoint.
type ObservabilityService struct {
	Store *observability.Store
}

// NewObservabilityService wires the cache and clock services into a
// Store.
func NewObservabilityService(i do.Injector) (*ObservabilityService, error) {
	cacheSvc := do.MustInvoke[*CacheService](i)
	clockSvc := do.MustInvoke[*ClockService](i)

	return &ObservabilityService{Store: observability.New(cacheSvc.Cache, clockSvc.Clock)}, nil
}

// SchedulerPoolService holds the two independent Key Schedulers: the
// primary pool (direct API keys) and the auxiliary pool (Vertex
// service-account keys). Both run identical scheduler machinery.
type SchedulerPoolService struct {
	Primary   *keypool.Scheduler
	Auxiliary *keypool.Scheduler
}

// NewSchedulerPoolService builds both schedulers from the loaded
// configuration, sharing the same clock and a per-pool logger.
func NewSchedulerPoolService(i do.Injector) (*SchedulerPoolService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	clockSvc := do.MustInvoke[*ClockService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Config

	primary := keypool.New(keypool.Config{
		Name:        "primary",
		Keys:        cfg.APIKeyStrings(),
		RPMLimits:   cfg.RPMLimits,
		RPMWindow:   cfg.RPMWindowSeconds,
		PreferCache: cfg.RPMPreferCache,
		MaxFailures: cfg.GetMaxFailures(),
		MaxRetries:  cfg.GetMaxRetries(),
		Clock:       clockSvc.Clock,
		Logger:      loggerSvc.Logger,
	})
	auxiliary := keypool.New(keypool.Config{
		Name:        "auxiliary",
		Keys:        cfg.VertexAPIKeyStrings(),
		RPMLimits:   cfg.RPMLimits,
		RPMWindow:   cfg.RPMWindowSeconds,
		PreferCache: cfg.RPMPreferCache,
		MaxFailures: cfg.GetMaxFailures(),
		MaxRetries:  cfg.GetMaxRetries(),
		Clock:       clockSvc.Clock,
		Logger:      loggerSvc.Logger,
	})

	return &SchedulerPoolService{Primary: primary, Auxiliary: auxiliary}, nil
}

// ProviderService holds the two upstream Providers the Retry
// Dispatcher calls through: the primary pool talks directly to the
// Gemini API, the auxiliary pool exchanges its service-account keys
// for OAuth2 tokens and talks to Vertex AI.
type ProviderService struct {
	Primary   dispatcher.Provider
	Auxiliary dispatcher.Provider
}

// NewProviderService builds both providers. Neither takes a shared
// *http.Client override here; each constructs its own default client
// internally when given nil.
func NewProviderService(i do.Injector) (*ProviderService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	cfg := cfgSvc.Config

	return &ProviderService{
		Primary:   upstream.NewAPIKeyProvider(geminiBaseURL, geminiAPIKeyHeader, nil),
		Auxiliary: upstream.NewVertexProvider(cfg.VertexProjectID, cfg.VertexLocation, nil),
	}, nil
}

// BreakerService holds the two optional per-pool circuit breakers
// that gate the Retry Dispatcher independently of the per-key Failure
// Accountant.
type BreakerService struct {
	Primary   *health.CircuitBreaker
	Auxiliary *health.CircuitBreaker
}

// NewBreakerService builds one breaker per pool from the shared
// circuit_breaker configuration section.
func NewBreakerService(i do.Injector) (*BreakerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Config

	return &BreakerService{
		Primary:   health.NewCircuitBreaker("primary", cfg.CircuitBreaker, &loggerSvc.Logger),
		Auxiliary: health.NewCircuitBreaker("auxiliary", cfg.CircuitBreaker, &loggerSvc.Logger),
	}, nil
}

// DispatcherService holds the two Retry Dispatchers, each bound to its
// own pool's Scheduler, Provider, and circuit breaker.
type DispatcherService struct {
	Primary   *dispatcher.Dispatcher
	Auxiliary *dispatcher.Dispatcher
}

// NewDispatcherService wires the Scheduler, Provider, and Breaker
// services together into the two dispatchers, and binds each
// dispatcher's observability Hooks back into the shared
// ObservabilityService and that pool's own TokenCapacity tracker —
// without this, RecordRequest and TokenCapacity.Observe are only ever
// called from tests, and the least-loaded tie-break never sees a
// non-default score.
func NewDispatcherService(i do.Injector) (*DispatcherService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	poolSvc := do.MustInvoke[*SchedulerPoolService](i)
	providerSvc := do.MustInvoke[*ProviderService](i)
	breakerSvc := do.MustInvoke[*BreakerService](i)
	obsSvc := do.MustInvoke[*ObservabilityService](i)
	loggerSvc := do.MustInvoke[*LoggerService](i)
	cfg := cfgSvc.Config

	primary := dispatcher.New(dispatcher.Config{
		Scheduler:  poolSvc.Primary,
		Provider:   providerSvc.Primary,
		MaxRetries: cfg.GetMaxRetries(),
		Hooks:      observationHooks(obsSvc.Store, poolSvc.Primary),
		Breaker:    breakerSvc.Primary,
		Backoff:    rate.NewLimiter(retryBackoffRate, retryBackoffBurst),
		Logger:     loggerSvc.Logger,
	})
	auxiliary := dispatcher.New(dispatcher.Config{
		Scheduler:  poolSvc.Auxiliary,
		Provider:   providerSvc.Auxiliary,
		MaxRetries: cfg.GetMaxRetries(),
		Hooks:      observationHooks(obsSvc.Store, poolSvc.Auxiliary),
		Breaker:    breakerSvc.Auxiliary,
		Backoff:    rate.NewLimiter(retryBackoffRate, retryBackoffBurst),
		Logger:     loggerSvc.Logger,
	})

	return &DispatcherService{Primary: primary, Auxiliary: auxiliary}, nil
}

// observationHooks binds one pool's dispatcher.Hooks to the shared
// observability Store and that pool's own learned TokenCapacity.
// OnRequest fires once per completed call (success or exhausted) and
// feeds both; OnError fires once per failed attempt and only feeds
// the Store, since a failed attempt carries no token usage to learn
// from.
func observationHooks(store *observability.Store, sched *keypool.Scheduler) dispatcher.Hooks {
	return dispatcher.Hooks{
		OnRequest: func(obs dispatcher.RequestObservation) {
			store.RecordRequest(obs.Key, obs.Model)
			if obs.Success && obs.TotalTokens > 0 {
				score := 1 - float64(obs.TotalTokens)/tokenCapacityBudget
				sched.TokenCapacity().Observe(obs.Key, score)
			}
		},
		OnError: func(obs dispatcher.ErrorObservation) {
			store.RecordRequest(obs.Key, obs.Model)
		},
	}
}

// AdminMuxService holds the fully-wrapped HTTP mux serving both the
// admin surface and the relay surface (routes plus auth/logging/
// request-ID middleware).
type AdminMuxService struct {
	Mux *http.ServeMux
}

// NewAdminMuxService wires the scheduler pools and observability store
// into the admin handler, and the two Retry Dispatchers into the
// relay handler, then combines both route sets onto one mux sharing a
// single auth chain. The relay routes are what actually exercise
// Choose/OnFailure/Do/Stream outside of tests: without them the admin
// routes alone never call into the dispatchers at all.
func NewAdminMuxService(i do.Injector) (*AdminMuxService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	poolSvc := do.MustInvoke[*SchedulerPoolService](i)
	obsSvc := do.MustInvoke[*ObservabilityService](i)
	dispatchSvc := do.MustInvoke[*DispatcherService](i)

	authChain := admin.AuthMiddleware(cfgSvc.Config.Server.Auth)

	handler := admin.NewHandler(admin.Pools{Primary: poolSvc.Primary, Auxiliary: poolSvc.Auxiliary}, obsSvc.Store)
	mux := handler.Mux(authChain)

	relayHandler := relay.NewHandler(relay.Dispatchers{Primary: dispatchSvc.Primary, Auxiliary: dispatchSvc.Auxiliary})
	relayHandler.Register(mux, authChain)

	return &AdminMuxService{Mux: mux}, nil
}

// ServerService holds the net/http server exposing the admin mux.
type ServerService struct {
	server *admin.Server
}

// Shutdown gracefully stops the HTTP server, satisfying do.Shutdowner.
func (s *ServerService) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ListenAndServe starts serving; it blocks until the server stops.
func (s *ServerService) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// NewServerService builds the admin HTTP server bound to the
// configured listen address.
func NewServerService(i do.Injector) (*ServerService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	muxSvc := do.MustInvoke[*AdminMuxService](i)

	return &ServerService{server: admin.NewServer(cfgSvc.Config.Server.Listen, muxSvc.Mux)}, nil
}

// RegisterSingletons registers every service provider in dependency
// order: config and logging first, then the ambient clock/cache/
// observability layer, then the two scheduler pools and their
// providers, then the optional health gate, then the dispatchers that
// tie scheduler+provider+breaker+observability hooks together, and
// finally the combined admin+relay HTTP surface and the server that
// exposes it.
func RegisterSingletons(i do.Injector) {
	do.Provide(i, NewConfigService)
	do.Provide(i, NewLoggerService)
	do.Provide(i, NewClockService)
	do.Provide(i, NewCacheService)
	do.Provide(i, NewObservabilityService)
	do.Provide(i, NewSchedulerPoolService)
	do.Provide(i, NewProviderService)
	do.Provide(i, NewBreakerService)
	do.Provide(i, NewDispatcherService)
	do.Provide(i, NewAdminMuxService)
	do.Provide(i, NewServerService)
}
