// Package dispatcher implements the Retry Dispatcher: it calls
// an upstream Provider through a Key Scheduler, classifies failures,
// asks the scheduler for the next key on failure, and enforces a
// retry cap. It is the single point that turns attempt failures into
// user-visible errors; the scheduler itself never returns an error for
// "no key available", only an empty key.
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Kind tags which upstream capability an attempt invokes. The loop
// body is shared across all three; only the final call into Provider
// differs.
type Kind int

const (
	KindUnary Kind = iota
	KindStreaming
	KindTokenCount
)

func (k Kind) String() string {
	switch k {
	case KindUnary:
		return "unary"
	case KindStreaming:
		return "streaming"
	case KindTokenCount:
		return "token_count"
	default:
		return "unknown"
	}
}

// Request is the payload handed to a Provider for one attempt.
type Request struct {
	Model string
	Body  []byte
}

// Response is a unary or token-count upstream reply.
type Response struct {
	StatusCode       int
	Body             []byte
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Scheduler is the subset of keypool.Scheduler the dispatcher depends
// on. Declaring it here (rather than importing keypool's concrete
// type) keeps the dispatcher package free to be unit tested against a
// fake, and avoids a needless compile-time dependency in the other
// direction.
type Scheduler interface {
	Choose(model string) string
	OnFailure(key string, attempt int, model string) (string, bool)
}

// Provider performs the actual upstream call for one attempt. The two
// concrete implementations (direct API-key, Vertex OAuth2) live in
// internal/upstream; the dispatcher is agnostic to which is in play.
type Provider interface {
	Do(ctx context.Context, model, key string, req Request) (Response, error)
	Stream(ctx context.Context, model, key string, req Request) (io.ReadCloser, error)
}

// Breaker is the optional per-pool health gate.
// internal/health.CircuitBreaker satisfies this.
type Breaker interface {
	Allow() (func(err error), error)
}

// RequestObservation is emitted once per completed dispatcher call
// (success or Exhausted), fed to the onRequest hook.
type RequestObservation struct {
	Model            string
	Key              string
	Kind             Kind
	Success          bool
	StatusCode       int
	LatencyMS        int64
	Time             time.Time
	BodySummary      string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Err              error
}

// ErrorObservation is emitted once per failed attempt, fed to the
// onError hook, regardless of whether the overall call eventually
// succeeds.
type ErrorObservation struct {
	Key     string
	Model   string
	Kind    Kind
	Message string
	Code    int
	Body    string
}

// Hooks are fire-and-forget observability callbacks; their failure
// (including being nil) never affects the reply to the caller.
type Hooks struct {
	OnRequest func(RequestObservation)
	OnError   func(ErrorObservation)
}

func (h Hooks) fireRequest(obs RequestObservation) {
	if h.OnRequest != nil {
		h.OnRequest(obs)
	}
}

func (h Hooks) fireError(obs ErrorObservation) {
	if h.OnError != nil {
		h.OnError(obs)
	}
}

// ErrDisabled is returned when the pool's health gate is open and no
// failover target is configured.
var ErrDisabled = errors.New("dispatcher: pool disabled (circuit open)")

// ExhaustedError is returned when the retry budget is used up. It
// carries the last observed upstream status code.
type ExhaustedError struct {
	LastStatusCode int
	Attempts       int
}

func (e *ExhaustedError) Error() string {
	return "dispatcher: retries exhausted"
}

// statusCodePattern extracts an HTTP-like status code embedded in an
// upstream error message, mirroring the source's `status code (\d+)`
// convention. Unmatched errors default to 500.
var statusCodePattern = regexp.MustCompile(`status code (\d+)`)

func parseStatusCode(err error) int {
	if err == nil {
		return 0
	}
	m := statusCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 500
	}
	var code int
	for _, c := range m[1] {
		code = code*10 + int(c-'0')
	}
	return code
}

// Dispatcher is a retry loop bound to one pool's Scheduler, Provider,
// and optional health gate / backoff limiter.
type Dispatcher struct {
	scheduler  Scheduler
	provider   Provider
	maxRetries int
	hooks      Hooks
	breaker    Breaker       // optional, may be nil
	backoff    *rate.Limiter // optional, may be nil
	clock      func() time.Time
	logger     zerolog.Logger
}

// Config configures a Dispatcher.
type Config struct {
	Scheduler  Scheduler
	Provider   Provider
	MaxRetries int
	Hooks      Hooks
	Breaker    Breaker
	Backoff    *rate.Limiter
	Logger     zerolog.Logger
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		scheduler:  cfg.Scheduler,
		provider:   cfg.Provider,
		maxRetries: cfg.MaxRetries,
		hooks:      cfg.Hooks,
		breaker:    cfg.Breaker,
		backoff:    cfg.Backoff,
		clock:      time.Now,
		logger:     cfg.Logger,
	}
}

// gateOrDisabled consults the optional per-pool health gate before
// spending a scheduler attempt. It never
// overrides a scheduler decision; it only decides whether to ask the
// scheduler at all.
func (d *Dispatcher) gateOrDisabled() (done func(err error), err error) {
	if d.breaker == nil {
		return func(error) {}, nil
	}
	done, err = d.breaker.Allow()
	if err != nil {
		return nil, ErrDisabled
	}
	return done, nil
}

// pace applies the inter-attempt backoff limiter, if configured,
// before a retry (not before the first attempt, and never between
// choose calls).
func (d *Dispatcher) pace(ctx context.Context) {
	if d.backoff == nil {
		return
	}
	_ = d.backoff.Wait(ctx)
}

// Do executes a unary call, retrying with key rotation on failure.
func (d *Dispatcher) Do(ctx context.Context, model string, body []byte) (Response, error) {
	return d.doUnary(ctx, model, body, KindUnary)
}

// CountTokens executes a token-count call. It shares doUnary's loop
// body exactly, differing only in the Kind tagged onto its
// observations, so onError/onRequest hooks correctly distinguish
// token-count attempts from unary ones.
func (d *Dispatcher) CountTokens(ctx context.Context, model string, body []byte) (Response, error) {
	return d.doUnary(ctx, model, body, KindTokenCount)
}

// doUnary is the shared retry loop for Do and CountTokens; kind is
// the only thing that differs between the two call sites.
func (d *Dispatcher) doUnary(ctx context.Context, model string, body []byte, kind Kind) (Response, error) {
	done, gateErr := d.gateOrDisabled()
	if gateErr != nil {
		return Response{}, gateErr
	}

	var lastStatus int
	attempt := 0
	key := d.scheduler.Choose(model)

	for {
		start := d.clock()
		resp, err := d.provider.Do(ctx, model, key, Request{Model: model, Body: body})
		latency := d.clock().Sub(start).Milliseconds()

		if err == nil {
			done(nil)
			d.hooks.fireRequest(RequestObservation{
				Model: model, Key: key, Kind: kind, Success: true,
				StatusCode: resp.StatusCode, LatencyMS: latency, Time: d.clock(),
				PromptTokens: resp.PromptTokens, CompletionTokens: resp.CompletionTokens,
				TotalTokens: resp.TotalTokens,
			})
			return resp, nil
		}

		done(err)
		lastStatus = parseStatusCode(err)
		d.hooks.fireError(ErrorObservation{Key: key, Model: model, Kind: kind, Message: err.Error(), Code: lastStatus})

		attempt++
		if attempt >= d.maxRetries {
			d.hooks.fireRequest(RequestObservation{
				Model: model, Key: key, Kind: kind, Success: false,
				StatusCode: lastStatus, LatencyMS: latency, Time: d.clock(), Err: err,
			})
			return Response{}, &ExhaustedError{LastStatusCode: lastStatus, Attempts: attempt}
		}

		next, ok := d.scheduler.OnFailure(key, attempt, model)
		if !ok {
			d.hooks.fireRequest(RequestObservation{
				Model: model, Key: key, Kind: kind, Success: false,
				StatusCode: lastStatus, LatencyMS: latency, Time: d.clock(), Err: err,
			})
			return Response{}, &ExhaustedError{LastStatusCode: lastStatus, Attempts: attempt}
		}
		key = next

		d.pace(ctx)
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}

		done, gateErr = d.gateOrDisabled()
		if gateErr != nil {
			return Response{}, gateErr
		}
	}
}

// Stream executes a streaming call, retrying with key rotation on
// failure: to satisfy the no-double-delivery requirement, each
// attempt's body is buffered in full before being handed to the
// caller, so a mid-stream failure on attempt N never lets attempt N's
// partial bytes reach the caller — only a fully-read, known-good
// stream is ever returned.
func (d *Dispatcher) Stream(ctx context.Context, model string, body []byte) (io.ReadCloser, error) {
	done, gateErr := d.gateOrDisabled()
	if gateErr != nil {
		return nil, gateErr
	}

	var lastStatus int
	attempt := 0
	key := d.scheduler.Choose(model)

	for {
		start := d.clock()
		buffered, err := d.readAttempt(ctx, model, key, body)
		latency := d.clock().Sub(start).Milliseconds()

		if err == nil {
			done(nil)
			d.hooks.fireRequest(RequestObservation{
				Model: model, Key: key, Kind: KindStreaming, Success: true,
				StatusCode: 200, LatencyMS: latency, Time: d.clock(),
			})
			return io.NopCloser(bytes.NewReader(buffered)), nil
		}

		done(err)
		lastStatus = parseStatusCode(err)
		d.hooks.fireError(ErrorObservation{Key: key, Model: model, Kind: KindStreaming, Message: err.Error(), Code: lastStatus})

		attempt++
		if attempt >= d.maxRetries {
			d.hooks.fireRequest(RequestObservation{
				Model: model, Key: key, Kind: KindStreaming, Success: false,
				StatusCode: lastStatus, LatencyMS: latency, Time: d.clock(), Err: err,
			})
			return nil, &ExhaustedError{LastStatusCode: lastStatus, Attempts: attempt}
		}

		next, ok := d.scheduler.OnFailure(key, attempt, model)
		if !ok {
			d.hooks.fireRequest(RequestObservation{
				Model: model, Key: key, Kind: KindStreaming, Success: false,
				StatusCode: lastStatus, LatencyMS: latency, Time: d.clock(), Err: err,
			})
			return nil, &ExhaustedError{LastStatusCode: lastStatus, Attempts: attempt}
		}
		key = next

		d.pace(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		done, gateErr = d.gateOrDisabled()
		if gateErr != nil {
			return nil, gateErr
		}
	}
}

// readAttempt opens the upstream stream and reads it to completion
// in-memory, so a mid-stream error on this attempt never escapes as
// partial bytes.
func (d *Dispatcher) readAttempt(ctx context.Context, model, key string, body []byte) ([]byte, error) {
	rc, err := d.provider.Stream(ctx, model, key, Request{Model: model, Body: body})
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}
