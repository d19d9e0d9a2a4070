package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/quotamux/quotamux/internal/dispatcher"
)

// VertexProvider is the auxiliary pool's upstream client: it exchanges
// a service-account JSON key for a bearer token via OAuth2, caches
// that token until near expiry, and builds the project/region
// qualified Vertex endpoint URL.
type VertexProvider struct {
	projectID string
	location  string
	client    *http.Client
	// tokenSources caches one oauth2.TokenSource per service-account
	// key string, so each auxiliary credential refreshes and reuses
	// its own token independently.
	mu           sync.Mutex
	tokenSources map[string]oauth2.TokenSource
}

// NewVertexProvider returns a Provider for the Vertex-style pool.
// projectID/location come from VERTEX_PROJECT_ID/VERTEX_LOCATION
// they are used only to build the endpoint URL, not
// consumed by the Key Scheduler itself.
func NewVertexProvider(projectID, location string, client *http.Client) *VertexProvider {
	if client == nil {
		client = defaultHTTPClient
	}
	return &VertexProvider{
		projectID:    projectID,
		location:     location,
		client:       client,
		tokenSources: make(map[string]oauth2.TokenSource),
	}
}

// tokenSourceFor returns a caching TokenSource for a given
// service-account JSON key, constructing and memoizing it on first
// use. key is the opaque credential string handed out by the Key
// Scheduler: for the auxiliary pool this is the service-account JSON
// blob (or a reference resolvable to one by the caller's config
// layer).
func (p *VertexProvider) tokenSourceFor(ctx context.Context, key string) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.tokenSources[key]; ok {
		return ts, nil
	}
	conf, err := google.JWTConfigFromJSON([]byte(key), "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("upstream: parse vertex service account: %w", err)
	}
	ts := oauth2.ReuseTokenSource(nil, conf.TokenSource(ctx))
	p.tokenSources[key] = ts
	return ts, nil
}

func (p *VertexProvider) endpoint(model string) string {
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		p.location, p.projectID, p.location, model,
	)
}

func (p *VertexProvider) streamEndpoint(model string) string {
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:streamGenerateContent",
		p.location, p.projectID, p.location, model,
	)
}

func (p *VertexProvider) authHeader(ctx context.Context, key string) (map[string]string, error) {
	ts, err := p.tokenSourceFor(ctx, key)
	if err != nil {
		return nil, err
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("upstream: status code 401: vertex token exchange: %w", err)
	}
	return map[string]string{
		"Authorization": "Bearer " + tok.AccessToken,
		"Content-Type":  "application/json",
	}, nil
}

// Do implements dispatcher.Provider for unary and token-count kinds.
func (p *VertexProvider) Do(ctx context.Context, model, key string, req dispatcher.Request) (dispatcher.Response, error) {
	headers, err := p.authHeader(ctx, key)
	if err != nil {
		return dispatcher.Response{}, err
	}
	return doRequest(ctx, p.client, http.MethodPost, p.endpoint(model), headers, req.Body)
}

// Stream implements dispatcher.Provider for the streaming kind.
func (p *VertexProvider) Stream(ctx context.Context, model, key string, req dispatcher.Request) (io.ReadCloser, error) {
	headers, err := p.authHeader(ctx, key)
	if err != nil {
		return nil, err
	}
	return streamRequest(ctx, p.client, http.MethodPost, p.streamEndpoint(model), headers, req.Body)
}
