package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/quotamux/quotamux/internal/dispatcher"
)

// APIKeyProvider is the primary pool's upstream client: it sets an
// API-key header directly, with no token exchange.
type APIKeyProvider struct {
	baseURL    string
	headerName string
	client     *http.Client
}

// NewAPIKeyProvider returns a Provider that sends key as headerName
// (e.g. "x-goog-api-key") against baseURL. client defaults to an
// internal generous-timeout client if nil.
func NewAPIKeyProvider(baseURL, headerName string, client *http.Client) *APIKeyProvider {
	if client == nil {
		client = defaultHTTPClient
	}
	return &APIKeyProvider{baseURL: baseURL, headerName: headerName, client: client}
}

func (p *APIKeyProvider) endpoint(model string) string {
	return fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
}

func (p *APIKeyProvider) streamEndpoint(model string) string {
	return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
}

// Do implements dispatcher.Provider for unary and token-count kinds.
func (p *APIKeyProvider) Do(ctx context.Context, model, key string, req dispatcher.Request) (dispatcher.Response, error) {
	headers := map[string]string{
		p.headerName:   key,
		"Content-Type": "application/json",
	}
	return doRequest(ctx, p.client, http.MethodPost, p.endpoint(model), headers, req.Body)
}

// Stream implements dispatcher.Provider for the streaming kind.
func (p *APIKeyProvider) Stream(ctx context.Context, model, key string, req dispatcher.Request) (io.ReadCloser, error) {
	headers := map[string]string{
		p.headerName:   key,
		"Content-Type": "application/json",
	}
	return streamRequest(ctx, p.client, http.MethodPost, p.streamEndpoint(model), headers, req.Body)
}
