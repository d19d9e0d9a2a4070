// Package upstream implements the two concrete Provider
// implementations the Retry Dispatcher calls through: a
// direct API-key client for the primary pool, and a Vertex-style
// OAuth2 service-account client for the auxiliary pool. Both speak the
// same small interface so the dispatcher is agnostic to which pool it
// is driving.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quotamux/quotamux/internal/dispatcher"
)

// defaultHTTPClient is used when a caller does not supply one. Its
// timeout is deliberately generous: the Retry Dispatcher, not the
// transport, owns the retry cap, and streaming responses can be long
// lived.
var defaultHTTPClient = &http.Client{Timeout: 120 * time.Second}

// doRequest performs a single HTTP round trip and adapts the result
// into a dispatcher.Response. A non-2xx status is returned as an error
// carrying "status code N" so the dispatcher's classifier can parse
// it.
func doRequest(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body []byte) (dispatcher.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("upstream: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("upstream: status code 599: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return dispatcher.Response{}, fmt.Errorf("upstream: status code 599: reading body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return dispatcher.Response{}, fmt.Errorf("upstream: status code %d: %s", resp.StatusCode, truncate(out, 256))
	}

	dr := dispatcher.Response{StatusCode: resp.StatusCode, Body: out}
	dr.PromptTokens, dr.CompletionTokens, dr.TotalTokens = parseUsageMetadata(out)
	return dr, nil
}

// usageMetadataEnvelope mirrors the `usageMetadata` object both the
// Gemini and Vertex generateContent responses embed; fields absent
// from a given response simply decode as zero.
type usageMetadataEnvelope struct {
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// parseUsageMetadata best-effort extracts token counts from a
// generateContent response body so the Retry Dispatcher's
// observations, and in turn the Key Scheduler's learned
// TokenCapacity, reflect real upstream usage instead of always
// reading zero. A body that isn't JSON, or lacks the field, yields
// all zeros rather than an error: token accounting is advisory, never
// load-bearing for the request itself.
func parseUsageMetadata(body []byte) (prompt, completion, total int) {
	var env usageMetadataEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, 0, 0
	}
	return env.UsageMetadata.PromptTokenCount, env.UsageMetadata.CandidatesTokenCount, env.UsageMetadata.TotalTokenCount
}

func streamRequest(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: status code 599: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		out, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upstream: status code %d: %s", resp.StatusCode, truncate(out, 256))
	}

	return resp.Body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
