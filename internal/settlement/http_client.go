package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
)

const defaultTimeout = 30 * time.Second

// HTTPConfig configures the remote facilitator client.
type HTTPConfig struct {
	// URL is the facilitator base URL; /verify and /settle are appended.
	URL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPBackend talks to a remote x402 facilitator over HTTP.
type HTTPBackend struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a facilitator client.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPBackend{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

// Verify posts the payment to /verify. A 200 response or an error response
// carrying an invalidReason is a verdict; anything else is ErrUnavailable.
func (b *HTTPBackend) Verify(ctx context.Context, req *v1.FacilitatorRequest) (*v1.VerifyResponse, error) {
	var resp v1.VerifyResponse
	status, err := b.post(ctx, "/verify", req, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && resp.InvalidReason == "" {
		return nil, fmt.Errorf("%w: verify returned status %d", ErrUnavailable, status)
	}
	if status != http.StatusOK {
		resp.IsValid = false
	}
	return &resp, nil
}

// Settle posts the payment to /settle. A 200 response or an error response
// carrying an errorReason is a verdict; anything else is ErrUnavailable.
func (b *HTTPBackend) Settle(ctx context.Context, req *v1.FacilitatorRequest) (*v1.SettleResponse, error) {
	var resp v1.SettleResponse
	status, err := b.post(ctx, "/settle", req, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && resp.ErrorReason == "" {
		return nil, fmt.Errorf("%w: settle returned status %d", ErrUnavailable, status)
	}
	if status != http.StatusOK {
		resp.Success = false
	}
	return &resp, nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body interface{}, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s request failed: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read %s response: %v", ErrUnavailable, path, err)
	}

	slog.Debug("[Settlement] Facilitator call",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, fmt.Errorf("%w: %s returned status %d", ErrUnavailable, path, resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return 0, fmt.Errorf("%w: failed to unmarshal %s response: %v", ErrUnavailable, path, err)
	}
	return resp.StatusCode, nil
}
