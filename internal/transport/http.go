// Package transport is the client of the remote sync endpoint.
//
// The endpoint accepts POST with a JSON SyncRequest and answers 2xx with a
// JSON SyncResponse. Every failure (network, timeout, non-2xx, undecodable
// body) is reported as a model transport error; the orchestrator treats
// them all alike and retries on a later cycle.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/model"
)

// DefaultTimeout bounds one sync request, including reading the response.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a non-2xx body is quoted in errors.
const maxErrorBody = 512

// UserAgent identifies the client to the backend.
var UserAgent = "offsync/dev"

// HTTPRemote submits sync batches over HTTP.
//
// Thread-safety: safe for concurrent use.
type HTTPRemote struct {
	endpoint  string
	authToken string
	timeout   time.Duration
	client    *http.Client
	logger    *zap.Logger
}

// Option configures an HTTPRemote.
type Option func(*HTTPRemote)

// WithAuthToken sends Authorization: Bearer <token> with every request.
func WithAuthToken(token string) Option {
	return func(r *HTTPRemote) { r.authToken = token }
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *HTTPRemote) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *HTTPRemote) { r.client = c }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(r *HTTPRemote) { r.logger = l }
}

// NewHTTPRemote creates a client for the given endpoint URL.
func NewHTTPRemote(endpoint string, opts ...Option) *HTTPRemote {
	r := &HTTPRemote{
		endpoint: endpoint,
		timeout:  DefaultTimeout,
		client:   http.DefaultClient,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Endpoint returns the configured endpoint URL.
func (r *HTTPRemote) Endpoint() string { return r.endpoint }

// Submit posts req and decodes the response.
func (r *HTTPRemote) Submit(ctx context.Context, req model.SyncRequest) (model.SyncResponse, error) {
	if req.Events == nil {
		req.Events = []model.OutboxEvent{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return model.SyncResponse{}, model.NewTransportError("encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.SyncResponse{}, model.NewTransportError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)
	if r.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return model.SyncResponse{}, model.NewTransportError("submit", err)
	}
	defer resp.Body.Close()

	r.logger.Debug("sync request completed",
		zap.String("endpoint", r.endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("events", len(req.Events)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return model.SyncResponse{}, model.NewTransportError("submit",
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out model.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.SyncResponse{}, model.NewTransportError("decode response", err)
	}
	return out, nil
}
