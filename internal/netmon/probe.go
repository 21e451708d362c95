package netmon

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 5 * time.Second

// Prober actively checks reachability of the backend.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// HTTPProber issues HEAD <URL>; any 2xx answer means online.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
}

// NewHTTPProber creates a prober with the default timeout.
func NewHTTPProber(url string, logger *zap.Logger) *HTTPProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProber{URL: url, Timeout: DefaultProbeTimeout, Client: http.DefaultClient, Logger: logger}
}

// Probe reports whether the health endpoint answered 2xx within the timeout.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		logger.Warn("invalid health probe request", zap.String("url", p.URL), zap.Error(err))
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Debug("health probe failed", zap.String("url", p.URL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		logger.Debug("health probe unhealthy", zap.String("url", p.URL), zap.Int("status", resp.StatusCode))
	}
	return ok
}
