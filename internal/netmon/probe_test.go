package netmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/offsync/internal/testutil"
)

func TestHTTPProber_HealthyAndUnhealthy(t *testing.T) {
	srv := testutil.NewSyncServer(t)
	p := NewHTTPProber(srv.HealthURL(), nil)

	assert.True(t, p.Probe(context.Background()))

	srv.SetHealthy(false)
	assert.False(t, p.Probe(context.Background()))
}

func TestHTTPProber_UsesHEAD(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	assert.True(t, NewHTTPProber(srv.URL, nil).Probe(context.Background()))
	assert.Equal(t, http.MethodHead, method)
}

func TestHTTPProber_Non2xxIsOffline(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusNotFound, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		p := &HTTPProber{URL: srv.URL, Client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}}
		assert.False(t, p.Probe(context.Background()), "status %d", status)
		srv.Close()
	}
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := &HTTPProber{URL: srv.URL, Timeout: 20 * time.Millisecond}
	start := time.Now()
	assert.False(t, p.Probe(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPProber_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.False(t, NewHTTPProber(url, nil).Probe(context.Background()))
	assert.False(t, NewHTTPProber("://bad", nil).Probe(context.Background()))
}
