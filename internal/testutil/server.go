package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"

	"github.com/roach88/offsync/internal/model"
)

// Paths served by SyncServer.
const (
	SyncPath   = "/api/sync"
	HealthPath = "/health"
)

// SyncServer is a fake HTTP sync backend: POST SyncPath answers from a
// ScriptedRemote, HEAD HealthPath answers 200 while healthy and 503 otherwise.
type SyncServer struct {
	*httptest.Server

	Remote *ScriptedRemote

	healthy atomic.Bool

	mu      sync.Mutex
	headers []http.Header
	status  int
}

// NewSyncServer starts a healthy fake backend and closes it on cleanup.
func NewSyncServer(t testing.TB) *SyncServer {
	t.Helper()
	s := &SyncServer{Remote: NewScriptedRemote()}
	s.healthy.Store(true)

	router := mux.NewRouter()
	router.HandleFunc(SyncPath, s.handleSync).Methods(http.MethodPost)
	router.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodHead, http.MethodGet)

	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

// SyncURL returns the absolute sync endpoint URL.
func (s *SyncServer) SyncURL() string { return s.URL + SyncPath }

// HealthURL returns the absolute health endpoint URL.
func (s *SyncServer) HealthURL() string { return s.URL + HealthPath }

// SetHealthy toggles the health endpoint.
func (s *SyncServer) SetHealthy(healthy bool) { s.healthy.Store(healthy) }

// FailWith makes the sync endpoint answer with the given HTTP status
// (0 restores normal answers).
func (s *SyncServer) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Headers returns the headers of every received sync request.
func (s *SyncServer) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

func (s *SyncServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.healthy.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *SyncServer) handleSync(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	status := s.status
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.Remote.Submit(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
