package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/netmon"
	"github.com/roach88/offsync/internal/syncer"
)

// Status is a point-in-time view of the client.
type Status struct {
	Tenant       string            `json:"tenant"`
	ClientID     string            `json:"clientId"`
	Network      netmon.State      `json:"network"`
	NetworkSince time.Time         `json:"networkSince"`
	Sync         syncer.State      `json:"sync"`
	SyncEnabled  bool              `json:"syncEnabled"`
	Stats        syncer.Stats      `json:"stats"`
	Outbox       model.EventCounts `json:"outbox"`
	SyncState    *model.SyncState  `json:"syncState,omitempty"`
}

// Status collects the client's current state.
func (a *App) Status(ctx context.Context) (Status, error) {
	network, since := a.Monitor.State()
	st := Status{
		Tenant:       a.Config.Tenant,
		Network:      network,
		NetworkSince: since,
		Sync:         a.Orchestrator.State(),
		SyncEnabled:  a.SyncEnabled(),
		Stats:        a.Orchestrator.Stats(),
	}

	clientID, err := a.Orchestrator.ClientID(ctx)
	if err != nil {
		return Status{}, err
	}
	st.ClientID = clientID

	if st.Outbox, err = a.Queue.Counts(ctx, a.Config.Tenant); err != nil {
		return Status{}, err
	}

	if a.Config.Tenant != "" {
		state, found, err := a.Store.GetSyncState(ctx, a.Config.Tenant)
		if err != nil {
			return Status{}, err
		}
		if found {
			st.SyncState = &state
		}
	}
	return st, nil
}

// Router serves /metrics and /status.
func (a *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	return r
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.Status(r.Context())
	if err != nil {
		a.Logger.Error("status request failed", zap.Error(err))
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		a.Logger.Debug("write status response", zap.Error(err))
	}
}
