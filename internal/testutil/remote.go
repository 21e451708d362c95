package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/offsync/internal/model"
)

// DefaultSyncTimestamp is the syncTimestamp returned by AckAll responses.
const DefaultSyncTimestamp = "2026-01-05T08:00:00Z"

// ErrNetwork is the error returned by Offline responders.
var ErrNetwork = errors.New("network unreachable")

// Responder computes the remote's answer to one sync request.
type Responder func(req model.SyncRequest) (model.SyncResponse, error)

// AckAll acknowledges every event in the request under its own entity id.
func AckAll(syncTimestamp string) Responder {
	return func(req model.SyncRequest) (model.SyncResponse, error) {
		resp := model.SyncResponse{SyncTimestamp: syncTimestamp}
		for _, ev := range req.Events {
			resp.Acknowledged = append(resp.Acknowledged, model.Ack{OutboxEventID: ev.ID, EntityID: ev.EntityID})
		}
		return resp, nil
	}
}

// Respond returns resp regardless of the request.
func Respond(resp model.SyncResponse) Responder {
	return func(model.SyncRequest) (model.SyncResponse, error) { return resp, nil }
}

// Fail returns err as a transport error.
func Fail(err error) Responder {
	return func(model.SyncRequest) (model.SyncResponse, error) {
		return model.SyncResponse{}, model.NewTransportError("submit", err)
	}
}

// ScriptedRemote is an in-memory sync endpoint.
//
// Queued responders answer requests in order; once the script is exhausted
// the fallback (AckAll by default) answers. Every request is recorded.
// Block/Release hold submissions open so tests can overlap triggers with an
// in-flight cycle.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedRemote struct {
	mu       sync.Mutex
	script   []Responder
	fallback Responder
	requests []model.SyncRequest

	gate    chan struct{}
	entered chan struct{}
}

// NewScriptedRemote creates a remote that acknowledges everything.
func NewScriptedRemote() *ScriptedRemote {
	return &ScriptedRemote{
		fallback: AckAll(DefaultSyncTimestamp),
		entered:  make(chan struct{}, 64),
	}
}

// Enqueue appends responders to the script.
func (r *ScriptedRemote) Enqueue(responders ...Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, responders...)
}

// SetFallback replaces the responder used once the script is exhausted.
func (r *ScriptedRemote) SetFallback(fallback Responder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = fallback
}

// Block makes subsequent submissions wait until Release.
func (r *ScriptedRemote) Block() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate == nil {
		r.gate = make(chan struct{})
	}
}

// Release lets blocked submissions proceed.
func (r *ScriptedRemote) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
}

// Entered receives one value per Submit call, after the request is recorded
// and before the response is computed.
func (r *ScriptedRemote) Entered() <-chan struct{} {
	return r.entered
}

// Submit records req and answers it from the script.
func (r *ScriptedRemote) Submit(ctx context.Context, req model.SyncRequest) (model.SyncResponse, error) {
	r.mu.Lock()
	r.requests = append(r.requests, copyRequest(req))
	gate := r.gate
	var respond Responder
	if len(r.script) > 0 {
		respond, r.script = r.script[0], r.script[1:]
	} else {
		respond = r.fallback
	}
	r.mu.Unlock()

	select {
	case r.entered <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.SyncResponse{}, model.NewTransportError("submit", ctx.Err())
		}
	}
	return respond(req)
}

// Requests returns every recorded request in submission order.
func (r *ScriptedRemote) Requests() []model.SyncRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.SyncRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// Calls returns the number of Submit calls.
func (r *ScriptedRemote) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func copyRequest(req model.SyncRequest) model.SyncRequest {
	out := req
	out.Events = append([]model.OutboxEvent(nil), req.Events...)
	return out
}
