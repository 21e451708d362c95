package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/netmon"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncer"
	"github.com/roach88/offsync/internal/testutil"
)

// ClientID is the client id of every scenario run.
const ClientID = "harness-client"

// Harness runs one scenario against the real store, outbox queue, network
// monitor, mutation facade and sync orchestrator. Only the server is
// scripted.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	facade   *mutation.Facade
	monitor  *netmon.Monitor
	orch     *syncer.Orchestrator
	remote   *testutil.ScriptedRemote
	clock    *testutil.FakeClock
	notices  *noticeLog
	logger   *zap.Logger

	requestsSeen int
}

// Option configures a scenario run.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger routes the components' logs to l. Runs are silent by default.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential event
// and entity ids and a stepping clock, so identical scenarios produce
// identical traces. A returned error means the scenario could not be
// executed at all; failed expectations and assertions are reported in the
// result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := model.NewRegistry()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(":memory:", registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(scenario, st, o.logger)
	defer h.orch.Wait()

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, st *store.Store, logger *zap.Logger) *Harness {
	clock := testutil.NewSteppingClock(testutil.Epoch, time.Millisecond)
	remote := testutil.NewScriptedRemote()
	notices := &noticeLog{}

	queue := outbox.New(st,
		outbox.WithClock(clock),
		outbox.WithIDGenerator(model.NewSequenceGenerator("evt")),
		outbox.WithLogger(logger),
	)
	monitor := netmon.New(
		netmon.WithInitialOnline(scenario.Online),
		netmon.WithClock(clock),
		netmon.WithLogger(logger),
	)
	orch := syncer.New(st, queue, remote,
		syncer.WithConnectivity(monitor),
		syncer.WithTenantResolver(syncer.StaticTenant(scenario.Tenant)),
		syncer.WithNotifier(notices),
		syncer.WithClientID(ClientID),
		syncer.WithClock(clock),
		syncer.WithLogger(logger),
	)
	monitor.SetSyncRequester(orch)
	facade := mutation.New(st, queue,
		mutation.WithSyncRequester(orch),
		mutation.WithConnectivity(monitor),
		mutation.WithIDGenerator(model.NewSequenceGenerator("ent")),
		mutation.WithClock(clock),
		mutation.WithLogger(logger),
	)

	return &Harness{
		scenario: scenario,
		store:    st,
		facade:   facade,
		monitor:  monitor,
		orch:     orch,
		remote:   remote,
		clock:    clock,
		notices:  notices,
		logger:   logger,
	}
}

// execute runs one step and records its effects: first the step's own
// event, then every request it caused, then the notices those requests
// produced, then the cycle summary of an explicit sync.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	var (
		stepErr error
		cycle   *syncer.CycleResult
	)

	switch {
	case step.Create != nil:
		stepErr = h.mutate(ctx, model.OpCreate, step.Create, result)
	case step.Update != nil:
		stepErr = h.mutate(ctx, model.OpUpdate, step.Update, result)
	case step.Delete != nil:
		stepErr = h.mutate(ctx, model.OpDelete, step.Delete, result)
	case step.Network != "":
		result.AddTrace(EventNetwork, step.Network, nil)
		h.monitor.SetNative(step.Network == "online")
	case step.Respond != nil:
		responder, err := responderFor(step.Respond)
		if err != nil {
			return err
		}
		h.remote.Enqueue(responder)
	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	case step.Sync != "":
		trigger, err := model.ParseTrigger(step.Sync)
		if err != nil {
			return err
		}
		res, err := h.orch.Sync(ctx, trigger)
		cycle, stepErr = &res, err
	}

	// Cycles requested in the background finish before the next step.
	h.orch.Wait()

	h.traceRequests(result)
	h.traceNotices(result)
	if cycle != nil {
		result.AddTrace(EventCycle, "sync "+string(cycle.Outcome), map[string]any{
			"trigger":      string(cycle.Trigger),
			"submitted":    cycle.Submitted,
			"acknowledged": cycle.Acknowledged,
			"conflicts":    cycle.Conflicts,
			"rejected":     cycle.Rejected,
			"reverted":     cycle.Reverted,
		})
	}

	h.checkExpect(index, step, cycle, stepErr, result)
	return nil
}

func (h *Harness) mutate(ctx context.Context, op model.Operation, m *MutationStep, result *Result) error {
	entityType, err := h.store.Registry().ParseEntityType(m.Entity)
	if err != nil {
		return err
	}
	before, err := h.store.ListEntityEvents(ctx, entityType, m.ID)
	if err != nil {
		return err
	}

	tenant := h.scenario.Tenant
	var rec model.Record
	switch op {
	case model.OpCreate:
		data := maps.Clone(m.Data)
		if data == nil {
			data = map[string]any{}
		}
		data[model.KeyID] = m.ID
		rec, err = h.facade.Create(ctx, tenant, entityType, data)
	case model.OpUpdate:
		rec, err = h.facade.Update(ctx, tenant, entityType, m.ID, m.Data)
	case model.OpDelete:
		rec, err = h.facade.Delete(ctx, tenant, entityType, m.ID)
	}
	if err != nil {
		return err
	}

	args := map[string]any{"version": int(rec.Version)}
	after, lerr := h.store.ListEntityEvents(ctx, entityType, m.ID)
	if lerr != nil {
		return lerr
	}
	if len(after) > len(before) {
		args["event_id"] = after[len(after)-1].ID
	}
	result.AddTrace(EventMutation, fmt.Sprintf("%s %s/%s", op, entityType, m.ID), args)
	return nil
}

// traceRequests records the requests the server received since the last
// call.
func (h *Harness) traceRequests(result *Result) {
	requests := h.remote.Requests()
	for _, req := range requests[h.requestsSeen:] {
		events := make([]any, len(req.Events))
		for i, ev := range req.Events {
			events[i] = map[string]any{
				"id":            ev.ID,
				"entity":        fmt.Sprintf("%s/%s", ev.EntityType, ev.EntityID),
				"operation":     string(ev.Operation),
				"local_version": int(ev.LocalVersion),
				"attempt":       ev.AttemptCount,
			}
		}
		args := map[string]any{"events": events}
		if req.LastSyncTimestamp != "" {
			args["last_sync_timestamp"] = req.LastSyncTimestamp
		}
		result.AddTrace(EventRequest, "submit", args)
	}
	h.requestsSeen = len(requests)
}

func (h *Harness) traceNotices(result *Result) {
	for _, n := range h.notices.drain() {
		result.AddTrace(EventNotice, n.action, n.args)
	}
}

func (h *Harness) checkExpect(index int, step Step, cycle *syncer.CycleResult, err error, result *Result) {
	var want ExpectClause
	if step.Expect != nil {
		want = *step.Expect
	}

	switch {
	case want.Error == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d]: unexpected error: %v", index, err))
	case want.Error != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got none", index, want.Error))
	case want.Error != "" && !strings.Contains(err.Error(), want.Error):
		result.AddError(fmt.Sprintf("steps[%d]: expected error containing %q, got %q", index, want.Error, err.Error()))
	}

	if want.Outcome != "" && cycle != nil && string(cycle.Outcome) != want.Outcome {
		result.AddError(fmt.Sprintf("steps[%d]: expected outcome %s, got %s", index, want.Outcome, cycle.Outcome))
	}

	h.logger.Debug("scenario step completed", zap.Int("step", index), zap.Error(err))
}

// responderFor turns a scripted answer into a remote responder.
func responderFor(r *ResponseStep) (testutil.Responder, error) {
	if r.Fail != "" {
		return testutil.Fail(errors.New(r.Fail)), nil
	}

	resp := model.SyncResponse{SyncTimestamp: r.SyncTimestamp}
	for _, a := range r.Acknowledge {
		resp.Acknowledged = append(resp.Acknowledged, model.Ack{OutboxEventID: a.Event, EntityID: a.EntityID})
	}
	for _, c := range r.Conflict {
		data, err := model.MarshalCanonical(c.Data)
		if err != nil {
			return nil, fmt.Errorf("conflict %s: %w", c.Event, err)
		}
		resp.Conflicts = append(resp.Conflicts, model.Conflict{OutboxEventID: c.Event, ServerData: data})
	}
	for _, rj := range r.Reject {
		resp.Rejected = append(resp.Rejected, model.Rejection{OutboxEventID: rj.Event, Reason: rj.Reason})
	}
	return testutil.Respond(resp), nil
}

type notice struct {
	action string
	args   map[string]any
}

// noticeLog collects conflict and rejection notices in delivery order.
type noticeLog struct {
	mu      sync.Mutex
	pending []notice
}

func (l *noticeLog) NotifyConflict(n model.ConflictNotice) {
	l.add(notice{
		action: fmt.Sprintf("conflict %s/%s", n.EntityType, n.EntityID),
		args: map[string]any{
			"event_id":       n.EventID,
			"local_version":  int(n.LocalVersion),
			"server_version": int(n.Server.Version),
		},
	})
}

func (l *noticeLog) NotifyRejection(n model.RejectionNotice) {
	l.add(notice{
		action: fmt.Sprintf("reject %s/%s", n.EntityType, n.EntityID),
		args: map[string]any{
			"event_id": n.EventID,
			"reason":   n.Reason,
		},
	})
}

func (l *noticeLog) add(n notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, n)
}

func (l *noticeLog) drain() []notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = nil
	return out
}
