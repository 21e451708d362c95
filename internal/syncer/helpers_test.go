package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/offsync/internal/metrics"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/store"
	tu "github.com/roach88/offsync/internal/testutil"
)

const tenant = "t1"

type noticeRecorder struct {
	mu         sync.Mutex
	conflicts  []model.ConflictNotice
	rejections []model.RejectionNotice
}

func (r *noticeRecorder) NotifyConflict(n model.ConflictNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, n)
}

func (r *noticeRecorder) NotifyRejection(n model.RejectionNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, n)
}

func (r *noticeRecorder) Conflicts() []model.ConflictNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ConflictNotice(nil), r.conflicts...)
}

func (r *noticeRecorder) Rejections() []model.RejectionNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RejectionNotice(nil), r.rejections...)
}

type env struct {
	store   *store.Store
	queue   *outbox.Queue
	facade  *mutation.Facade
	remote  *tu.ScriptedRemote
	orch    *Orchestrator
	online  *atomic.Bool
	notices *noticeRecorder
	clock   *tu.FakeClock
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	s := tu.NewStore(t)
	clock := tu.NewSteppingClock(tu.Epoch, time.Millisecond)
	q := outbox.New(s, outbox.WithClock(clock), outbox.WithIDGenerator(model.NewSequenceGenerator("evt")))

	e := &env{
		store:   s,
		queue:   q,
		remote:  tu.NewScriptedRemote(),
		online:  &atomic.Bool{},
		notices: &noticeRecorder{},
		clock:   clock,
		metrics: metrics.New(),
	}
	e.online.Store(true)

	opts = append([]Option{
		WithConnectivity(ConnectivityFunc(e.online.Load)),
		WithTenantResolver(StaticTenant(tenant)),
		WithNotifier(e.notices),
		WithClientID("client-1"),
		WithClock(clock),
		WithMetrics(e.metrics),
	}, opts...)
	e.orch = New(s, q, e.remote, opts...)
	e.facade = mutation.New(s, q, mutation.WithClock(clock))
	return e
}

func (e *env) create(t *testing.T, et model.EntityType, data map[string]any) model.Record {
	t.Helper()
	rec, err := e.facade.Create(context.Background(), tenant, et, data)
	require.NoError(t, err)
	return rec
}

func (e *env) update(t *testing.T, et model.EntityType, id string, patch map[string]any) model.Record {
	t.Helper()
	rec, err := e.facade.Update(context.Background(), tenant, et, id, patch)
	require.NoError(t, err)
	return rec
}

func (e *env) record(t *testing.T, et model.EntityType, id string) model.Record {
	t.Helper()
	col, err := e.store.Registry().Collection(et)
	require.NoError(t, err)
	rec, err := e.store.Get(context.Background(), col, id)
	require.NoError(t, err)
	return rec
}

func (e *env) events(t *testing.T) []model.OutboxEvent {
	t.Helper()
	events, err := e.queue.List(context.Background(), tenant, "")
	require.NoError(t, err)
	return events
}

func (e *env) sync(t *testing.T, trigger model.Trigger) CycleResult {
	t.Helper()
	result, err := e.orch.Sync(context.Background(), trigger)
	require.NoError(t, err)
	return result
}

func statuses(events []model.OutboxEvent) []model.EventStatus {
	out := make([]model.EventStatus, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}

// firstStatus is safe to call from a polling goroutine.
func (e *env) firstStatus() model.EventStatus {
	events, err := e.queue.List(context.Background(), tenant, "")
	if err != nil || len(events) == 0 {
		return ""
	}
	return events[0].Status
}

// The store's database handle is closed by t.Cleanup, after deferred leak checks.
var ignoreDBOpener = goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener")
