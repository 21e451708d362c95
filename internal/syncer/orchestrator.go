package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/offsync/internal/metrics"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/store"
)

// DefaultInterval is the period of the timer trigger.
const DefaultInterval = 5 * time.Minute

// cycleKey is the single-flight key; there is only ever one cycle.
const cycleKey = "sync-cycle"

// Remote submits a batch to the sync endpoint.
// Implemented by transport.HTTPRemote.
type Remote interface {
	Submit(ctx context.Context, req model.SyncRequest) (model.SyncResponse, error)
}

// Connectivity reports whether the network is usable.
// Implemented by netmon.Monitor.
type Connectivity interface {
	IsOnline() bool
}

// ConnectivityFunc adapts a function to the Connectivity interface.
type ConnectivityFunc func() bool

// IsOnline calls f.
func (f ConnectivityFunc) IsOnline() bool { return f() }

// AlwaysOnline is the default Connectivity.
var AlwaysOnline = ConnectivityFunc(func() bool { return true })

// TenantResolver supplies the active tenant context. ok is false when no
// tenant is active (e.g. nobody is signed in).
type TenantResolver interface {
	ActiveTenant() (tenantID string, ok bool)
}

// StaticTenant is a fixed tenant; the empty string means none.
type StaticTenant string

// ActiveTenant returns the tenant if non-empty.
func (t StaticTenant) ActiveTenant() (string, bool) { return string(t), t != "" }

// State is the orchestrator's state.
type State string

const (
	Idle    State = "idle"
	Syncing State = "syncing"
)

// Orchestrator is the single-flight sync cycle runner.
//
// Thread-safety: safe for concurrent use. Sync, RequestSync and Run may be
// called from any goroutine; concurrent triggers share one cycle.
type Orchestrator struct {
	store    *store.Store
	queue    *outbox.Queue
	remote   Remote
	conn     Connectivity
	tenants  TenantResolver
	notifier Notifier
	clientID string
	interval time.Duration
	clock    model.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	group   singleflight.Group
	backoff backoff

	syncing  atomic.Bool
	cycles   atomic.Int64
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	clientMu sync.Mutex
	active   tracker
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConnectivity sets the connectivity source. Default: AlwaysOnline.
func WithConnectivity(c Connectivity) Option {
	return func(o *Orchestrator) { o.conn = c }
}

// WithTenantResolver sets the tenant source. Default: no tenant.
func WithTenantResolver(r TenantResolver) Option {
	return func(o *Orchestrator) { o.tenants = r }
}

// WithNotifier sets the notifier. Default: LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClientID sets the client id sent with every batch. Default: the id
// persisted in the store (generated on first use).
func WithClientID(id string) Option {
	return func(o *Orchestrator) { o.clientID = id }
}

// WithInterval sets the timer trigger period. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithBackoff sets the transport-failure backoff bounds.
// Default: 1s doubling up to 5m.
func WithBackoff(min, max time.Duration) Option {
	return func(o *Orchestrator) {
		if min > 0 {
			o.backoff.min = min
		}
		if max >= o.backoff.min {
			o.backoff.max = max
		}
	}
}

// WithClock sets the clock used for _lastSync, claims and backoff.
func WithClock(c model.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(s *store.Store, q *outbox.Queue, remote Remote, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    s,
		queue:    q,
		remote:   remote,
		conn:     AlwaysOnline,
		tenants:  StaticTenant(""),
		interval: DefaultInterval,
		clock:    model.SystemClock{},
		logger:   zap.NewNop(),
		backoff:  backoff{min: DefaultBackoffMin, max: DefaultBackoffMax},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{Logger: o.logger}
	}
	return o
}

// Sync runs a sync cycle, or joins the one in flight, and returns its
// result. The cycle itself is detached from ctx: if ctx ends first, Sync
// returns ctx.Err() and the cycle still runs to completion.
//
// Offline, tenant-less, backed-off and empty-outbox cycles are no-ops that
// return a nil error. A failed cycle returns a transport or storage error;
// its events are back in PENDING either way.
func (o *Orchestrator) Sync(ctx context.Context, trigger model.Trigger) (CycleResult, error) {
	if !o.active.add() {
		return CycleResult{Trigger: trigger, Outcome: OutcomeStopped}, ErrStopped
	}
	cycleCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan(cycleKey, func() (any, error) {
		return o.runCycle(cycleCtx, trigger)
	})

	select {
	case res := <-ch:
		o.active.done()
		result, _ := res.Val.(CycleResult)
		result.Shared = res.Shared
		return result, res.Err
	case <-ctx.Done():
		// The cycle keeps running; Wait and Stop still cover it.
		go func() {
			<-ch
			o.active.done()
		}()
		return CycleResult{Trigger: trigger, Outcome: OutcomeAbandoned}, ctx.Err()
	}
}

// RequestSync triggers a cycle without waiting for it. Errors are logged.
// After Stop it does nothing.
// Implements netmon.SyncRequester.
func (o *Orchestrator) RequestSync(trigger model.Trigger) {
	if !o.active.add() {
		o.logger.Debug("sync request ignored after stop", zap.String("trigger", string(trigger)))
		return
	}
	go func() {
		defer o.active.done()
		result, err := o.Sync(context.Background(), trigger)
		if err != nil && !errors.Is(err, ErrStopped) {
			o.logger.Warn("requested sync failed",
				zap.String("trigger", string(trigger)),
				zap.String("outcome", string(result.Outcome)),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every started cycle has finished, including cycles
// whose callers gave up on them.
func (o *Orchestrator) Wait() {
	o.active.wait()
}

// Stop refuses new cycles and waits for the running ones. Sync returns
// ErrStopped afterwards.
func (o *Orchestrator) Stop() {
	o.active.close()
}

// Run fires the timer trigger every interval until ctx is done, then waits
// for every started cycle to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("sync orchestrator started", zap.Duration("interval", o.interval))
	defer o.logger.Info("sync orchestrator stopped")
	defer o.Wait()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.Sync(ctx, model.TriggerTimer); err != nil && ctx.Err() == nil {
				o.logger.Warn("timer sync failed", zap.Error(err))
			}
		}
	}
}

// State reports whether a cycle is in flight.
func (o *Orchestrator) State() State {
	if o.syncing.Load() {
		return Syncing
	}
	return Idle
}

// Stats counts cycles actually executed (joined triggers are not counted)
// and the highest number of cycles ever observed running at once.
type Stats struct {
	Cycles              int64 `json:"cycles"`
	MaxConcurrentCycles int32 `json:"maxConcurrentCycles"`
	ConsecutiveFailures int   `json:"consecutiveFailures"`
}

// Stats returns the instrumentation counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Cycles:              o.cycles.Load(),
		MaxConcurrentCycles: o.maxSeen.Load(),
		ConsecutiveFailures: o.backoff.consecutiveFailures(),
	}
}

// ClientID returns the client id sent with batches, loading or creating
// the persisted one on first use.
func (o *Orchestrator) ClientID(ctx context.Context) (string, error) {
	o.clientMu.Lock()
	defer o.clientMu.Unlock()
	if o.clientID != "" {
		return o.clientID, nil
	}
	id, err := o.store.ClientID(ctx, model.UUIDv4Generator{})
	if err != nil {
		return "", err
	}
	o.clientID = id
	return id, nil
}

func (o *Orchestrator) enter() {
	o.syncing.Store(true)
	o.cycles.Add(1)
	n := o.inFlight.Add(1)
	for {
		seen := o.maxSeen.Load()
		if n <= seen || o.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
}

func (o *Orchestrator) exit() {
	o.inFlight.Add(-1)
	o.syncing.Store(false)
}
