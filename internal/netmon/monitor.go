package netmon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/metrics"
	"github.com/roach88/offsync/internal/model"
)

// DefaultProbeInterval is the period of the active probe loop.
const DefaultProbeInterval = 30 * time.Second

// State is the connectivity state.
type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

func stateOf(online bool) State {
	if online {
		return Online
	}
	return Offline
}

// Listener observes connectivity transitions.
type Listener interface {
	NetworkChanged(online bool)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(online bool)

// NetworkChanged calls f.
func (f ListenerFunc) NetworkChanged(online bool) { f(online) }

// SyncRequester receives the reconnect trigger. Implemented by the sync
// orchestrator; RequestSync must not block.
type SyncRequester interface {
	RequestSync(trigger model.Trigger)
}

type subscription struct {
	id       uint64
	listener Listener
}

// Monitor is the connectivity state machine.
//
// Thread-safety: safe for concurrent use. Listeners are notified
// synchronously, in subscription order, one transition at a time; a
// listener must not call SetNative or Check from its callback.
type Monitor struct {
	notifyMu sync.Mutex // serializes transitions and their notifications

	mu        sync.Mutex
	online    bool
	changedAt time.Time
	subs      []subscription
	nextID    uint64
	requester SyncRequester

	prober   Prober
	interval time.Duration
	clock    model.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInitialOnline sets the initial state, normally read from the native
// signal at startup. Default: offline.
func WithInitialOnline(online bool) Option {
	return func(m *Monitor) { m.online = online }
}

// WithProber sets the active prober used by Run and Check.
func WithProber(p Prober) Option {
	return func(m *Monitor) { m.prober = p }
}

// WithProbeInterval sets the probe period. Non-positive values are ignored.
func WithProbeInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSyncRequester sets the orchestrator notified on reconnect.
func WithSyncRequester(r SyncRequester) Option {
	return func(m *Monitor) { m.requester = r }
}

// WithClock sets the clock used for transition timestamps.
func WithClock(c model.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// New creates a Monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		interval: DefaultProbeInterval,
		clock:    model.SystemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.changedAt = m.clock.Now()
	m.metrics.UpdateOnline(m.online)
	return m
}

// SetSyncRequester sets the orchestrator after construction. The monitor and
// the orchestrator reference each other, so one side is wired late.
func (m *Monitor) SetSyncRequester(r SyncRequester) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requester = r
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// State returns the current state and when it was entered.
func (m *Monitor) State() (State, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return stateOf(m.online), m.changedAt
}

// Subscribe registers a listener and returns a func that removes it.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, listener: l})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SetNative applies a native connectivity edge event.
func (m *Monitor) SetNative(online bool) {
	m.transition(online, "native")
}

// Watch applies native events from ch until ctx is done or ch is closed.
func (m *Monitor) Watch(ctx context.Context, ch <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			m.transition(online, "native")
		}
	}
}

// Check runs one active probe and applies its result. Without a prober the
// current state is returned unchanged.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	online := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		// Cancelled probes say nothing about the network.
		return m.IsOnline()
	}
	m.transition(online, "probe")
	return online
}

// Run probes immediately and then every probe interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	m.logger.Info("network monitor started", zap.Duration("probe_interval", m.interval))
	defer m.logger.Info("network monitor stopped")

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// transition applies a signal. Repeated signals of the current state are
// dropped.
func (m *Monitor) transition(online bool, source string) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.changedAt = m.clock.Now()
	subs := append([]subscription(nil), m.subs...)
	requester := m.requester
	m.mu.Unlock()

	m.logger.Info("network state changed",
		zap.String("state", string(stateOf(online))),
		zap.String("source", source),
	)
	m.metrics.UpdateOnline(online)

	for _, s := range subs {
		s.listener.NetworkChanged(online)
	}

	if online && requester != nil {
		requester.RequestSync(model.TriggerReconnect)
	}
}
