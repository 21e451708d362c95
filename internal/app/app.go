// Package app wires the offsync components into a running client.
//
// The wiring order matters: the orchestrator depends on the monitor for
// connectivity while the monitor requests syncs from the orchestrator, so
// the monitor's sync requester is attached after both exist.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/metrics"
	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/netmon"
	"github.com/roach88/offsync/internal/outbox"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncer"
	"github.com/roach88/offsync/internal/transport"
)

// ErrNoEndpoint is the transport error of a client without sync.endpoint.
var ErrNoEndpoint = errors.New("sync endpoint not configured")

// App holds the wired components of one client.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Store        *store.Store
	Queue        *outbox.Queue
	Monitor      *netmon.Monitor
	Orchestrator *syncer.Orchestrator
	Facade       *mutation.Facade

	interfaces  *netmon.InterfaceSource
	syncEnabled bool
}

type options struct {
	remote     syncer.Remote
	prober     netmon.Prober
	interfaces *netmon.InterfaceSource
	notifier   syncer.Notifier
	clock      model.Clock
	ids        model.IDGenerator
}

// Option overrides a component, mostly for tests.
type Option func(*options)

// WithRemote replaces the HTTP transport.
func WithRemote(r syncer.Remote) Option {
	return func(o *options) { o.remote = r }
}

// WithProber replaces the health-URL prober.
func WithProber(p netmon.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithInterfaceSource replaces the host interface poller.
func WithInterfaceSource(s *netmon.InterfaceSource) Option {
	return func(o *options) { o.interfaces = s }
}

// WithNotifier sets the conflict and rejection notifier.
func WithNotifier(n syncer.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock sets the clock of every component.
func WithClock(c model.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator sets the generator of entity and event ids.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// New opens the store, recovers claims left by a previous process and
// wires every component. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{clock: model.SystemClock{}, ids: model.UUIDv4Generator{}}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("resolve entity types: %w", err)
	}

	st, err := store.Open(cfg.Database, registry)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Store:   st,
	}

	a.Queue = outbox.New(st,
		outbox.WithClock(o.clock),
		outbox.WithIDGenerator(o.ids),
		outbox.WithClaimTimeout(cfg.Sync.ClaimTimeout),
		outbox.WithLogger(logger.Named("outbox")),
	)
	recovered, err := a.Queue.Recover(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("recover outbox: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted sync claims", zap.Int64("events", recovered))
	}

	a.interfaces = o.interfaces
	if a.interfaces == nil {
		a.interfaces = netmon.NewInterfaceSource(logger.Named("netmon"))
	}
	monitorOpts := []netmon.Option{
		netmon.WithInitialOnline(a.initialOnline()),
		netmon.WithProbeInterval(cfg.Network.ProbeInterval),
		netmon.WithClock(o.clock),
		netmon.WithLogger(logger.Named("netmon")),
		netmon.WithMetrics(a.Metrics),
	}
	if prober := a.prober(o.prober); prober != nil {
		monitorOpts = append(monitorOpts, netmon.WithProber(prober))
	}
	a.Monitor = netmon.New(monitorOpts...)

	remote := o.remote
	if remote == nil {
		remote = a.httpRemote()
	}
	a.syncEnabled = o.remote != nil || cfg.Sync.Endpoint != ""

	syncOpts := []syncer.Option{
		syncer.WithConnectivity(a.Monitor),
		syncer.WithTenantResolver(syncer.StaticTenant(cfg.Tenant)),
		syncer.WithClientID(cfg.ClientID),
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithBackoff(cfg.Sync.BackoffMin, cfg.Sync.BackoffMax),
		syncer.WithClock(o.clock),
		syncer.WithLogger(logger.Named("syncer")),
		syncer.WithMetrics(a.Metrics),
	}
	if o.notifier != nil {
		syncOpts = append(syncOpts, syncer.WithNotifier(o.notifier))
	}
	a.Orchestrator = syncer.New(st, a.Queue, remote, syncOpts...)

	facadeOpts := []mutation.Option{
		mutation.WithConnectivity(a.Monitor),
		mutation.WithIDGenerator(o.ids),
		mutation.WithClock(o.clock),
		mutation.WithLogger(logger.Named("mutation")),
		mutation.WithMetrics(a.Metrics),
	}
	if a.SyncEnabled() {
		facadeOpts = append(facadeOpts, mutation.WithSyncRequester(a.Orchestrator))
		a.Monitor.SetSyncRequester(a.Orchestrator)
	}
	a.Facade = mutation.New(st, a.Queue, facadeOpts...)

	if counts, err := a.Queue.Counts(ctx, cfg.Tenant); err == nil {
		a.Metrics.UpdatePending(counts.Pending)
	}

	return a, nil
}

// SyncEnabled reports whether a sync endpoint (or test remote) is
// available, i.e. whether mutations and reconnects trigger cycles.
func (a *App) SyncEnabled() bool {
	return a.syncEnabled
}

// Tenant returns the configured tenant.
func (a *App) Tenant() string {
	return a.Config.Tenant
}

// Close stops the orchestrator, waits for running cycles and closes the
// store.
func (a *App) Close() error {
	a.Orchestrator.Stop()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// initialOnline reads the native signal once. initial_online forces the
// monitor online for hosts whose interfaces cannot be inspected.
func (a *App) initialOnline() bool {
	if a.Config.Network.InitialOnline {
		return true
	}
	online, err := a.interfaces.Online()
	if err != nil {
		a.Logger.Warn("read network interfaces", zap.Error(err))
		return false
	}
	return online
}

func (a *App) prober(override netmon.Prober) netmon.Prober {
	if override != nil {
		return override
	}
	if a.Config.Network.HealthURL == "" {
		return nil
	}
	p := netmon.NewHTTPProber(a.Config.Network.HealthURL, a.Logger.Named("probe"))
	p.Timeout = a.Config.Network.ProbeTimeout
	return p
}

func (a *App) httpRemote() syncer.Remote {
	if a.Config.Sync.Endpoint == "" {
		return unconfiguredRemote{}
	}
	opts := []transport.Option{
		transport.WithTimeout(a.Config.Sync.Timeout),
		transport.WithLogger(a.Logger.Named("transport")),
	}
	if a.Config.Sync.AuthToken != "" {
		opts = append(opts, transport.WithAuthToken(a.Config.Sync.AuthToken))
	}
	return transport.NewHTTPRemote(a.Config.Sync.Endpoint, opts...)
}

// unconfiguredRemote fails every submission.
type unconfiguredRemote struct{}

func (unconfiguredRemote) Submit(context.Context, model.SyncRequest) (model.SyncResponse, error) {
	return model.SyncResponse{}, model.NewTransportError("submit", ErrNoEndpoint)
}
