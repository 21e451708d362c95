package netmon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/offsync/internal/metrics"
	"github.com/roach88/offsync/internal/model"
)

type recordingRequester struct {
	mu       sync.Mutex
	triggers []model.Trigger
}

func (r *recordingRequester) RequestSync(trigger model.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trigger)
}

func (r *recordingRequester) Triggers() []model.Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Trigger(nil), r.triggers...)
}

type transitionLog struct {
	mu   sync.Mutex
	seen []bool
}

func (l *transitionLog) NetworkChanged(online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, online)
}

func (l *transitionLog) Seen() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.seen...)
}

func TestMonitor_InitialState(t *testing.T) {
	assert.False(t, New().IsOnline())
	assert.True(t, New(WithInitialOnline(true)).IsOnline())
}

func TestMonitor_DeduplicatesTransitions(t *testing.T) {
	log := &transitionLog{}
	m := New()
	m.Subscribe(log)

	m.SetNative(false)
	m.SetNative(true)
	m.SetNative(true)
	m.SetNative(false)
	m.SetNative(false)

	assert.Equal(t, []bool{true, false}, log.Seen())
}

func TestMonitor_ReconnectRequestsSyncOnce(t *testing.T) {
	req := &recordingRequester{}
	m := New(WithSyncRequester(req))

	m.SetNative(true)
	m.SetNative(true)

	assert.Equal(t, []model.Trigger{model.TriggerReconnect}, req.Triggers())

	m.SetNative(false)
	assert.Len(t, req.Triggers(), 1, "going offline must not request a sync")

	m.SetNative(true)
	assert.Len(t, req.Triggers(), 2)
}

func TestMonitor_LateSyncRequester(t *testing.T) {
	req := &recordingRequester{}
	m := New()
	m.SetSyncRequester(req)

	m.SetNative(true)
	assert.Equal(t, []model.Trigger{model.TriggerReconnect}, req.Triggers())
}

func TestMonitor_ListenersInSubscriptionOrder(t *testing.T) {
	m := New()
	var order []string
	m.Subscribe(ListenerFunc(func(bool) { order = append(order, "first") }))
	m.Subscribe(ListenerFunc(func(bool) { order = append(order, "second") }))

	m.SetNative(true)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := New()
	var calls atomic.Int32
	unsubscribe := m.Subscribe(ListenerFunc(func(bool) { calls.Add(1) }))

	m.SetNative(true)
	unsubscribe()
	unsubscribe()
	m.SetNative(false)

	assert.Equal(t, int32(1), calls.Load())
}

func TestMonitor_ListenerCanReadState(t *testing.T) {
	m := New()
	var seen bool
	m.Subscribe(ListenerFunc(func(bool) { seen = m.IsOnline() }))

	m.SetNative(true)
	assert.True(t, seen)
}

func TestMonitor_StateTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	m := New(WithClock(model.ClockFunc(func() time.Time { return now })))

	now = now.Add(time.Minute)
	m.SetNative(true)

	state, at := m.State()
	assert.Equal(t, Online, state)
	assert.Equal(t, now, at)
}

func TestMonitor_Metrics(t *testing.T) {
	mt := metrics.New()
	m := New(WithMetrics(mt))
	assert.Equal(t, 0.0, testutil.ToFloat64(mt.NetworkOnline))

	m.SetNative(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.NetworkOnline))
}

func TestMonitor_Check(t *testing.T) {
	var healthy atomic.Bool
	m := New(WithProber(ProberFunc(func(context.Context) bool { return healthy.Load() })))

	assert.False(t, m.Check(context.Background()))
	healthy.Store(true)
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.IsOnline())
}

func TestMonitor_CheckWithoutProber(t *testing.T) {
	m := New(WithInitialOnline(true))
	assert.True(t, m.Check(context.Background()))
}

func TestMonitor_CancelledProbeKeepsState(t *testing.T) {
	m := New(WithInitialOnline(true), WithProber(ProberFunc(func(context.Context) bool { return false })))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Check(ctx)
	assert.True(t, m.IsOnline())
}

func TestMonitor_RunProbesPeriodically(t *testing.T) {
	defer goleak.VerifyNone(t)

	var probes atomic.Int32
	var healthy atomic.Bool
	req := &recordingRequester{}
	m := New(
		WithProbeInterval(5*time.Millisecond),
		WithSyncRequester(req),
		WithProber(ProberFunc(func(context.Context) bool {
			probes.Add(1)
			return healthy.Load()
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return probes.Load() >= 2 }, time.Second, time.Millisecond)
	assert.False(t, m.IsOnline())

	healthy.Store(true)
	require.Eventually(t, m.IsOnline, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(req.Triggers()) == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMonitor_RunWithoutProberBlocksUntilCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New().Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestMonitor_Watch(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &transitionLog{}
	m := New()
	m.Subscribe(log)

	ch := make(chan bool)
	done := make(chan struct{})
	go func() {
		m.Watch(context.Background(), ch)
		close(done)
	}()

	ch <- true
	ch <- true
	ch <- false
	close(ch)
	<-done

	assert.Equal(t, []bool{true, false}, log.Seen())
}

func TestMonitor_WatchStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New().Watch(ctx, make(chan bool))
		close(done)
	}()

	cancel()
	<-done
}
