// Package metrics exposes Prometheus instrumentation for the sync engine.
//
// Each Metrics owns its registry so several engines (and tests) can live in
// one process. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for offsync_outbox_events_total.
const (
	OutcomeSynced   = "synced"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
	OutcomeReverted = "reverted"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Sync cycle metrics
	SyncCycles    *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Outbox metrics
	OutboxEvents  *prometheus.CounterVec
	OutboxPending prometheus.Gauge
	Conflicts     prometheus.Counter

	// Mutation metrics
	Mutations *prometheus.CounterVec

	// Connectivity
	NetworkOnline prometheus.Gauge
}

// New creates and registers the metrics on a fresh registry. Go runtime and
// process collectors are registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SyncCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offsync_sync_cycles_total",
				Help: "Total number of sync cycles by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "offsync_sync_cycle_duration_seconds",
				Help:    "Duration of sync cycles that reached the remote endpoint",
				Buckets: prometheus.DefBuckets,
			},
		),

		OutboxEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offsync_outbox_events_total",
				Help: "Total number of outbox events settled by a sync cycle",
			},
			[]string{"outcome"},
		),

		OutboxPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "offsync_outbox_pending",
				Help: "Pending outbox events after the last sync cycle",
			},
		),

		Conflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "offsync_conflicts_total",
				Help: "Total number of conflicts resolved server-wins",
			},
		),

		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "offsync_mutations_total",
				Help: "Total number of local mutations by operation",
			},
			[]string{"operation"},
		),

		NetworkOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "offsync_network_online",
				Help: "1 if the network monitor reports online, 0 otherwise",
			},
		),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle records a finished sync cycle. A zero duration (no network
// call was made) is not observed in the histogram.
func (m *Metrics) RecordCycle(trigger, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncCycles.WithLabelValues(trigger, outcome).Inc()
	if duration > 0 {
		m.CycleDuration.Observe(duration.Seconds())
	}
}

// RecordEvents records n events settled with the given outcome.
func (m *Metrics) RecordEvents(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxEvents.WithLabelValues(outcome).Add(float64(n))
	if outcome == OutcomeConflict {
		m.Conflicts.Add(float64(n))
	}
}

// RecordMutation records a local mutation
func (m *Metrics) RecordMutation(operation string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(operation).Inc()
}

// UpdatePending updates the pending outbox gauge
func (m *Metrics) UpdatePending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// UpdateOnline updates the connectivity gauge
func (m *Metrics) UpdateOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.NetworkOnline.Set(1)
	} else {
		m.NetworkOnline.Set(0)
	}
}
