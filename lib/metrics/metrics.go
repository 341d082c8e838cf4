// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics defines scribe's Prometheus instrumentation.
//
// A [Metrics] value is created once per process against a registerer
// and passed to the session registry and execution engine through their
// config structs. All methods are safe on a nil *Metrics, so tests and
// library callers that do not care about metrics pass nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scribe"

// Connect attempt kinds.
const (
	AttemptInitial   = "initial"
	AttemptReconnect = "reconnect"
)

// Metrics holds every collector scribe exports.
type Metrics struct {
	sessionsOpen       prometheus.Gauge
	connectAttempts    *prometheus.CounterVec
	reconnectExhausted prometheus.Counter
	idleEvictions      prometheus.Counter
	syncTimeouts       prometheus.Counter
	executions         *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	truncations        prometheus.Counter
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		sessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "open",
			Help:      "Sessions currently held by the registry",
		}),
		connectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Collaboration transport open attempts",
		}, []string{"kind"}),
		reconnectExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnect_exhausted_total",
			Help:      "Sessions that gave up reconnecting after the attempt budget",
		}),
		idleEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "idle_evictions_total",
			Help:      "Sessions closed by the idle timer",
		}),
		syncTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sync_timeouts_total",
			Help:      "Waits for document synchronization that timed out",
		}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "total",
			Help:      "Code executions by outcome",
		}, []string{"outcome"}),
		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Wall time of code executions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		truncations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "truncated_results_total",
			Help:      "Execution results whose outputs were truncated",
		}),
	}
}

// Handler serves the collectors of gatherer in the Prometheus text
// format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SessionOpened records a session entering the registry.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessionsOpen.Inc()
	}
}

// SessionClosed records a session leaving the registry.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessionsOpen.Dec()
	}
}

// ConnectAttempt records one transport open of the given kind.
func (m *Metrics) ConnectAttempt(kind string) {
	if m != nil {
		m.connectAttempts.WithLabelValues(kind).Inc()
	}
}

// ReconnectExhausted records a session giving up.
func (m *Metrics) ReconnectExhausted() {
	if m != nil {
		m.reconnectExhausted.Inc()
	}
}

// IdleEviction records an idle timer firing.
func (m *Metrics) IdleEviction() {
	if m != nil {
		m.idleEvictions.Inc()
	}
}

// SyncTimeout records a timed-out synchronization wait.
func (m *Metrics) SyncTimeout() {
	if m != nil {
		m.syncTimeouts.Inc()
	}
}

// Execution records one finished execution.
func (m *Metrics) Execution(outcome string, duration time.Duration, truncated bool) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
	m.executionDuration.Observe(duration.Seconds())
	if truncated {
		m.truncations.Inc()
	}
}
