// Package metrics exposes Prometheus metrics for the security engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects request and enforcement counters. All methods are safe for
// concurrent use; a nil *Metrics is a no-op so call sites never need guards.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	filterOutcomes   *prometheus.CounterVec
	authFailures     prometheus.Counter
	snapshotReloads  *prometheus.CounterVec
	percolatorLoads  prometheus.Counter
	resolveDuration  prometheus.Histogram
	requestDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests by operation",
			},
			[]string{"operation"},
		),
		filterOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_outcomes_total",
				Help:      "Effective filter resolutions by outcome kind",
			},
			[]string{"kind"},
		),
		authFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of failed authentication attempts",
			},
		),
		snapshotReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "roles",
				Name:      "reloads_total",
				Help:      "Role configuration reloads by result",
			},
			[]string{"result"},
		),
		percolatorLoads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "percolator",
				Name:      "loads_total",
				Help:      "Total number of percolator query set loads",
			},
		),
		resolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "filter_resolve_duration_seconds",
				Help:      "Time spent resolving effective filters",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request latency by operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.filterOutcomes,
		m.authFailures,
		m.snapshotReloads,
		m.percolatorLoads,
		m.resolveDuration,
		m.requestDuration,
	)

	return m
}

// RecordRequest counts a request and its latency.
func (m *Metrics) RecordRequest(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(operation).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordFilterOutcome counts an effective-filter resolution by kind.
func (m *Metrics) RecordFilterOutcome(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.filterOutcomes.WithLabelValues(kind).Inc()
	m.resolveDuration.Observe(d.Seconds())
}

// RecordAuthFailure counts a failed authentication attempt.
func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// RecordSnapshotReload counts a role configuration reload attempt.
func (m *Metrics) RecordSnapshotReload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.snapshotReloads.WithLabelValues(result).Inc()
}

// RecordPercolatorLoad counts a percolator query set load.
func (m *Metrics) RecordPercolatorLoad() {
	if m == nil {
		return
	}
	m.percolatorLoads.Inc()
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
