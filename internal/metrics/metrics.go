// Package metrics holds the Prometheus collectors shared by the cache, the
// fetcher and the duplicate gate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	SyncTotal       *prometheus.CounterVec
	SyncDuration    *prometheus.HistogramVec
	SyncSkipped     *prometheus.CounterVec
	PagesFetched    *prometheus.CounterVec
	CachedRecords   *prometheus.GaugeVec
	DuplicateChecks *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pressroom",
			Name:      "cache_sync_total",
			Help:      "Full collection synchronizations by outcome.",
		}, []string{"collection", "outcome"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pressroom",
			Name:      "cache_sync_duration_seconds",
			Help:      "Duration of full collection synchronizations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"collection"}),
		SyncSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pressroom",
			Name:      "cache_refresh_skipped_total",
			Help:      "Refresh calls answered from the cache, by reason (fresh, in_flight).",
		}, []string{"collection", "reason"}),
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pressroom",
			Name:      "fetch_pages_total",
			Help:      "Pages read from the remote store.",
		}, []string{"collection"}),
		CachedRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pressroom",
			Name:      "cache_records",
			Help:      "Records currently held per collection.",
		}, []string{"collection"}),
		DuplicateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pressroom",
			Name:      "duplicate_checks_total",
			Help:      "Duplicate checks by outcome (skipped, superseded, clear, duplicate, search_error, cancelled).",
		}, []string{"collection", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.SyncTotal, m.SyncDuration, m.SyncSkipped, m.PagesFetched, m.CachedRecords, m.DuplicateChecks)
	}
	return m
}

func (m *Metrics) ObserveSync(collection, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncTotal.WithLabelValues(collection, outcome).Inc()
	m.SyncDuration.WithLabelValues(collection).Observe(seconds)
}

func (m *Metrics) SkipRefresh(collection, reason string) {
	if m == nil {
		return
	}
	m.SyncSkipped.WithLabelValues(collection, reason).Inc()
}

func (m *Metrics) PageFetched(collection string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(collection).Inc()
}

func (m *Metrics) SetRecords(collection string, n int) {
	if m == nil {
		return
	}
	m.CachedRecords.WithLabelValues(collection).Set(float64(n))
}

func (m *Metrics) DuplicateCheck(collection, outcome string) {
	if m == nil {
		return
	}
	m.DuplicateChecks.WithLabelValues(collection, outcome).Inc()
}
