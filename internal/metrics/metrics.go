// Package metrics holds the Prometheus collectors exported by aeroquery.
//
// Collectors are registered on an injected Registerer, never on the global
// default registry. A nil *Metrics is a valid receiver and records nothing,
// so components take an optional *Metrics without branching.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aeroquery"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Plan label values.
const (
	PlanIndex = "index"
	PlanScan  = "scan"
)

// Metrics groups every collector.
type Metrics struct {
	indexRefresh     *prometheus.CounterVec
	indexes          prometheus.Gauge
	versionRefresh   *prometheus.CounterVec
	statements       *prometheus.CounterVec
	batchChunks      *prometheus.CounterVec
	batchKeyFailures *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		indexRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_refresh_total",
			Help:      "Secondary index cache refreshes by result",
		}, []string{"result"}),
		indexes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexes",
			Help:      "Secondary indexes in the current cache snapshot",
		}),
		versionRefresh: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_refresh_total",
			Help:      "Server version refreshes by result",
		}, []string{"result"}),
		statements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Planned statements by plan kind",
		}, []string{"plan"}),
		batchChunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_chunks_total",
			Help:      "Batch chunks dispatched by operation",
		}, []string{"op"}),
		batchKeyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_key_failures_total",
			Help:      "Keys that failed inside a batch operation",
		}, []string{"op"}),
	}
}

// IndexRefresh records a cache refresh. indexes is the published snapshot
// size and is ignored on failure.
func (m *Metrics) IndexRefresh(err error, indexes int) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexRefresh.WithLabelValues(ResultError).Inc()
		return
	}
	m.indexRefresh.WithLabelValues(ResultOK).Inc()
	m.indexes.Set(float64(indexes))
}

// VersionRefresh records a server version refresh.
func (m *Metrics) VersionRefresh(err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.versionRefresh.WithLabelValues(result).Inc()
}

// Statement records a planned statement.
func (m *Metrics) Statement(indexed bool) {
	if m == nil {
		return
	}
	plan := PlanScan
	if indexed {
		plan = PlanIndex
	}
	m.statements.WithLabelValues(plan).Inc()
}

// BatchChunk records one dispatched chunk.
func (m *Metrics) BatchChunk(op string) {
	if m == nil {
		return
	}
	m.batchChunks.WithLabelValues(op).Inc()
}

// BatchKeyFailures records n failed keys.
func (m *Metrics) BatchKeyFailures(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchKeyFailures.WithLabelValues(op).Add(float64(n))
}
