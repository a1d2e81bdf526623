// Package metrics holds the Prometheus collectors of the ingestion service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeCommitted       = "committed"
	OutcomeAlreadyImported = "already_imported"
	OutcomeRejected        = "rejected"
)

// Metrics is a set of collectors registered on a private registry so tests
// can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Documents    *prometheus.CounterVec
	Rows         *prometheus.CounterVec
	Warnings     *prometheus.CounterVec
	StageSeconds *prometheus.HistogramVec
	InFlight     prometheus.Gauge
	Sweeps       *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_ingest",
			Name:      "documents_total",
			Help:      "Documents processed, by outcome and rejecting stage.",
		}, []string{"outcome", "stage"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_ingest",
			Name:      "rows_total",
			Help:      "Extracted rows, by kind and whether they were new or duplicates.",
		}, []string{"kind", "result"}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_ingest",
			Name:      "validation_warnings_total",
			Help:      "Consistency warnings raised during validation.",
		}, []string{"kind"}),
		StageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger_ingest",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger_ingest",
			Name:      "documents_in_flight",
			Help:      "Documents currently in the pipeline.",
		}),
		Sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger_ingest",
			Name:      "inbox_files_total",
			Help:      "Inbox files swept, by archive destination.",
		}, []string{"destination"}),
	}

	m.registry.MustRegister(
		m.Documents, m.Rows, m.Warnings, m.StageSeconds, m.InFlight, m.Sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
