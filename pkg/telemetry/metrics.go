package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// File outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics are the Prometheus collectors of the ingest pipeline.
// A nil *Metrics records nothing.
type Metrics struct {
	Files    *prometheus.CounterVec
	Stage    *prometheus.HistogramVec
	Rows     *prometheus.CounterVec
	Batches  prometheus.Counter
	registry prometheus.Gatherer
}

// NewMetrics creates and registers the collectors on reg. A nil reg uses
// a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plateflow",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Plate files processed, by detected format and outcome.",
		}, []string{"format", "outcome", "code"}),
		Stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plateflow",
			Subsystem: "ingest",
			Name:      "stage_seconds",
			Help:      "Time spent per pipeline stage and file.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plateflow",
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Rows written, by kind.",
		}, []string{"kind"}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plateflow",
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Batches processed.",
		}),
		registry: reg,
	}
	reg.MustRegister(m.Files, m.Stage, m.Rows, m.Batches)
	return m
}

// FileDone counts one file. code is the error code, empty on success.
func (m *Metrics) FileDone(format, outcome, code string) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues(format, outcome, code).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.Stage.WithLabelValues(stage).Observe(d.Seconds())
}

// AddRows counts written rows of one kind.
func (m *Metrics) AddRows(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Rows.WithLabelValues(kind).Add(float64(n))
}

// BatchDone counts one batch.
func (m *Metrics) BatchDone() {
	if m == nil {
		return
	}
	m.Batches.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
