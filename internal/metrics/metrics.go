// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/tender-sync/internal/model"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	rowsTotal      *prometheus.CounterVec
	batchesTotal   *prometheus.CounterVec
	enrichFailures *prometheus.CounterVec
	lastSuccess    *prometheus.GaugeVec
}

// New registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_sync_runs_total",
			Help: "Source runs by final status.",
		}, []string{"source", "status"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tender_sync_run_duration_seconds",
			Help:    "Wall time of a source run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"source"}),
		rowsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_sync_rows_total",
			Help: "Reconciled rows by outcome.",
		}, []string{"source", "outcome"}),
		batchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_sync_batches_total",
			Help: "Batches processed.",
		}, []string{"source"}),
		enrichFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_sync_enrich_failures_total",
			Help: "Rows whose detail page could not be read.",
		}, []string{"source"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tender_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last complete run.",
		}, []string{"source"}),
	}
}

// ObserveBatch records one batch's reconcile summary and enrichment failures.
func (m *Metrics) ObserveBatch(source string, sum model.Summary, enrichFailed int) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(source).Inc()
	m.rowsTotal.WithLabelValues(source, "created").Add(float64(sum.Created))
	m.rowsTotal.WithLabelValues(source, "updated").Add(float64(sum.Updated))
	m.rowsTotal.WithLabelValues(source, "skipped").Add(float64(sum.Skipped))
	m.rowsTotal.WithLabelValues(source, "failed").Add(float64(sum.Failed))
	m.enrichFailures.WithLabelValues(source).Add(float64(enrichFailed))
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(source string, status model.RunStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(source, string(status)).Inc()
	m.runDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if status == model.RunStatusComplete {
		m.lastSuccess.WithLabelValues(source).SetToCurrentTime()
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
