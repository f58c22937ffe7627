// Package metrics exposes Prometheus instruments for analyses and artifact
// fetches on a dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mpie"

// Metrics groups the instruments. A nil *Metrics is valid and records
// nothing, which keeps callers free of nil checks.
type Metrics struct {
	Registry *prometheus.Registry

	analyses  *prometheus.CounterVec
	duration  prometheus.Histogram
	inFlight  prometheus.Gauge
	fetches   *prometheus.CounterVec
	reuseHits prometheus.Counter
}

// New registers all instruments plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analyses by outcome (ok or the error kind).",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of analyses, including queueing.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analyses_in_flight",
			Help:      "Analysis scripts currently running.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_fetches_total",
			Help:      "Model snapshot requests by outcome.",
		}, []string{"outcome"}),
		reuseHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_reuse_total",
			Help:      "Analyses answered from a previous identical run.",
		}),
	}
	reg.MustRegister(
		m.analyses, m.duration, m.inFlight, m.fetches, m.reuseHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAnalysis records one finished analysis.
func (m *Metrics) ObserveAnalysis(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
	m.duration.Observe(seconds)
}

// Running marks a script as started; call the returned func when it ends.
func (m *Metrics) Running() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// ObserveFetch counts a snapshot request outcome.
func (m *Metrics) ObserveFetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReuse() {
	if m == nil {
		return
	}
	m.reuseHits.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
