package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kestrel"

// Metrics holds the Prometheus collectors of one process. Each instance owns
// a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	predictions         *prometheus.CounterVec
	predictionDuration  prometheus.Histogram
	explanationDuration prometheus.Histogram
	renderDuration      prometheus.Histogram
	reportBytes         prometheus.Histogram
	storeLookups        *prometheus.CounterVec
	failures            *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Scored applications by decision.",
		}, []string{"decision"}),
		predictionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time to validate, score and flag one application.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		explanationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "explanation_duration_seconds",
			Help:      "Time to build one local explanation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		renderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time to draw and encode one report.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		reportBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_bytes",
			Help:      "Size of rendered PNG reports.",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 2, 8),
		}),
		storeLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_lookups_total",
			Help:      "Keyed store lookups by kind and result.",
		}, []string{"kind", "result"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed operations by stage.",
		}, []string{"stage"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePrediction records one scored application.
func (m *Metrics) ObservePrediction(decision string, d time.Duration) {
	m.predictions.WithLabelValues(decision).Inc()
	m.predictionDuration.Observe(d.Seconds())
}

// ObserveExplanation records one explanation build.
func (m *Metrics) ObserveExplanation(d time.Duration) {
	m.explanationDuration.Observe(d.Seconds())
}

// ObserveRender records one rendered report.
func (m *Metrics) ObserveRender(d time.Duration, size int) {
	m.renderDuration.Observe(d.Seconds())
	m.reportBytes.Observe(float64(size))
}

// ObserveLookup records a keyed store lookup.
func (m *Metrics) ObserveLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.storeLookups.WithLabelValues(kind, result).Inc()
}

// ObserveFailure counts a failed stage: predict, explain, render or store.
func (m *Metrics) ObserveFailure(stage string) {
	m.failures.WithLabelValues(stage).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WatchReferenceBuilds exposes a running count of explainer reference
// dataset constructions.
func (m *Metrics) WatchReferenceBuilds(builds func() int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reference_builds_total",
		Help:      "Reference dataset constructions by the explainer.",
	}, func() float64 {
		return float64(builds())
	}))
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
