package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	saveResultSuccess    = "success"
	saveResultBadRequest = "bad_request"
	saveResultTraversal  = "path_traversal"
	saveResultNotAllowed = "not_allowed"
	saveResultError      = "error"

	updateResultSuccess = "success"
	updateResultFailed  = "nonzero_exit"
	updateResultError   = "error"
)

// Metrics holds the Prometheus collectors for one server instance.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	saves        *prometheus.CounterVec
	saveBytes    prometheus.Counter
	saveDuration prometheus.Histogram
	updates      *prometheus.CounterVec
	sideEffects  *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics(build BuildInfo) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acd",
			Name:      "saves_total",
			Help:      "Save requests by outcome.",
		}, []string{"result"}),
		saveBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acd",
			Name:      "save_bytes_total",
			Help:      "Bytes committed by successful saves.",
		}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "acd",
			Name:      "save_duration_seconds",
			Help:      "Time spent handling save requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acd",
			Name:      "updates_total",
			Help:      "Update script runs by outcome.",
		}, []string{"result"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acd",
			Name:      "side_effects_total",
			Help:      "Audit and mirror writes after a save, by target and outcome.",
		}, []string{"target", "result"}),
	}

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "acd",
		Name:        "info",
		Help:        "Build information.",
		ConstLabels: prometheus.Labels{"version": build.Version, "commit": build.Commit},
	})
	info.Set(1)

	reg.MustRegister(
		m.requests, m.saves, m.saveBytes, m.saveDuration, m.updates, m.sideEffects, info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(method string, statusCode int) {
	m.requests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}

// RecordSave records the outcome of a save request.
func (m *Metrics) RecordSave(result string, bytes int64, d time.Duration) {
	m.saves.WithLabelValues(result).Inc()
	if result == saveResultSuccess {
		m.saveBytes.Add(float64(bytes))
	}
	m.saveDuration.Observe(d.Seconds())
}

// RecordUpdate records an update script run.
func (m *Metrics) RecordUpdate(result string) {
	m.updates.WithLabelValues(result).Inc()
}

// RecordSideEffect records an audit or mirror write.
func (m *Metrics) RecordSideEffect(target string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.sideEffects.WithLabelValues(target, result).Inc()
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
