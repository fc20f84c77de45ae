package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/pod-racer/internal/domain"
)

const namespace = "podracer"

// Metrics holds the service collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	raceCount       *prometheus.CounterVec
	raceDuration    prometheus.Histogram
	sessionStarts   *prometheus.CounterVec
	sessionCloses   *prometheus.CounterVec
	podStates       *prometheus.GaugeVec
	queueLength     prometheus.Gauge
}

// NewMetrics initializes and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "HTTP error responses by path, method and error code.",
		}, []string{"path", "method", "code"}),
		raceCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "races_total",
			Help:      "Completed races by outcome.",
		}, []string{"outcome"}),
		raceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "race_duration_seconds",
			Help:      "Wall-clock time spent racing candidate pods.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		sessionStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Start requests by resulting status.",
		}, []string{"status"}),
		sessionCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_closes_total",
			Help:      "Closed sessions by reason.",
		}, []string{"reason"}),
		podStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pods",
			Help:      "Pods per state.",
		}, []string{"state"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Users waiting for a pod.",
		}),
	}
	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.raceCount,
		m.raceDuration,
		m.sessionStarts,
		m.sessionCloses,
		m.podStates,
		m.queueLength,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordRace counts a finished race.
func (m *Metrics) RecordRace(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.raceCount.WithLabelValues(outcome).Inc()
	m.raceDuration.Observe(duration.Seconds())
}

// RecordSessionStart counts a start request by its reported status.
func (m *Metrics) RecordSessionStart(status string) {
	if m == nil {
		return
	}
	m.sessionStarts.WithLabelValues(status).Inc()
}

// RecordSessionClosed counts a session reaching CLOSED.
func (m *Metrics) RecordSessionClosed(reason domain.CloseReason) {
	if m == nil {
		return
	}
	m.sessionCloses.WithLabelValues(string(reason)).Inc()
}

// SetPodStates publishes per-state pod counts.
func (m *Metrics) SetPodStates(counts map[domain.PodState]int) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.podStates.WithLabelValues(string(state)).Set(float64(n))
	}
}

// SetQueueLength publishes the number of waiting users.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}
