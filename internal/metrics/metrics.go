package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the publisher. Every method is safe
// to call on a nil *Metrics.
type Metrics struct {
	registry           *prometheus.Registry
	transitionsTotal   *prometheus.CounterVec
	encoderRunsTotal   *prometheus.CounterVec
	activeStreams      prometheus.Gauge
	uploadBytesTotal   prometheus.Counter
	uploadRetriesTotal prometheus.Counter
	jobsTotal          *prometheus.CounterVec
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
}

// New creates and registers the publisher metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_state_transitions_total",
			Help: "Broadcast orchestrator state transitions by target state",
		}, []string{"state"}),
		encoderRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_encoder_runs_total",
			Help: "Finished encoder sessions by termination reason",
		}, []string{"reason"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "publisher_active_streams",
			Help: "Encoder sessions currently pushing to an ingest endpoint",
		}),
		uploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_upload_bytes_total",
			Help: "Bytes acknowledged by the platform across resumable uploads",
		}),
		uploadRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_upload_retries_total",
			Help: "Resumable upload chunk retries",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "publisher_jobs_total",
			Help: "Queued jobs processed by type and outcome",
		}, []string{"type", "outcome"}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_http_requests_total",
			Help: "Total number of API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_http_errors_total",
			Help: "Total number of API responses with error status (4xx or 5xx)",
		}),
	}

	registry.MustRegister(
		m.transitionsTotal,
		m.encoderRunsTotal,
		m.activeStreams,
		m.uploadBytesTotal,
		m.uploadRetriesTotal,
		m.jobsTotal,
		m.requestsTotal,
		m.errorsTotal,
	)
	return m
}

// Transition counts an orchestrator entering state.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(state).Inc()
}

// StreamStarted marks an encoder session as live.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamFinished records an ended encoder session.
func (m *Metrics) StreamFinished(reason string) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	m.encoderRunsTotal.WithLabelValues(reason).Inc()
}

// AddUploadBytes adds acknowledged upload bytes.
func (m *Metrics) AddUploadBytes(n int64) {
	if m == nil {
		return
	}
	m.uploadBytesTotal.Add(float64(n))
}

// IncUploadRetries counts one upload retry.
func (m *Metrics) IncUploadRetries() {
	if m == nil {
		return
	}
	m.uploadRetriesTotal.Inc()
}

// JobProcessed counts a queued job by type and outcome (succeeded, retried, dead).
func (m *Metrics) JobProcessed(jobType, outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(jobType, outcome).Inc()
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
