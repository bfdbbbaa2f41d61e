// Package metrics holds the Prometheus collectors of the service.
//
// All methods are safe on a nil *Metrics, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciler outcomes.
const (
	OutcomeApplied          = "applied"
	OutcomeDroppedMissing   = "dropped_missing"
	OutcomeDroppedMalformed = "dropped_malformed"
	OutcomeFailed           = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	jobsQueued   *prometheus.CounterVec
	statusEvents *prometheus.CounterVec
	queueErrors  prometheus.Counter
}

// New creates the collectors on a fresh registry. The Go runtime and
// process collectors are registered too.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "snippet_http_requests_total",
			Help:        "HTTP requests by method, route and status code.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "snippet_http_request_duration_seconds",
			Help:        "HTTP request latency by method and route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
		jobsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "snippet_jobs_dispatched_total",
			Help:        "Analysis and format jobs pushed, by queue.",
			ConstLabels: constLabels,
		}, []string{"queue"}),
		statusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "snippet_status_messages_total",
			Help:        "Status queue messages by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		queueErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "snippet_status_queue_errors_total",
			Help:        "Failed receives on the status queue.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.jobsQueued,
		m.statusEvents,
		m.queueErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) JobDispatched(queue string) {
	if m == nil {
		return
	}
	m.jobsQueued.WithLabelValues(queue).Inc()
}

func (m *Metrics) StatusMessage(outcome string) {
	if m == nil {
		return
	}
	m.statusEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QueueError() {
	if m == nil {
		return
	}
	m.queueErrors.Inc()
}
