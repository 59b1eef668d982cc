// Package metrics exposes the gateway's Prometheus counters.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics
// records nothing.
type Metrics struct {
	mergeDecisions      *prometheus.CounterVec
	attachments         *prometheus.CounterVec
	operations          *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		mergeDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_email_merge_total",
				Help: "Inbound email thread decisions by outcome",
			},
			[]string{"outcome"},
		),

		attachments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_attachments_total",
				Help: "Request attachments by ingest outcome",
			},
			[]string{"outcome"},
		),

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_operations_total",
				Help: "Ticket operations by name and response code",
			},
			[]string{"op", "code"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.mergeDecisions,
		m.attachments,
		m.operations,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

func (m *Metrics) ObserveMerge(outcome string) {
	if m == nil {
		return
	}
	m.mergeDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAttachment(outcome string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(outcome).Inc()
}

// ObserveResult counts an operation outcome by response code.
func (m *Metrics) ObserveResult(op string, code int) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

// Handler returns the exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
