// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payments"

// Webhook outcomes.
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookRejected  = "rejected"
	WebhookFailed    = "failed"
)

// Metrics groups the collectors registered for one registry.
type Metrics struct {
	Reconciliations   *prometheus.CounterVec
	StatusRegressions *prometheus.CounterVec
	Webhooks          *prometheus.CounterVec
	GatewayRequests   *prometheus.HistogramVec
	HTTPRequests      *prometheus.HistogramVec
	EventsPublished   *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Gateway status reports applied to orders.",
		}, []string{"source", "status"}),
		StatusRegressions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_regressions_total",
			Help:      "Reports that moved an order away from APPROVED, by policy outcome.",
		}, []string{"from", "to", "applied"}),
		Webhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Wompi webhook deliveries by outcome.",
		}, []string{"outcome"}),
		GatewayRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of calls to payment gateways.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "operation", "outcome"}),
		HTTPRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Order events written to Kafka.",
		}, []string{"type", "outcome"}),
	}
}

// ObserveGateway records one gateway call started at start.
func (m *Metrics) ObserveGateway(gateway, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayRequests.WithLabelValues(gateway, operation, outcome).Observe(time.Since(start).Seconds())
}

// Middleware records request latency labelled with the matched route
// template, so path parameters do not explode cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
