// ABOUTME: Prometheus metrics for dispatch outcomes, latency, webhooks, and rate limiting
// ABOUTME: Collectors are registered once at startup on a caller-supplied registry

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	webhookTotal     *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_gateway",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by worker, action, and outcome code.",
		}, []string{"worker", "action", "outcome"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent_gateway",
			Name:      "dispatch_duration_seconds",
			Help:      "End-to-end dispatch latency including the upstream call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"worker", "action"}),
		webhookTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_gateway",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by type and outcome.",
		}, []string{"event", "outcome"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_gateway",
			Name:      "rate_limited_total",
			Help:      "Dispatches rejected by the rate limiter.",
		}, []string{"worker", "action"}),
	}
}

func (m *Metrics) recordDispatch(worker, action, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(worker, action, outcome).Inc()
	m.dispatchDuration.WithLabelValues(worker, action).Observe(seconds)
}

func (m *Metrics) recordWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) recordRateLimited(worker, action string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(worker, action).Inc()
}
