// Package metrics defines the Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for sqlward.
// Pass to components that need to record metrics.
type Metrics struct {
	AuthAttempts   *prometheus.CounterVec
	AuthzDecisions *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AuthAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlward",
				Name:      "auth_attempts_total",
				Help:      "Total authentication attempts",
			},
			[]string{"outcome"}, // outcome=success/failure
		),
		AuthzDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlward",
				Name:      "authz_decisions_total",
				Help:      "Total authorization decisions",
			},
			[]string{"operation", "outcome"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sqlward",
				Name:      "active_sessions",
				Help:      "Number of active sessions",
			},
		),
		ToolExecutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlward",
				Name:      "tool_executions_total",
				Help:      "Total tool executions",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sqlward",
				Name:      "tool_duration_seconds",
				Help:      "Tool execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
}

// NewNop creates metrics bound to a private registry. Useful in tests and
// for components constructed without an exporter.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
