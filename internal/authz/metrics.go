package authz

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

// Metrics contains authorization metrics.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration prometheus.Histogram
}

// NewMetrics creates authorization metrics registered with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		decisionsTotal: observability.Register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.Namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"result"},
		)),
		decisionDuration: observability.Register(registerer, prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: observability.Namespace,
				Subsystem: "authz",
				Name:      "decision_duration_seconds",
				Help:      "Authorization decision duration in seconds",
				Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		)),
	}
}

func (m *Metrics) recordDecision(result audit.Result, d time.Duration) {
	m.decisionsTotal.WithLabelValues(string(result)).Inc()
	m.decisionDuration.Observe(d.Seconds())
}
