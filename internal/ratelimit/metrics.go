package ratelimit

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

// Metrics contains rate limiter metrics.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec
	breakerState  prometheus.Gauge
}

// NewMetrics creates rate limiter metrics registered with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		checksTotal: observability.Register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.Namespace,
				Subsystem: "ratelimit",
				Name:      "checks_total",
				Help:      "Total number of rate limit checks",
			},
			[]string{"resource", "allowed"},
		)),
		fallbackTotal: observability.Register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.Namespace,
				Subsystem: "ratelimit",
				Name:      "fallback_total",
				Help:      "Total number of store operations served by the in-memory fallback",
			},
			[]string{"operation"},
		)),
		breakerState: observability.Register(registerer, prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: observability.Namespace,
				Subsystem: "ratelimit",
				Name:      "store_breaker_state",
				Help:      "Shared store circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		)),
	}
}

func (m *Metrics) recordCheck(resource string, allowed bool) {
	m.checksTotal.WithLabelValues(resource, strconv.FormatBool(allowed)).Inc()
}

// RecordFallback counts an operation served by the fallback store.
func (m *Metrics) RecordFallback(op string) {
	m.fallbackTotal.WithLabelValues(op).Inc()
}

// SetBreakerState records the shared store breaker state.
func (m *Metrics) SetBreakerState(state int) {
	m.breakerState.Set(float64(state))
}
