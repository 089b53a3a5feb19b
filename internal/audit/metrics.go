package audit

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

// Metrics contains audit metrics.
type Metrics struct {
	entriesTotal *prometheus.CounterVec
	droppedTotal prometheus.Counter
	sinkErrors   *prometheus.CounterVec
}

// NewMetrics creates audit metrics registered with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		entriesTotal: observability.Register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.Namespace,
				Subsystem: "audit",
				Name:      "entries_total",
				Help:      "Total number of audit entries recorded",
			},
			[]string{"result"},
		)),
		droppedTotal: observability.Register(registerer, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: observability.Namespace,
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Total number of audit entries not delivered to sinks because the queue was full",
			},
		)),
		sinkErrors: observability.Register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.Namespace,
				Subsystem: "audit",
				Name:      "sink_errors_total",
				Help:      "Total number of audit sink write failures",
			},
			[]string{"sink"},
		)),
	}

	for _, r := range []Result{ResultSuccess, ResultFailure, ResultBlocked} {
		m.entriesTotal.WithLabelValues(string(r))
	}
	return m
}
