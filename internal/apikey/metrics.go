package apikey

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

// Metrics holds Prometheus metrics for API key operations.
type Metrics struct {
	validationTotal *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	issuedTotal     prometheus.Counter
	revokedTotal    prometheus.Counter
}

// NewMetrics creates API key metrics registered with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		validationTotal: observability.Register(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: observability.Namespace,
				Subsystem: "apikey",
				Name:      "validation_total",
				Help:      "Total number of API key validation attempts",
			},
			[]string{"reason"},
		)),
		cacheHits: observability.Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "apikey",
			Name:      "cache_hits_total",
			Help:      "Total number of API key validation cache hits",
		})),
		cacheMisses: observability.Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "apikey",
			Name:      "cache_misses_total",
			Help:      "Total number of API key validation cache misses",
		})),
		issuedTotal: observability.Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "apikey",
			Name:      "issued_total",
			Help:      "Total number of API keys issued",
		})),
		revokedTotal: observability.Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: observability.Namespace,
			Subsystem: "apikey",
			Name:      "revoked_total",
			Help:      "Total number of API keys revoked",
		})),
	}
}

func (m *Metrics) recordValidation(reason string) {
	m.validationTotal.WithLabelValues(reason).Inc()
}
