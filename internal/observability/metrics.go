package observability

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the Prometheus namespace of every rosterguard metric.
const Namespace = "rosterguard"

// Registry owns the Prometheus registry served on /metrics.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a registry with the Go runtime and process
// collectors installed.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{registry: reg}
}

// Registerer returns the registerer components register their metrics with.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns the HTTP handler exposing the metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Register registers c with reg. When an identical collector is already
// registered the existing one is returned so that repeated construction
// keeps reporting into the same series. A nil reg uses the default
// registerer.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
