package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLP exporter defaults.
const (
	DefaultOTLPTimeout            = 10 * time.Second
	DefaultOTLPReconnectionPeriod = 10 * time.Second
)

// TracerConfig contains tracing configuration.
type TracerConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// Tracer wraps the OpenTelemetry tracer provider.
type Tracer struct {
	provider *sdktrace.TracerProvider
	config   TracerConfig
}

// NewTracer creates a tracer. When tracing is disabled the global no-op
// provider is used and nothing is exported.
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "rosterguard"
	}

	if !cfg.Enabled {
		return &Tracer{config: cfg}, nil
	}

	var exporter *otlptrace.Exporter
	if cfg.OTLPEndpoint != "" {
		var err error
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(DefaultOTLPTimeout),
			otlptracegrpc.WithReconnectionPeriod(DefaultOTLPReconnectionPeriod),
		)
		if err != nil {
			return nil, err
		}
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SamplingRate)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		config:   cfg,
	}, nil
}

// createSampler creates a sampler based on the sampling rate.
func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.provider != nil
}

// Named returns the tracer of an instrumentation scope. Without an
// exporter the global provider is used.
func (t *Tracer) Named(name string) trace.Tracer {
	if t.provider == nil {
		return otel.Tracer(name)
	}
	return t.provider.Tracer(name)
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceIDFromContext returns the trace id of the active span, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
