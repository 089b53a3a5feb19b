package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tr, err := NewTracer(context.Background(), TracerConfig{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tr.Enabled())
	assert.Equal(t, "rosterguard", tr.config.ServiceName)
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewTracer_EnabledWithoutExporter(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracerConfig{
		Enabled:      true,
		ServiceName:  "rosterguard-test",
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	assert.True(t, tr.Enabled())

	ctx, span := tr.Named("test").Start(context.Background(), "op")
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	span.End()

	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rate float64
		want string
	}{
		{name: "always", rate: 1.0, want: "AlwaysOnSampler"},
		{name: "above one", rate: 2.0, want: "AlwaysOnSampler"},
		{name: "never", rate: 0, want: "AlwaysOffSampler"},
		{name: "ratio", rate: 0.5, want: "TraceIDRatioBased{0.5}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, createSampler(tt.rate).Description())
		})
	}
}

func TestTraceIDFromContext_NoSpan(t *testing.T) {
	t.Parallel()

	assert.Empty(t, TraceIDFromContext(context.Background()))
	assert.Empty(t, TraceIDFromContext(trace.ContextWithSpanContext(context.Background(), trace.SpanContext{})))
}
