package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

func TestTracerProviderSampling(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Env = "staging"
	res, err := traceResource(context.Background(), cfg)
	require.NoError(t, err)

	t.Run("every root trace kept", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tp := newTracerProvider(exporter, res, 1)
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		_, span := tp.Tracer("test").Start(context.Background(), "feed.initialize")
		span.End()
		require.NoError(t, tp.ForceFlush(context.Background()))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		attrs := spans[0].Resource.Set()
		name, _ := attrs.Value(semconv.ServiceNameKey)
		env, _ := attrs.Value(semconv.DeploymentEnvironmentKey)
		assert.Equal(t, serviceName, name.AsString())
		assert.Equal(t, "staging", env.AsString())
	})

	t.Run("root traces dropped", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tp := newTracerProvider(exporter, res, 0)
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		_, span := tp.Tracer("test").Start(context.Background(), "feed.initialize")
		assert.False(t, span.SpanContext().IsSampled())
		span.End()
		require.NoError(t, tp.ForceFlush(context.Background()))
		assert.Empty(t, exporter.GetSpans())
	})

	t.Run("sampled parent wins over the ratio", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tp := newTracerProvider(exporter, res, 0)
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		parent := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{1},
			SpanID:     trace.SpanID{1},
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
		_, span := tp.Tracer("test").Start(ctx, "feed.repair", trace.WithAttributes(attribute.Int("batch", 1)))
		span.End()
		require.NoError(t, tp.ForceFlush(context.Background()))
		assert.Len(t, exporter.GetSpans(), 1)
	})
}

func TestStartTracingSkipsMemoryMode(t *testing.T) {
	stop := startTracing(context.Background(), memoryConfig(t))
	require.NotNil(t, stop)
	stop()
}
