package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/ggg436/greenloops/feed-sync/config"
)

const serviceName = "feed-sync"

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

func initLogger(cfg config.Config, w io.Writer) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" || cfg.InMemory() {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" || cfg.InMemory() {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// traceResource describes this process to the collector.
func traceResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)
	if errors.Is(err, resource.ErrPartialResource) {
		slog.Warn("trace resource is incomplete", "error", err)
		err = nil
	}
	return res, err
}

// newTracerProvider keeps the sampling decision of the caller when there is one, and
// samples root traces at ratio.
func newTracerProvider(exporter sdktrace.SpanExporter, res *resource.Resource, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
}

// startTracing installs the global tracer provider and W3C propagation, and returns the
// shutdown that flushes pending spans. The in-memory mode has no collector to export to.
func startTracing(ctx context.Context, cfg config.Config) func() {
	if cfg.InMemory() {
		return func() {}
	}

	res, err := traceResource(ctx, cfg)
	if err != nil {
		slog.Error("Failed to describe trace resource", "error", err)
		return func() {}
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		slog.Error("Failed to init tracer", "endpoint", cfg.OtelEndpoint, "error", err)
		return func() {}
	}

	tp := newTracerProvider(exporter, res, cfg.TraceSampleRatio)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	slog.Debug("tracing started", "endpoint", cfg.OtelEndpoint, "sample_ratio", cfg.TraceSampleRatio)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}
}
