// Package traces installs the OpenTelemetry tracer provider used by the
// API middleware and the worker spans.
package traces

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a tracer provider exporting over OTLP/gRPC when tracing is
// enabled. Disabled tracing leaves the global no-op provider in place, so
// spans cost nothing and carry invalid trace ids.
func Init(ctx context.Context, cfg domain.TracingConfig, version string) (Shutdown, error) {
	if !cfg.Enabled {
		slog.Info("tracing disabled")
		return noop, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp, err := install(ctx, cfg, version, sdktrace.WithBatcher(exporter))
	if err != nil {
		return nil, err
	}

	slog.Info("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service_name", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio,
	)
	return tp.Shutdown, nil
}

// install builds the provider around processor and makes it global.
func install(ctx context.Context, cfg domain.TracingConfig, version string, processor sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}
