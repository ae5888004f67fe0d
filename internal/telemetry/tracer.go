// Package telemetry wires OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/tjfontaine/offside-zero/internal/pkg/config"
)

// Setup installs a tracer provider when tracing is enabled. The returned
// function flushes and stops it; it is a no-op when tracing is disabled.
func Setup(cfg config.TelemetryConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = "offside-zero"
	}
	return InitTracer(name, logger)
}

// InitTracer initializes OpenTelemetry tracing with a pretty-printed stdout exporter.
func InitTracer(serviceName string, logger *slog.Logger) (func(context.Context) error, error) {
	return initTracer(serviceName, logger, stdouttrace.WithPrettyPrint())
}

func initTracer(serviceName string, logger *slog.Logger, opts ...stdouttrace.Option) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))

	return tp.Shutdown, nil
}
