// Package tracing configures OpenTelemetry export for HTTP request spans.
package tracing

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Options selects the collector and how this service names itself.
type Options struct {
	Endpoint    string // host:port or full URL; empty disables export
	ServiceName string
	Environment string
}

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider exporting over OTLP/HTTP. With no
// endpoint it leaves the no-op provider in place.
func Init(ctx context.Context, opts Options, logger zerolog.Logger) (ShutdownFunc, error) {
	if opts.Endpoint == "" {
		logger.Debug().Msg("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	var exporterOpts []otlptracehttp.Option
	if strings.Contains(opts.Endpoint, "://") {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(opts.Endpoint))
	} else {
		exporterOpts = append(exporterOpts,
			otlptracehttp.WithEndpoint(opts.Endpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	exp, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(opts.ServiceName),
		attribute.String("deployment.environment", opts.Environment),
	))
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	logger.Info().
		Str("endpoint", opts.Endpoint).
		Str("service", opts.ServiceName).
		Msg("tracing enabled")
	return tp.Shutdown, nil
}
