// Package tracing sets up OpenTelemetry trace export. Spans are started by
// the pipeline through the global tracer provider.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Options configures trace export.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP collector host:port. Empty disables tracing.
	Endpoint string
	// Protocol is "grpc" or "http/protobuf" (default).
	Protocol     string
	SamplingRate float64
}

// ShutdownFunc flushes and stops the exporter.
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider exporting to opts.Endpoint.
// With no endpoint it installs nothing and returns a no-op shutdown.
func Init(ctx context.Context, opts Options) (ShutdownFunc, error) {
	if opts.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(opts)
	if err != nil {
		return nil, err
	}

	var exp sdktrace.SpanExporter
	if isGRPC(opts.Protocol) {
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(opts.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(opts.Endpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// newResource merges the service identity into the sdk defaults. The
// service attributes are schemaless, so the merge never conflicts with the
// schema URL of the sdk's own resource.
func newResource(opts Options) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func isGRPC(protocol string) bool {
	return strings.EqualFold(strings.TrimSpace(protocol), "grpc")
}
