// Package tracing wires a global OpenTelemetry TracerProvider at startup
// so internal/engine's scan/space/item spans (created against
// otel.Tracer(...)) actually reach a collector instead of being silently
// dropped by the SDK's no-op default provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "ai-sentinel-sub004"

// Shutdown flushes and tears down the installed TracerProvider.
type Shutdown func(context.Context) error

// Setup installs a global TracerProvider backed by the exporter named in
// exporterKind ("stdout", "otlp", "jaeger", or "none" to disable tracing
// entirely), batching spans through endpoint where one applies.
func Setup(ctx context.Context, exporterKind, endpoint string) (Shutdown, error) {
	if exporterKind == "none" || exporterKind == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, exporterKind, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: build %s exporter: %w", exporterKind, err)
	}

	res := sdkresource.NewSchemaless(attribute.String("service.name", serviceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, kind, endpoint string) (sdktrace.SpanExporter, error) {
	switch kind {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "jaeger":
		if endpoint == "" {
			return nil, fmt.Errorf("tracing: jaeger exporter requires tracing.endpoint")
		}
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", kind)
	}
}
