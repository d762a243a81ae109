// Package tracing configures the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "tickpulse"

// InitTracer installs a global tracer provider. With an empty endpoint spans
// are recorded but never exported. The caller must Shutdown the provider.
func InitTracer(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, trace.Tracer, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
	}

	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		var expOpt otlptracegrpc.Option
		if strings.Contains(endpoint, "://") {
			expOpt = otlptracegrpc.WithEndpointURL(endpoint)
		} else {
			expOpt = otlptracegrpc.WithEndpoint(endpoint)
		}
		exp, err := otlptracegrpc.New(ctx, expOpt, otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, tp.Tracer(ServiceName), nil
}
