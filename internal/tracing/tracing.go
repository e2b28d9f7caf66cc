// Package tracing wraps OpenTelemetry setup behind two calls so span-emitting
// code doesn't carry SDK plumbing. Without Init the global tracer provider is
// a no-op and spans cost nothing.
package tracing

import (
	"context"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "dbkit"

var (
	installOnce sync.Once
	installErr  error
	provider    *sdktrace.TracerProvider
)

// Init installs a global tracer provider that writes spans to w as they end.
// The first successful call wins; later calls return the first result.
func Init(serviceName string, w io.Writer) error {
	installOnce.Do(func() {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			installErr = err
			return
		}
		res, err := resource.New(context.Background(),
			resource.WithAttributes(attribute.String("service.name", serviceName)))
		if err != nil {
			installErr = err
			return
		}
		provider = sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
	})
	return installErr
}

// Shutdown flushes and stops the provider installed by Init, if any.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// Start opens a span with the given attributes on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(scopeName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// End records err on the span when non-nil, then ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
