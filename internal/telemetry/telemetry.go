// Package telemetry wires optional OpenTelemetry tracing and metrics
// for the change applier and merge engine, the two components whose
// work fans out across every tenant of a branch. It follows the
// teacher's own pattern of calling
// otel.Tracer/otel.Meter against the global delegating provider at
// package init time, so instruments are always safe to use — they are
// no-ops until Init registers a real provider, and forward
// automatically afterward.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const instrumentationName = "github.com/cinchdb/cinchdb"

// Tracer is the package-wide tracer, safe to use before Init.
var Tracer = otel.Tracer(instrumentationName)

// Meter is the package-wide meter, safe to use before Init.
var Meter = otel.Meter(instrumentationName)

// Shutdown tears down a provider installed by Init.
type Shutdown func(ctx context.Context) error

// Init installs stdout trace and metric exporters as the global
// OpenTelemetry providers. Opt-in: the engine never calls this
// automatically, so observability stays a pluggable piece the core
// never imports directly.
func Init(ctx context.Context) (Shutdown, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}
