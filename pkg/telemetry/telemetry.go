// Functions for working with OpenTelemetry in agentdeployd.

package telemetry

import (
	"context"
	"runtime"
	"time"

	"github.com/postqode/agentdeploy/pkg/deployment"
	"github.com/postqode/agentdeploy/pkg/version"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	otrace "go.opentelemetry.io/otel/trace"
)

// How long between each time OT sends something to the collector.
const batchTimeout = 5 * time.Second

const (
	AttributeDeploymentID = attribute.Key("deployment.id")
	AttributePlatform     = attribute.Key("deployment.platform")
	AttributeEnvironment  = attribute.Key("deployment.environment")
	AttributeStep         = attribute.Key("deployment.step")
)

const tracerName = "github.com/postqode/agentdeploy"

// Singleton instance of the default tracer provider.
// Access the tracer with `Tracer()`.
var tracer *trace.TracerProvider

// Initialize the OpenTelemetry library.
//
// You MUST call `Shutdown()` on the tracer provider before exiting,
// lest traces are not sent to the collector.
func New(ctx context.Context, serviceName string, collectorEndpointURL string) (*trace.TracerProvider, error) {
	prop := newPropagator()
	otel.SetTextMapPropagator(prop)

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.OSName(runtime.GOOS),
		semconv.ServiceVersion(version.Version()),
	)

	tracerProvider, err := newTraceProvider(ctx, res, collectorEndpointURL)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tracerProvider)

	tracer = tracerProvider

	return tracerProvider, nil
}

// Returns the top-level tracer.
// Falls back to the global provider, which is a no-op unless something else installed one.
func Tracer() otrace.Tracer {
	if tracer == nil {
		return otel.GetTracerProvider().Tracer(tracerName)
	}
	return tracer.Tracer(tracerName)
}

// DeploymentAttributes returns the span attributes identifying a deployment.
func DeploymentAttributes(id string, platform deployment.Platform, environment string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttributeDeploymentID.String(id),
		AttributePlatform.String(platform.String()),
		AttributeEnvironment.String(environment),
	}
}

// RecordError marks the span as failed with the error kind as status description.
func RecordError(span otrace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(deployment.KindOf(err)))
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

func newTraceProvider(ctx context.Context, res *resource.Resource, endpointURL string) (*trace.TracerProvider, error) {
	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpointURL))
	if err != nil {
		return nil, err
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter,
			trace.WithBatchTimeout(batchTimeout)),
		trace.WithResource(res),
	)

	return traceProvider, nil
}
