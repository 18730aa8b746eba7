package tracing

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names for the instrumented components. Every span the engines start
// hangs off one of these.
const (
	TracerAgent    = "orkestra.agent"
	TracerWorkflow = "orkestra.workflow"
)

var (
	setupOnce  sync.Once
	providerMu sync.RWMutex
	provider   *sdktrace.TracerProvider
	setupErr   error
)

// InitOpenTelemetry installs the process-wide tracer provider the daemon and
// both engines report spans to. Safe to call more than once; only the first
// call takes effect.
func InitOpenTelemetry(serviceName string) error {
	setupOnce.Do(func() {
		host, _ := os.Hostname()
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceNamespace("orkestra"),
				semconv.HostName(host),
			),
		)
		if err != nil {
			setupErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return setupErr
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider installed
// by InitOpenTelemetry.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span under the named tracer with the run, agent and
// workflow ids the context already carries stamped onto it, so callers do not
// repeat them per span. The span's trace id is written back into the tracing
// context when none was set, which is what ties log lines to spans.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(identityAttributes(ctx), attrs...)
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// identityAttributes converts the ids stamped with the With* helpers into
// span attributes.
func identityAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := GetRunID(ctx); id != "" {
		attrs = append(attrs, attribute.String("run_id", id))
	}
	if id := GetAgentID(ctx); id != "" {
		attrs = append(attrs, attribute.String("agent_id", id))
	}
	if id := GetWorkflowID(ctx); id != "" {
		attrs = append(attrs, attribute.String("workflow_id", id))
	}
	return attrs
}
