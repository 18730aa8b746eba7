package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestInitOpenTelemetry(t *testing.T) {
	t.Run("should initialize once and tolerate repeat calls", func(t *testing.T) {
		require.NoError(t, InitOpenTelemetry("orkestra"))
		require.NoError(t, InitOpenTelemetry("orkestra"))

		assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
	})
}

func TestStartSpan(t *testing.T) {
	t.Run("should stamp context ids onto the span", func(t *testing.T) {
		rec := setupSpanRecorder(t)

		ctx := WithRunID(context.Background(), "wfr_abc123")
		ctx = WithWorkflowID(ctx, "wf_deploy")
		_, span := StartSpan(ctx, TracerWorkflow, "workflow.run")
		span.End()

		spans := rec.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "workflow.run", spans[0].Name())
		assert.Contains(t, spans[0].Attributes(), attribute.String("run_id", "wfr_abc123"))
		assert.Contains(t, spans[0].Attributes(), attribute.String("workflow_id", "wf_deploy"))
	})

	t.Run("should backfill the trace id into the tracing context", func(t *testing.T) {
		setupSpanRecorder(t)

		ctx, span := StartSpan(context.Background(), TracerAgent, "agent.run")
		defer span.End()

		assert.NotEmpty(t, GetTraceID(ctx))
	})

	t.Run("should keep a caller-provided trace id", func(t *testing.T) {
		setupSpanRecorder(t)

		ctx := WithTraceID(context.Background(), "trace-777")
		ctx, span := StartSpan(ctx, TracerAgent, "agent.run")
		defer span.End()

		assert.Equal(t, "trace-777", GetTraceID(ctx))
	})
}
