package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LoggerFromContext returns the base logger enriched with whatever tracing
// identity the context carries: the active otel span's trace id, plus any
// run, agent, or workflow ids stamped with the With* helpers.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	logger := baseLogger

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		logger = logger.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Logger()
	} else if traceID := GetTraceID(ctx); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}

	if runID := GetRunID(ctx); runID != "" {
		logger = logger.With().Str("run_id", runID).Logger()
	}
	if agentID := GetAgentID(ctx); agentID != "" {
		logger = logger.With().Str("agent_id", agentID).Logger()
	}
	if workflowID := GetWorkflowID(ctx); workflowID != "" {
		logger = logger.With().Str("workflow_id", workflowID).Logger()
	}

	return logger
}

// CloneContext carries tracing identity onto a fresh background context, for
// work that must outlive the caller's cancellation.
func CloneContext(ctx context.Context) context.Context {
	return NewContext(context.Background(), FromContext(ctx))
}
