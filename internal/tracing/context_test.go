package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceContext(t *testing.T) {
	t.Run("should generate unique trace ids", func(t *testing.T) {
		assert.NotEmpty(t, NewTraceID())
		assert.NotEqual(t, NewTraceID(), NewTraceID())
	})

	t.Run("should round-trip ids through a context", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceID(ctx, "trace-1")
		ctx = WithRunID(ctx, "wrun_a")
		ctx = WithAgentID(ctx, "researcher")
		ctx = WithWorkflowID(ctx, "wf-deploy")

		assert.Equal(t, "trace-1", GetTraceID(ctx))
		assert.Equal(t, "wrun_a", GetRunID(ctx))
		assert.Equal(t, "researcher", GetAgentID(ctx))
		assert.Equal(t, "wf-deploy", GetWorkflowID(ctx))
	})

	t.Run("should return empty strings from a bare context", func(t *testing.T) {
		ctx := context.Background()
		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetRunID(ctx))
	})

	t.Run("should rebuild a context from an extracted TraceContext", func(t *testing.T) {
		ctx := WithRunID(WithTraceID(context.Background(), "trace-1"), "wrun_a")

		tc := FromContext(ctx)
		assert.Equal(t, "trace-1", tc.TraceID)
		assert.Equal(t, "wrun_a", tc.RunID)

		fresh := NewContext(context.Background(), tc)
		assert.Equal(t, "trace-1", GetTraceID(fresh))
		assert.Equal(t, "wrun_a", GetRunID(fresh))
	})
}
