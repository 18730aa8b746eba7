package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerFromContext(t *testing.T) {
	t.Run("should stamp run and workflow ids onto log lines", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		ctx := WithWorkflowID(WithRunID(context.Background(), "wrun_a"), "wf-deploy")
		zl := LoggerFromContext(ctx, base)
		zl.Info().Msg("node started")

		out := buf.String()
		assert.Contains(t, out, `"run_id":"wrun_a"`)
		assert.Contains(t, out, `"workflow_id":"wf-deploy"`)
	})

	t.Run("should leave the logger untouched for a bare context", func(t *testing.T) {
		var buf bytes.Buffer
		base := zerolog.New(&buf)

		zl := LoggerFromContext(context.Background(), base)
		zl.Info().Msg("hello")

		out := buf.String()
		assert.NotContains(t, out, "run_id")
		assert.NotContains(t, out, "trace_id")
	})
}

func TestCloneContext(t *testing.T) {
	t.Run("should survive the parent's cancellation", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		parent = WithRunID(parent, "wrun_a")

		clone := CloneContext(parent)
		cancel()

		assert.NoError(t, clone.Err())
		assert.Equal(t, "wrun_a", GetRunID(clone))
	})
}
