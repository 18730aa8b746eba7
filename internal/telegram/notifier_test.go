package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selim/orkestra/pkg/run"
)

func TestFormatApprovalMessage(t *testing.T) {
	t.Run("should include run, node, and message", func(t *testing.T) {
		req := &run.ApprovalRequest{
			RunID:   "wrun_abc",
			NodeID:  "gate",
			Message: "Deploy to production?",
		}

		text := formatApprovalMessage(req)

		assert.Contains(t, text, "run: wrun_abc")
		assert.Contains(t, text, "node: gate")
		assert.Contains(t, text, "message: Deploy to production?")
	})

	t.Run("should render snapshot keys in stable order", func(t *testing.T) {
		req := &run.ApprovalRequest{
			RunID:  "wrun_abc",
			NodeID: "gate",
			Snapshot: map[string]interface{}{
				"env":     "prod",
				"changes": 3,
			},
		}

		text := formatApprovalMessage(req)

		require.Positive(t, strings.Index(text, "changes: 3"))
		require.Positive(t, strings.Index(text, "env: prod"))
		assert.Less(t, strings.Index(text, "changes: 3"), strings.Index(text, "env: prod"))
	})
}

func TestCallbackRoundTrip(t *testing.T) {
	t.Run("should parse approve and deny callbacks", func(t *testing.T) {
		runID, approved, ok := parseCallback(callbackData("wrun_x1", true))
		require.True(t, ok)
		assert.True(t, approved)
		assert.Equal(t, "wrun_x1", runID)

		runID, approved, ok = parseCallback(callbackData("wrun_x2", false))
		require.True(t, ok)
		assert.False(t, approved)
		assert.Equal(t, "wrun_x2", runID)
	})

	t.Run("should reject unknown callback data", func(t *testing.T) {
		_, _, ok := parseCallback("restart:wrun_x1")
		assert.False(t, ok)

		_, _, ok = parseCallback("")
		assert.False(t, ok)
	})
}

func TestNewNotifierValidation(t *testing.T) {
	t.Run("should require a token, chats, and a resolver", func(t *testing.T) {
		_, err := NewNotifier(Config{ChatIDs: []int64{1}}, nil)
		assert.Error(t, err)

		_, err = NewNotifier(Config{Token: "t"}, nil)
		assert.Error(t, err)
	})
}
