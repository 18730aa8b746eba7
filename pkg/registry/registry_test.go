package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
agents:
  - id: researcher
    name: Researcher
    provider: openai
    model: gpt-4o
    system_prompt: You research things.
    max_steps: 5
workflows:
  - id: greet
    name: Greet
    nodes:
      - id: start
        type: trigger
      - id: finish
        type: end
    edges:
      - source: start
        target: finish
`

const sampleJSON = `{
  "agents": [
    {"id": "writer", "provider": "anthropic", "model": "claude-sonnet-4-20250514"}
  ]
}`

func writeDefinition(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func setupTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, zerolog.Nop()), dir
}

func TestLoad(t *testing.T) {
	t.Run("should load agents and workflows from yaml and json", func(t *testing.T) {
		r, dir := setupTestRegistry(t)
		writeDefinition(t, dir, "team.yaml", sampleYAML)
		writeDefinition(t, dir, "extra.json", sampleJSON)

		require.NoError(t, r.Load())

		agent, err := r.GetAgent(context.Background(), "researcher")
		require.NoError(t, err)
		assert.Equal(t, "openai", agent.Provider)
		assert.Equal(t, 5, agent.MaxSteps)

		_, err = r.GetAgent(context.Background(), "writer")
		require.NoError(t, err)

		w, err := r.GetWorkflow("greet")
		require.NoError(t, err)
		assert.Len(t, w.Nodes, 2)

		assert.Equal(t, []string{"researcher", "writer"}, r.ListAgents())
		assert.Equal(t, []string{"greet"}, r.ListWorkflows())
	})

	t.Run("should ignore non-definition files", func(t *testing.T) {
		r, dir := setupTestRegistry(t)
		writeDefinition(t, dir, "team.yaml", sampleYAML)
		writeDefinition(t, dir, "README.md", "# not a definition")
		writeDefinition(t, dir, ".hidden.yaml", "agents: []")

		require.NoError(t, r.Load())
		assert.Len(t, r.ListAgents(), 1)
	})

	t.Run("should reject an invalid workflow and keep the previous set", func(t *testing.T) {
		r, dir := setupTestRegistry(t)
		writeDefinition(t, dir, "team.yaml", sampleYAML)
		require.NoError(t, r.Load())

		writeDefinition(t, dir, "broken.yaml", `
workflows:
  - id: broken
    name: Broken
    nodes:
      - id: finish
        type: end
`)
		err := r.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trigger")

		// The previous definitions are still served.
		_, err = r.GetAgent(context.Background(), "researcher")
		assert.NoError(t, err)
	})

	t.Run("should reject duplicate ids across files", func(t *testing.T) {
		r, dir := setupTestRegistry(t)
		writeDefinition(t, dir, "a.yaml", sampleYAML)
		writeDefinition(t, dir, "b.yaml", sampleYAML)

		err := r.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("should reject an agent without a model", func(t *testing.T) {
		r, dir := setupTestRegistry(t)
		writeDefinition(t, dir, "bad.yaml", `
agents:
  - id: ghost
    provider: openai
`)
		err := r.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model")
	})

	t.Run("should report unknown lookups", func(t *testing.T) {
		r, dir := setupTestRegistry(t)
		writeDefinition(t, dir, "team.yaml", sampleYAML)
		require.NoError(t, r.Load())

		_, err := r.GetAgent(context.Background(), "nobody")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")

		_, err = r.GetWorkflow("nothing")
		require.Error(t, err)
	})
}

func TestWatcher(t *testing.T) {
	t.Run("should reload when a definition file changes", func(t *testing.T) {
		r, dir := setupTestRegistry(t)
		writeDefinition(t, dir, "team.yaml", sampleYAML)
		require.NoError(t, r.Load())

		reloaded := make(chan error, 4)
		w, err := NewWatcher(r, WatcherConfig{
			Debounce: 50 * time.Millisecond,
			OnReload: func(err error) { reloaded <- err },
		})
		require.NoError(t, err)
		require.NoError(t, w.Start())
		defer w.Stop()

		writeDefinition(t, dir, "extra.json", sampleJSON)

		select {
		case err := <-reloaded:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("reload did not fire")
		}

		_, err = r.GetAgent(context.Background(), "writer")
		assert.NoError(t, err)
	})
}
