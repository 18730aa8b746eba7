package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	t.Run("should return defaults when the file does not exist", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)

		assert.Equal(t, 3001, cfg.Webhook.Port)
		assert.True(t, cfg.Definitions.Watch)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "orkestra.db"), cfg.Database)
	})

	t.Run("should load values from a JSON file over the defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "orkestra.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"data_dir": "/tmp/orkdata",
			"gateway": {"enabled": true, "port": 9999, "token": "tok"},
			"logging": {"level": "debug"}
		}`), 0o600))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		assert.Equal(t, "/tmp/orkdata", cfg.DataDir)
		assert.Equal(t, "/tmp/orkdata/orkestra.db", cfg.Database)
		assert.True(t, cfg.Gateway.Enabled)
		assert.Equal(t, 9999, cfg.Gateway.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		// untouched defaults survive
		assert.Equal(t, 100, cfg.Webhook.RateLimitPerMinute)
	})

	t.Run("should fail on malformed JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "orkestra.json")
		require.NoError(t, os.WriteFile(path, []byte(`{nope`), 0o600))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})

	t.Run("should round-trip through Save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "orkestra.json")
		loader := NewLoader(path)

		cfg := DefaultConfig()
		cfg.DataDir = "/tmp/orkdata"
		cfg.Providers.AnthropicAPIKey = "sk-ant-test"
		cfg.Webhook.Routes = []RouteConfig{{Method: "POST", Path: "/hooks/ci", WorkflowID: "wf1"}}
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "/tmp/orkdata", loaded.DataDir)
		assert.Equal(t, "sk-ant-test", loaded.Providers.AnthropicAPIKey)
		require.Len(t, loaded.Webhook.Routes, 1)
		assert.Equal(t, "/hooks/ci", loaded.Webhook.Routes[0].Path)
	})
}
