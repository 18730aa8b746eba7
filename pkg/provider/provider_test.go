package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	t.Run("should build configured providers by name", func(t *testing.T) {
		f := NewFactory(Credentials{OpenAIAPIKey: "sk-test", AnthropicAPIKey: "ak-test"})

		p, err := f.New("openai")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())

		p, err = f.New("anthropic")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("should reject providers without credentials", func(t *testing.T) {
		f := NewFactory(Credentials{})
		_, err := f.New("openai")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		f := NewFactory(Credentials{OpenAIAPIKey: "sk-test"})
		_, err := f.New("cohere")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider")
	})
}

func TestIsRetryableError(t *testing.T) {
	t.Run("should retry rate limits and server errors", func(t *testing.T) {
		assert.True(t, IsRetryableError(errors.New("429 Too Many Requests")))
		assert.True(t, IsRetryableError(errors.New("rate limit exceeded")))
		assert.True(t, IsRetryableError(errors.New("502 Bad Gateway")))
		assert.True(t, IsRetryableError(errors.New("read tcp: ECONNRESET")))
	})

	t.Run("should not retry client errors or nil", func(t *testing.T) {
		assert.False(t, IsRetryableError(nil))
		assert.False(t, IsRetryableError(errors.New("401 Unauthorized")))
		assert.False(t, IsRetryableError(errors.New("invalid request")))
	})
}

func TestTokenUsage(t *testing.T) {
	t.Run("should sum input and output tokens", func(t *testing.T) {
		u := TokenUsage{InputTokens: 120, OutputTokens: 30}
		assert.Equal(t, 150, u.Total())
	})
}
