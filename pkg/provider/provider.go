// Package provider wraps LLM chat-completion APIs behind a single
// request/response interface with an OpenAI-compatible shape.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// ChatCompletionProvider is a stateless chat-completion call. Implementations
// must support both plain and tool-enabled requests.
type ChatCompletionProvider interface {
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// Message is one entry in the conversation history. Role is one of "system",
// "user", "assistant" or "tool".
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolSpec advertises one callable tool to the model. InputSchema is a JSON
// schema object derived from the tool's declared parameters.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Request contains the parameters for one completion call.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []ToolSpec
	ToolChoice   string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response is the model's reply: assistant text, requested tool calls, or
// both, plus token usage.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the summed token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Credentials holds the API keys the factory can build providers from.
type Credentials struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// Factory builds providers by name from configured credentials.
type Factory struct {
	creds Credentials
}

// NewFactory creates a provider factory.
func NewFactory(creds Credentials) *Factory {
	return &Factory{creds: creds}
}

// New returns a provider for the given name.
func (f *Factory) New(name string) (ChatCompletionProvider, error) {
	switch name {
	case "openai":
		if f.creds.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai api key is not configured")
		}
		return NewOpenAI(f.creds.OpenAIAPIKey), nil
	case "anthropic":
		if f.creds.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic api key is not configured")
		}
		return NewAnthropic(f.creds.AnthropicAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// IsRetryableError reports whether a completion failure is worth retrying.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") ||
		strings.Contains(msg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}

	return false
}
