package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates individual configuration values before they are saved.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	default:
		return fmt.Errorf("unknown provider %q (must be: anthropic, openai)", provider)
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token.
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	pattern := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	if !pattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateRoutePath validates a webhook route path.
func (v *Validator) ValidateRoutePath(path string) error {
	if path == "" {
		return fmt.Errorf("route path cannot be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("route path must start with /")
	}
	if path == "/health" {
		return fmt.Errorf("route path /health is reserved")
	}
	return nil
}

// ValidatePort validates a TCP port number.
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
