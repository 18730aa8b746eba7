package config

import (
	"encoding/json"
	"fmt"
)

// Config is the main orkestra configuration.
type Config struct {
	// Data directory; the SQLite database and logs live here.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Database file path. Defaults to <data_dir>/orkestra.db.
	Database string `json:"database" mapstructure:"database"`

	// Definitions directory with agent and workflow files.
	Definitions DefinitionsConfig `json:"definitions" mapstructure:"definitions"`

	// Provider credentials
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Webhook ingress configuration
	Webhook WebhookConfig `json:"webhook" mapstructure:"webhook"`

	// Gateway (websocket event stream) configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Telegram approval channel configuration
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Scheduler configuration
	Schedule ScheduleConfig `json:"schedule" mapstructure:"schedule"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// DefinitionsConfig locates agent and workflow definition files.
type DefinitionsConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	Watch      bool   `json:"watch" mapstructure:"watch"`
	DebounceMs int    `json:"debounce_ms" mapstructure:"debounce_ms"`
}

// ProvidersConfig holds model provider credentials.
type ProvidersConfig struct {
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
}

// WebhookConfig configures the inbound webhook server.
type WebhookConfig struct {
	Enabled            bool          `json:"enabled" mapstructure:"enabled"`
	Host               string        `json:"host" mapstructure:"host"`
	Port               int           `json:"port" mapstructure:"port"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	Routes             []RouteConfig `json:"routes" mapstructure:"routes"`
}

// RouteConfig maps an HTTP route to a workflow.
type RouteConfig struct {
	Method     string `json:"method" mapstructure:"method"`
	Path       string `json:"path" mapstructure:"path"`
	WorkflowID string `json:"workflow_id" mapstructure:"workflow_id"`
	Token      string `json:"token" mapstructure:"token"`
	Secret     string `json:"secret" mapstructure:"secret"`
}

// GatewayConfig configures the websocket event gateway.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
	Token   string `json:"token" mapstructure:"token"`
}

// TelegramConfig configures the Telegram approval channel.
type TelegramConfig struct {
	Enabled  bool    `json:"enabled" mapstructure:"enabled"`
	BotToken string  `json:"bot_token" mapstructure:"bot_token"`
	ChatIDs  []int64 `json:"chat_ids" mapstructure:"chat_ids"`
}

// ScheduleConfig configures the job scheduler.
type ScheduleConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	TickMs  int  `json:"tick_ms" mapstructure:"tick_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Definitions: DefinitionsConfig{
			Watch:      true,
			DebounceMs: 200,
		},
		Webhook: WebhookConfig{
			Enabled:            false,
			Host:               "0.0.0.0",
			Port:               3001,
			RateLimitPerMinute: 100,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Schedule: ScheduleConfig{
			Enabled: true,
			TickMs:  1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    9090,
		},
	}
}

// String returns a JSON representation of the config with secrets redacted.
func (c *Config) String() string {
	clone := *c
	if clone.Providers.OpenAIAPIKey != "" {
		clone.Providers.OpenAIAPIKey = "[redacted]"
	}
	if clone.Providers.AnthropicAPIKey != "" {
		clone.Providers.AnthropicAPIKey = "[redacted]"
	}
	if clone.Telegram.BotToken != "" {
		clone.Telegram.BotToken = "[redacted]"
	}
	data, _ := json.MarshalIndent(&clone, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Providers.OpenAIAPIKey == "" && c.Providers.AnthropicAPIKey == "" {
		return fmt.Errorf("no provider credentials configured: set providers.openai_api_key or providers.anthropic_api_key")
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	if c.Webhook.Enabled {
		if len(c.Webhook.Routes) == 0 {
			return fmt.Errorf("webhook ingress is enabled but no routes are configured")
		}
		for i, r := range c.Webhook.Routes {
			if r.Path == "" {
				return fmt.Errorf("webhook route %d: path is required", i)
			}
			if r.WorkflowID == "" {
				return fmt.Errorf("webhook route %s: workflow_id is required", r.Path)
			}
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when the telegram channel is enabled")
		}
		if len(c.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("at least one telegram chat id is required when the telegram channel is enabled")
		}
	}

	if c.Gateway.Enabled && c.Gateway.Port == 0 {
		return fmt.Errorf("gateway port is required when the gateway is enabled")
	}

	return nil
}
