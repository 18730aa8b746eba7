// Package toolexecutor manages the tool registry and executes named tools
// with parameter validation, permission checks and timeout enforcement. The
// engines treat it as the single ToolInvoker collaborator; a tool's Name is
// its id everywhere (agent allowlists, workflow node config, step records).
package toolexecutor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/selim/orkestra/pkg/run"
)

// ToolPolicy defines which tools a caller can use.
type ToolPolicy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy.
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// If no explicit allow, deny by default
	return false
}

// AllowOnly builds a policy permitting exactly the given tools.
func AllowOnly(names []string) *ToolPolicy {
	if len(names) == 0 {
		return &ToolPolicy{Allow: []string{"*"}}
	}
	return &ToolPolicy{Allow: names}
}

// ToolParameter defines a parameter for a tool.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler.
type ToolDefinition struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Parameters     []ToolParameter `json:"parameters"`
	Handler        ToolHandler     `json:"-"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
}

// ToolHandler is the function signature for tool execution.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides per-call overrides for tool execution.
type ExecutionContext struct {
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	Success    bool        `json:"success"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorType  string      `json:"error_type,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	Truncated  bool        `json:"truncated,omitempty"`
}

// ErrorType values on failed ToolResults.
const (
	ErrPermission    = "permission"
	ErrNotFound      = "not_found"
	ErrInvalidParams = "invalid_params"
	ErrExecution     = "execution"
	ErrTimeout       = "timeout"
)

// ToolExecutor manages and executes tools. It carries no process-wide state;
// construct one and inject it wherever tools are invoked.
type ToolExecutor struct {
	tools          map[string]*ToolDefinition
	schemas        map[string]*gojsonschema.Schema
	schemaMaps     map[string]map[string]interface{}
	defaultTimeout time.Duration
	observe        func(tool string, result ToolResult)
	logger         zerolog.Logger
	mu             sync.RWMutex
}

// Config holds executor configuration.
type Config struct {
	Logger zerolog.Logger
	// DefaultTimeout bounds tools that do not declare their own. Zero means
	// 30 seconds.
	DefaultTimeout time.Duration
	// Observe, when set, receives the outcome of every Execute call.
	Observe func(tool string, result ToolResult)
}

const defaultToolTimeout = 30 * time.Second

// New creates a new ToolExecutor.
func New(cfg Config) *ToolExecutor {
	te := &ToolExecutor{
		tools:      make(map[string]*ToolDefinition),
		schemas:    make(map[string]*gojsonschema.Schema),
		schemaMaps: make(map[string]map[string]interface{}),
		observe:    cfg.Observe,
		logger:     cfg.Logger,
	}
	if cfg.DefaultTimeout > 0 {
		te.defaultTimeout = cfg.DefaultTimeout
	} else {
		te.defaultTimeout = defaultToolTimeout
	}

	te.logger.Info().Msg("Tool executor initialized")
	return te
}

// RegisterTool registers a new tool.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, schemaMap, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.schemaMaps[def.Name] = schemaMap

	te.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// UnregisterTool removes a tool.
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
	delete(te.schemaMaps, name)

	te.logger.Info().Str("tool", name).Msg("Tool unregistered")
}

// GetTool returns a tool definition by name.
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// InputSchema returns the JSON schema object for a tool's parameters, as
// advertised to chat-completion providers.
func (te *ToolExecutor) InputSchema(name string) (map[string]interface{}, bool) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	m, ok := te.schemaMaps[name]
	return m, ok
}

// ListTools returns all registered tool names.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	return tools
}

// Execute runs a tool with the given parameters. Failures never surface as
// errors; they come back as an unsuccessful ToolResult with the message and
// error type set.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	result := te.exec(ctx, toolName, params, execCtx)
	if te.observe != nil {
		te.observe(toolName, result)
	}
	return result
}

func (te *ToolExecutor) exec(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	if execCtx != nil && execCtx.ToolPolicy != nil {
		if !execCtx.ToolPolicy.IsToolAllowed(toolName) {
			te.logger.Warn().Str("tool", toolName).Msg("Tool execution blocked by policy")
			perr := &run.PermissionError{Tool: toolName, Reason: "not in allowed tools"}
			return ToolResult{
				Success:    false,
				Error:      perr.Error(),
				ErrorType:  ErrPermission,
				DurationMs: time.Since(startTime).Milliseconds(),
			}
		}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		te.logger.Error().Str("tool", toolName).Msg("Tool not found")
		return ToolResult{
			Success:    false,
			Error:      fmt.Sprintf("tool not found: %s", toolName),
			ErrorType:  ErrNotFound,
			DurationMs: time.Since(startTime).Milliseconds(),
		}
	}

	if err := te.validateParameters(schema, params); err != nil {
		te.logger.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return ToolResult{
			Success:    false,
			Error:      fmt.Sprintf("parameter validation failed: %v", err),
			ErrorType:  ErrInvalidParams,
			DurationMs: time.Since(startTime).Milliseconds(),
		}
	}

	te.logger.Debug().Str("tool", toolName).Msg("Executing tool")

	timeout := te.defaultTimeout
	if tool.TimeoutSeconds > 0 {
		timeout = time.Duration(tool.TimeoutSeconds) * time.Second
	}
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(startTime)
		output, truncated := te.truncateOutput(result)

		te.logger.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return ToolResult{
			Success:    true,
			Result:     output,
			Truncated:  truncated,
			DurationMs: duration.Milliseconds(),
		}

	case err := <-errChan:
		duration := time.Since(startTime)
		terr := &run.ToolExecutionError{Tool: toolName, Message: err.Error()}

		te.logger.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		return ToolResult{
			Success:    false,
			Error:      terr.Error(),
			ErrorType:  ErrExecution,
			DurationMs: duration.Milliseconds(),
		}

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)
		terr := &run.TimeoutError{What: "tool " + toolName, Seconds: int(timeout.Seconds())}

		te.logger.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution timeout")

		return ToolResult{
			Success:    false,
			Error:      terr.Error(),
			ErrorType:  ErrTimeout,
			DurationMs: duration.Milliseconds(),
		}
	}
}

func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters. The raw
// schema map is kept so providers can advertise it to the model.
func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, map[string]interface{}, error) {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, nil, err
	}

	return schema, schemaMap, nil
}

func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := schema.Validate(paramsLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput truncates output if it exceeds the size limit.
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	const maxSize = 10 * 1024 // 10KB

	str := fmt.Sprintf("%v", output)
	if len(str) <= maxSize {
		return output, false
	}

	truncated := str[:maxSize] + "\n... [output truncated]"
	te.logger.Warn().
		Int("original", len(str)).
		Int("truncated", maxSize).
		Msg("Output truncated")

	return truncated, true
}
