package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BuiltinOptions configures builtin tool registration.
type BuiltinOptions struct {
	// HTTPClient serves the http_request tool. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client
	// MaxResponseBytes caps how much of an HTTP response body is kept.
	MaxResponseBytes int64
}

// RegisterBuiltins registers the baseline glue tools every deployment gets:
// http_request, current_time and json_extract.
func RegisterBuiltins(executor *ToolExecutor, opts BuiltinOptions) error {
	if executor == nil {
		return fmt.Errorf("tool executor is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 256 * 1024
	}

	tools := []ToolDefinition{
		httpRequestTool(opts),
		currentTimeTool(),
		jsonExtractTool(),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func httpRequestTool(opts BuiltinOptions) ToolDefinition {
	return ToolDefinition{
		Name:        "http_request",
		Description: "Perform an HTTP request and return the status code and response body.",
		Parameters: []ToolParameter{
			{Name: "url", Type: "string", Description: "Request URL", Required: true},
			{Name: "method", Type: "string", Description: "HTTP method", Default: "GET"},
			{Name: "body", Type: "string", Description: "Request body"},
			{Name: "headers", Type: "object", Description: "Request headers"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			url, _ := params["url"].(string)
			method, _ := params["method"].(string)
			if method == "" {
				method = http.MethodGet
			}

			var body io.Reader
			if b, ok := params["body"].(string); ok && b != "" {
				body = strings.NewReader(b)
			}

			req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
			if err != nil {
				return nil, fmt.Errorf("failed to build request: %w", err)
			}
			if headers, ok := params["headers"].(map[string]interface{}); ok {
				for k, v := range headers {
					req.Header.Set(k, fmt.Sprintf("%v", v))
				}
			}

			resp, err := opts.HTTPClient.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxResponseBytes))
			if err != nil {
				return nil, fmt.Errorf("failed to read response: %w", err)
			}

			return map[string]interface{}{
				"status": resp.StatusCode,
				"body":   string(data),
			}, nil
		},
	}
}

func currentTimeTool() ToolDefinition {
	return ToolDefinition{
		Name:        "current_time",
		Description: "Return the current time, optionally in a custom Go layout.",
		Parameters: []ToolParameter{
			{Name: "layout", Type: "string", Description: "Go time layout", Default: time.RFC3339},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			layout, _ := params["layout"].(string)
			if layout == "" {
				layout = time.RFC3339
			}
			return time.Now().Format(layout), nil
		},
	}
}

func jsonExtractTool() ToolDefinition {
	return ToolDefinition{
		Name:        "json_extract",
		Description: "Extract a value from a JSON document by dot path.",
		Parameters: []ToolParameter{
			{Name: "json", Type: "string", Description: "JSON document", Required: true},
			{Name: "path", Type: "string", Description: "Dot path, e.g. data.items", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			doc, _ := params["json"].(string)
			path, _ := params["path"].(string)

			var decoded interface{}
			if err := json.Unmarshal([]byte(doc), &decoded); err != nil {
				return nil, fmt.Errorf("invalid json: %w", err)
			}

			current := decoded
			for _, part := range strings.Split(path, ".") {
				obj, ok := current.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("path %s does not resolve to an object", path)
				}
				current, ok = obj[part]
				if !ok {
					return nil, fmt.Errorf("key %s not found", part)
				}
			}
			return current, nil
		},
	}
}
