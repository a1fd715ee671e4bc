// Package agent defines the tool contract used by the upstream agent layer
// and a registry that dispatches tool calls by name.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a callable exposed to the agent layer.
type Tool interface {
	// Name returns the tool name for function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters. A returned error
	// is an infrastructure failure; problems the caller can fix are reported
	// as a result with IsError set.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a tool execution.
type ToolResult struct {
	// Content is the tool's output (text, JSON, etc.)
	Content string `json:"content"`

	// IsError indicates this result represents an error condition
	IsError bool `json:"is_error,omitempty"`
}

// ErrorResult builds an error result with a formatted message.
func ErrorResult(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// JSONResult marshals v as the result content.
func JSONResult(v any) (*ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &ToolResult{Content: string(data)}, nil
}
