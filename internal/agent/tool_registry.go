package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/servicedesk/internal/observability"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

// DefaultToolTimeout bounds one tool execution.
const DefaultToolTimeout = 60 * time.Second

// ToolRegistry manages available tools with thread-safe registration and lookup.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithToolTimeout sets the per-execution timeout.
func WithToolTimeout(d time.Duration) RegistryOption {
	return func(r *ToolRegistry) { r.timeout = d }
}

// WithLogger sets the registry logger.
func WithLogger(logger *observability.Logger) RegistryOption {
	return func(r *ToolRegistry) { r.logger = logger }
}

// WithMetrics records tool executions.
func WithMetrics(metrics *observability.Metrics) RegistryOption {
	return func(r *ToolRegistry) { r.metrics = metrics }
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:   make(map[string]Tool),
		timeout: DefaultToolTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = observability.NopLogger()
	}
	return r
}

// Register adds a tool to the registry by its name.
// If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	r.mu.RUnlock()
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found or parameters are invalid.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (result *ToolResult, err error) {
	if len(name) > MaxToolNameLength {
		return ErrorResult("tool name exceeds maximum length of %d characters", MaxToolNameLength), nil
	}
	if len(params) > MaxToolParamsSize {
		return ErrorResult("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize), nil
	}

	tool, ok := r.Get(name)
	if !ok {
		return ErrorResult("tool not found: %s", name), nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(ctx, "tool panicked", "tool", name, "panic", fmt.Sprint(p))
			result, err = ErrorResult("tool %s failed unexpectedly", name), nil
		}
		status := "success"
		if err != nil || result == nil || result.IsError {
			status = "error"
		}
		r.metrics.RecordToolExecution(name, status)
		r.logger.Debug(ctx, "tool executed",
			"tool", name,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return tool.Execute(ctx, params)
}
