// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"fmt"
)

// Kind classifies a tool by its external effect. Reads are
// side-effect-free and safe to run silently; writes produce external
// side effects and are executed under the dispatcher's retry policy.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
)

// String returns the classification name for logs.
func (k Kind) String() string {
	if k == KindWrite {
		return "write"
	}
	return "read"
}

// Tool represents a callable tool. Descriptors are defined at startup
// and read-only for the lifetime of the process.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Kind        Kind           `json:"-"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds the available tools, keyed by name.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry. The scheduling tools are
// registered via RegisterScheduling.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Schemas returns all tool schemas in registration order, in the shape
// the model provider expects.
func (r *Registry) Schemas() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with decoded arguments. Unknown names
// return *ErrToolUnavailable so callers can report the miss back into
// the conversation instead of failing the turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}

// stringArg extracts a string argument, with "" for absent or non-string.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg extracts an integer argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// requireString extracts a mandatory string argument.
func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}
