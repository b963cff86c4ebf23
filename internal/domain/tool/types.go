// Package tool contains the built-in tool registry: descriptors served by
// tools/list and the mock handlers that simulate tool effects once the
// gateway allows a call.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned when no tool of the given name exists.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrBadArguments is returned when a handler rejects its arguments.
	ErrBadArguments = errors.New("bad tool arguments")
)

// Handler executes a tool call after the gateway has allowed it.
// Handlers are mocks: they validate arguments and simulate effects.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a descriptor with its handler.
// Descriptor fields match the MCP specification 2025-06-18.
type Tool struct {
	// Name is the unique identifier for this tool (required).
	Name string `json:"name"`

	// Title is an optional human-readable display name.
	Title string `json:"title,omitempty"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's parameters (required).
	InputSchema json.RawMessage `json:"inputSchema"`

	// OutputSchema is an optional JSON Schema for the tool's output.
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`

	// Handler simulates the tool's effect.
	Handler Handler `json:"-"`
}

// Registry holds the built-in tools in a stable listing order.
// It is immutable after construction and safe for concurrent reads.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry builds a registry from tools in listing order.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := r.tools[t.Name]; dup {
			continue
		}
		r.order = append(r.order, t.Name)
		r.tools[t.Name] = t
	}
	return r
}

// List returns descriptors in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Execute runs the named tool's handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Handler(ctx, args)
}
