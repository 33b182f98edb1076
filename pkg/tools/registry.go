// Package tools holds the tool registry and the built-in local tools.
// A tool accepts JSON-serializable args and returns a JSON-serializable
// result or fails with a message; the engine relies on nothing else.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentworkbench/workbench/pkg/llm"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Spec describes one registered tool.
type Spec struct {
	Name        string
	Description string
	InputSchema map[string]any
	Risky       bool
	Handler     Handler
}

// Registry holds tool specs. Registration happens once at startup; name
// collisions are an error.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]Spec
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:    make(map[string]Spec),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool %q has no handler", spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	r.specs[spec.Name] = spec

	if spec.InputSchema != nil {
		if schema, err := compileSchema(spec.Name, spec.InputSchema); err == nil {
			r.compiled[spec.Name] = schema
		}
		// A schema that fails to compile disables validation for the tool;
		// the handler still does its own semantic checks.
	}
	return nil
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns specs sorted by name. A non-empty allowed set filters to
// those names; empty means all tools.
func (r *Registry) List(allowed []string) []Spec {
	allow := map[string]bool{}
	for _, name := range allowed {
		allow[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for name, spec := range r.specs {
		if len(allow) > 0 && !allow[name] {
			continue
		}
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary renders "- name: description" lines for the planner prompt.
func (r *Registry) Summary(allowed []string) string {
	var b strings.Builder
	for _, spec := range r.List(allowed) {
		b.WriteString("- ")
		b.WriteString(spec.Name)
		b.WriteString(": ")
		b.WriteString(spec.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// OpenAITools exports tool specs as OpenAI function-call definitions.
func (r *Registry) OpenAITools(allowed []string) []llm.Tool {
	specs := r.List(allowed)
	out := make([]llm.Tool, 0, len(specs))
	for _, spec := range specs {
		params := spec.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// Run dispatches one tool call: validate args against the tool's schema
// (shape only), then run the handler. A handler panic becomes an error.
func (r *Registry) Run(ctx context.Context, name string, args json.RawMessage) (result json.RawMessage, err error) {
	spec, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	r.mu.RLock()
	schema := r.compiled[name]
	r.mu.RUnlock()
	if schema != nil {
		var doc any
		if jsonErr := json.Unmarshal(args, &doc); jsonErr != nil {
			return nil, fmt.Errorf("tool %q args are not valid JSON: %w", name, jsonErr)
		}
		if valErr := schema.Validate(doc); valErr != nil {
			return nil, fmt.Errorf("tool %q args rejected: %w", name, valErr)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool %q panicked: %v", name, p)
		}
	}()

	out, err := spec.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("tool %q result not serializable: %w", name, err)
	}
	return encoded, nil
}

func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
