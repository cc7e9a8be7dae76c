// Package tools provides the registry of callable tools and the executor the
// processing loop runs them through. Tools declare their arguments as JSON
// Schema; the executor validates arguments against the compiled schema before
// invoking the function and never lets a tool failure escape as an error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
)

// ToolFunc implements one tool. It receives the arguments the model supplied,
// already validated against the tool's parameter schema.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Permission classifies how much oversight a tool's execution needs.
type Permission string

const (
	// PermissionSafe tools run without approval.
	PermissionSafe Permission = "safe"
	// PermissionRequiresApproval tools wait for an approval event before
	// running.
	PermissionRequiresApproval Permission = "requires_approval"
	// PermissionDangerous tools also wait for approval and should be gated
	// by stricter policy upstream.
	PermissionDangerous Permission = "dangerous"
)

// RequiresApproval reports whether executions of a tool at this level must be
// approved first.
func (p Permission) RequiresApproval() bool {
	return p == PermissionRequiresApproval || p == PermissionDangerous
}

// Tool is one callable tool: a unique name, a description shown to the model,
// a JSON Schema object for its arguments, and the implementing function.
// A zero Permission registers as PermissionSafe.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Permission  Permission
	Func        ToolFunc
}

// ToolRegistrationError reports a rejected registration.
type ToolRegistrationError struct {
	Name   string
	Reason string
}

func (e *ToolRegistrationError) Error() string {
	return fmt.Sprintf("cannot register tool %q: %s", e.Name, e.Reason)
}

// ToolNotFoundError reports a lookup of a tool the registry does not hold.
type ToolNotFoundError struct {
	Name      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("tool %q not found in registry; no tools are registered", e.Name)
	}
	return fmt.Sprintf("tool %q not found in registry; available tools: %s",
		e.Name, strings.Join(e.Available, ", "))
}

// Registry holds the tools available to a processing loop. It is read-mostly:
// register everything before any loop starts, because mutations do not
// synchronise with executions.
type Registry struct {
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. The name must be unused, the description non-blank,
// and Parameters either nil (an empty object schema is assumed) or a JSON
// Schema of type "object" that compiles.
func (r *Registry) Register(tool Tool) error {
	if strings.TrimSpace(tool.Name) == "" {
		return &ToolRegistrationError{Name: tool.Name, Reason: "name cannot be empty"}
	}
	if strings.TrimSpace(tool.Description) == "" {
		return &ToolRegistrationError{Name: tool.Name, Reason: "description cannot be empty"}
	}
	if tool.Func == nil {
		return &ToolRegistrationError{Name: tool.Name, Reason: "function cannot be nil"}
	}
	if _, exists := r.tools[tool.Name]; exists {
		return &ToolRegistrationError{Name: tool.Name, Reason: "already registered; unregister it first"}
	}
	switch tool.Permission {
	case "":
		tool.Permission = PermissionSafe
	case PermissionSafe, PermissionRequiresApproval, PermissionDangerous:
	default:
		return &ToolRegistrationError{Name: tool.Name, Reason: fmt.Sprintf("unknown permission %q", tool.Permission)}
	}

	if tool.Parameters == nil {
		tool.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if t, ok := tool.Parameters["type"].(string); !ok || t != "object" {
		return &ToolRegistrationError{Name: tool.Name, Reason: `parameter schema must have type "object"`}
	}
	schema, err := compileSchema(tool.Name, tool.Parameters)
	if err != nil {
		return &ToolRegistrationError{Name: tool.Name, Reason: fmt.Sprintf("invalid parameter schema: %v", err)}
	}

	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	r.schemas[tool.Name] = schema
	return nil
}

// Get returns the named tool or a *ToolNotFoundError listing what is
// registered.
func (r *Registry) Get(name string) (Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return Tool{}, &ToolNotFoundError{Name: name, Available: r.Names()}
	}
	return tool, nil
}

// Has reports whether the named tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes the named tool.
func (r *Registry) Unregister(name string) error {
	if _, ok := r.tools[name]; !ok {
		return &ToolNotFoundError{Name: name, Available: r.Names()}
	}
	delete(r.tools, name)
	delete(r.schemas, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Clear removes every tool.
func (r *Registry) Clear() {
	r.tools = make(map[string]Tool)
	r.schemas = make(map[string]*jsonschema.Schema)
	r.order = nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// Declarations renders every tool in the model-facing declaration shape, in
// registration order.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	decls := make([]llm.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		decls = append(decls, llm.ToolDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return decls
}

// validateArguments checks args against the tool's compiled schema. Nil args
// validate as an empty object.
func (r *Registry) validateArguments(name string, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	instance, err := normaliseJSON(args)
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(instance)
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	doc, err := normaliseJSON(params)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resource)
}

// normaliseJSON round-trips a value through encoding/json so the schema
// library sees the types it expects (float64 numbers, map[string]any objects).
func normaliseJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
