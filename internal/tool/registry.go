package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type entry struct {
	tool   Tool
	def    Definition
	schema *jsonschema.Schema
}

// Registry holds available tools in registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool. The definition must have a unique non-empty name and
// an input schema that compiles.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return &ConfigError{Message: "definition has no name"}
	}

	schema, err := compileSchema(def)
	if err != nil {
		return &ConfigError{Tool: def.Name, Message: "invalid input schema: " + err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return &ConfigError{Tool: def.Name, Message: "already registered"}
	}
	r.entries[def.Name] = &entry{tool: t, def: def, schema: schema}
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Definitions returns all tool definitions in registration order. A nil
// registry has none.
func (r *Registry) Definitions() []Definition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].def)
	}
	return defs
}

// Execute dispatches a call by name. An unknown name is reported as a
// result string, not an error. Malformed or schema-violating arguments,
// tool errors and tool panics are returned as errors.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var (
		e  *entry
		ok bool
	)
	if r != nil {
		r.mu.RLock()
		e, ok = r.entries[name]
		r.mu.RUnlock()
	}
	if !ok {
		return fmt.Sprintf("Tool '%s' not found", name), nil
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(args))
	if err != nil {
		return "", &ArgumentError{Tool: name, Err: err}
	}
	if err := e.schema.Validate(instance); err != nil {
		return "", &ArgumentError{Tool: name, Err: err}
	}

	return invoke(ctx, e.tool, name, args)
}

func invoke(ctx context.Context, t Tool, name string, args json.RawMessage) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = "", fmt.Errorf("%s panicked: %v", name, p)
		}
	}()

	out, err = t.Execute(ctx, args)
	if err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) && argErr.Tool == "" {
			argErr.Tool = name
			return "", argErr
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// LastCitations returns the first non-empty citation list among registered
// citation sources, in registration order. It never returns nil.
func (r *Registry) LastCitations() []string {
	if r == nil {
		return []string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		src, ok := r.entries[name].tool.(CitationSource)
		if !ok {
			continue
		}
		if c := src.LastCitations(); len(c) > 0 {
			return append([]string(nil), c...)
		}
	}
	return []string{}
}

// ResetCitations clears the citations of every registered citation source.
func (r *Registry) ResetCitations() {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if src, ok := r.entries[name].tool.(CitationSource); ok {
			src.ResetCitations()
		}
	}
}

func compileSchema(def Definition) (*jsonschema.Schema, error) {
	raw := def.InputSchema
	if raw == nil {
		raw = map[string]any{"type": "object"}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	url := def.Name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
