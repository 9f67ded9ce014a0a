// Package tool defines the capability abstraction the model can invoke and
// the registry that advertises and dispatches tools by name.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a capability the model can invoke during a query.
//
// Execute must be total over the declared schema: well-formed arguments
// produce a result string (including "nothing found" style messages), and a
// returned error means the tool itself broke.
type Tool interface {
	// Definition returns the name, description and input schema advertised to the model.
	Definition() Definition

	// Execute runs the tool with the given JSON arguments.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// CitationSource is implemented by tools that record the sources behind
// their last successful result.
type CitationSource interface {
	LastCitations() []string
	ResetCitations()
}

// Definition is a serializable tool definition for passing to the LLM.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// DecodeArgs strictly decodes a JSON argument payload into v.
// Unknown fields and trailing data are rejected.
func DecodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ArgumentError{Err: err}
	}
	if dec.More() {
		return &ArgumentError{Err: fmt.Errorf("unexpected data after arguments")}
	}
	return nil
}

// Func adapts a plain function into a Tool.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition returns the wrapped definition.
func (f *Func) Definition() Definition { return f.Def }

// Execute calls the wrapped function.
func (f *Func) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f.Fn(ctx, args)
}
