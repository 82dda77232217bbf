// Package tool implements the Tool capability contract, its JSON Schema
// argument validation, a name registry, and the parallel batch dispatcher
// the turn loop calls once per assistant turn that produces tool calls.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Parameters is a JSON Schema object describing a tool's arguments: spec.md
// requires `type: object`, `properties`, and `required[]`; anything else in
// the draft-07 subset jsonschema/v6 supports is passed through untouched.
type Parameters struct {
	Schema json.RawMessage
}

// Tool is the capability every built-in, dynamic, or MCP-routed tool
// implements. Execute must be safe for concurrent invocation: the same Tool
// value is shared across every run and every concurrent call within a
// batch. update, when non-nil, may be called zero or more times from any
// goroutine before Execute returns to forward progress information to the
// event sink.
type Tool interface {
	Name() string
	Description() string
	Parameters() Parameters
	Execute(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error)
}

// Validate checks args against p's JSON Schema. An empty or nil Schema is
// treated as "accepts anything" (no properties to check).
func (p Parameters) Validate(args json.RawMessage) error {
	if len(p.Schema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", mustDecode(p.Schema)); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var value any
	if len(args) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("argument validation failed: arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("argument validation failed: %w", err)
	}
	return nil
}

func mustDecode(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// A schema that fails to parse as JSON is a programmer error in the
		// tool's own definition, not a runtime/caller condition.
		panic(fmt.Sprintf("tool: invalid parameters schema: %v", err))
	}
	return v
}

// Func adapts a plain function to the Tool interface for simple, stateless
// tools that need no update callback.
type Func struct {
	FuncName        string
	FuncDescription string
	FuncParameters  Parameters
	FuncExecute     func(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error)
}

// Name implements Tool.
func (f Func) Name() string { return f.FuncName }

// Description implements Tool.
func (f Func) Description() string { return f.FuncDescription }

// Parameters implements Tool.
func (f Func) Parameters() Parameters { return f.FuncParameters }

// Execute implements Tool.
func (f Func) Execute(ctx context.Context, args json.RawMessage, update func(json.RawMessage)) (json.RawMessage, error) {
	return f.FuncExecute(ctx, args, update)
}
