package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
)

// Func is the signature of a plain Go function exposed as a tool.
type Func func(ctx context.Context, turnCtx *core.TurnContext, args map[string]any) (any, error)

// FunctionTool adapts an ordinary function to the Tool interface.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunctionTool wraps fn as a Tool. The schema describes the arguments the
// model should produce; required fields listed in the schema are enforced
// before fn runs.
func NewFunctionTool(name, description string, parameters map[string]any, fn Func) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call implements Tool.
func (t *FunctionTool) Call(ctx context.Context, turnCtx *core.TurnContext, args map[string]any) (any, error) {
	if err := checkRequired(t.parameters, args); err != nil {
		return nil, NewError(t.name, err.Error(), "invalid_arguments")
	}
	return t.fn(ctx, turnCtx, args)
}

func checkRequired(schema, args map[string]any) error {
	req, ok := schema["required"]
	if !ok {
		return nil
	}
	names, ok := req.([]string)
	if !ok {
		// Schemas unmarshaled from JSON carry []any.
		raw, ok := req.([]any)
		if !ok {
			return nil
		}
		for _, r := range raw {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
	}
	for _, name := range names {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	return nil
}
