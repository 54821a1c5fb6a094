package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chalkline/agentkit/kernel/model"
)

// Func is a typed function tool handler.
type Func[TArgs, TResult any] func(context.Context, TArgs) (TResult, error)

type funcTool[TArgs, TResult any] struct {
	name        string
	description string
	fn          Func[TArgs, TResult]
}

// NewFunc wraps a typed handler as a Tool. The parameter schema is
// reflected from TArgs; struct fields without omitempty are required.
func NewFunc[TArgs, TResult any](name, description string, fn Func[TArgs, TResult]) (Tool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool: name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool: handler is nil")
	}
	return &funcTool[TArgs, TResult]{name: name, description: description, fn: fn}, nil
}

// MustFunc is NewFunc for static registrations that cannot fail.
func MustFunc[TArgs, TResult any](name, description string, fn Func[TArgs, TResult]) Tool {
	t, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *funcTool[TArgs, TResult]) Name() string        { return t.name }
func (t *funcTool[TArgs, TResult]) Description() string { return t.description }

func (t *funcTool[TArgs, TResult]) Declaration() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        t.name,
		Description: t.description,
		Parameters:  schemaForType[TArgs](),
	}
}

func (t *funcTool[TArgs, TResult]) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	var args TArgs
	if err := roundTripJSON(input, &args); err != nil {
		return nil, fmt.Errorf("tool %q: decode input: %w", t.name, err)
	}
	out, err := t.fn(ctx, args)
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	if err := roundTripJSON(out, &result); err == nil {
		return result, nil
	}
	// Scalar or slice results get wrapped under a fixed key.
	return map[string]any{"result": out}, nil
}

func roundTripJSON(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
