package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BaSui01/chatflow/llm/structured"
	"github.com/BaSui01/chatflow/types"
)

// RunContext is the per-run scratch space a tool may read and write.
// Implemented by workflow.RunContext.
type RunContext interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Inputs() map[string]any
}

// Func is the raw tool signature. args is the JSON object sent by the model;
// rc may be nil when the tool runs outside a workflow.
type Func func(ctx context.Context, args json.RawMessage, rc RunContext) (any, error)

// CatchFunc converts a tool failure into a result the model can read.
type CatchFunc func(err error) any

// ToolError is a serialisable tool failure. It is rendered to the model as
// "ERROR: <message>".
type ToolError struct {
	Message string `json:"message"`
}

func (e *ToolError) Error() string  { return e.Message }
func (e *ToolError) String() string { return "ERROR: " + e.Message }

// DefaultCatch turns any error into a *ToolError.
func DefaultCatch(err error) any {
	return &ToolError{Message: err.Error()}
}

// Tool is a named function the model can call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Fn          Func
	// Catch handles errors returned by Fn. nil lets them propagate and fail the run.
	Catch CatchFunc
}

// New creates a tool from a raw function. Errors are caught with DefaultCatch.
func New(name, description string, parameters json.RawMessage, fn Func) Tool {
	if len(parameters) == 0 {
		parameters = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Fn:          fn,
		Catch:       DefaultCatch,
	}
}

// NewFunc creates a tool whose parameters schema is derived from A.
func NewFunc[A any, R any](name, description string, fn func(ctx context.Context, args A) (R, error)) (Tool, error) {
	return NewFuncWithContext(name, description, func(ctx context.Context, args A, _ RunContext) (R, error) {
		return fn(ctx, args)
	})
}

// NewFuncWithContext is NewFunc for tools that use the run context.
func NewFuncWithContext[A any, R any](name, description string, fn func(ctx context.Context, args A, rc RunContext) (R, error)) (Tool, error) {
	schema, err := structured.GenerateFor[A]()
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: %w", name, err)
	}
	if schema.Type != structured.TypeObject {
		return Tool{}, fmt.Errorf("tool %s: arguments must be a struct or map, got %s", name, schema.Type)
	}
	params, err := schema.ToJSON()
	if err != nil {
		return Tool{}, fmt.Errorf("tool %s: %w", name, err)
	}

	raw := func(ctx context.Context, data json.RawMessage, rc RunContext) (any, error) {
		var args A
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.NewError(types.ErrToolArguments, "decode arguments for "+name).WithCause(err)
		}
		return fn(ctx, args, rc)
	}
	return New(name, description, params, raw), nil
}

// MustFunc is NewFunc that panics on schema errors.
func MustFunc[A any, R any](name, description string, fn func(ctx context.Context, args A) (R, error)) Tool {
	t, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// WithCatch returns a copy using handler for errors. nil disables catching.
func (t Tool) WithCatch(handler CatchFunc) Tool {
	t.Catch = handler
	return t
}

// Schema returns the function-calling schema sent to the model.
func (t Tool) Schema() types.ToolSchema {
	return types.ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// Invoke runs the tool and returns its JSON-encoded result.
// Argument documents that are not valid JSON always fail, regardless of Catch.
func (t Tool) Invoke(ctx context.Context, args json.RawMessage, rc RunContext) (string, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return "", types.NewError(types.ErrToolArguments, fmt.Sprintf("tool %s: arguments are not valid JSON", t.Name))
	}
	if t.Fn == nil {
		return "", types.NewError(types.ErrToolExecution, fmt.Sprintf("tool %s has no function", t.Name))
	}

	res, err := t.Fn(ctx, args, rc)
	if err != nil {
		if t.Catch == nil {
			return "", types.NewError(types.ErrToolExecution, fmt.Sprintf("tool %s failed", t.Name)).WithCause(err)
		}
		res = t.Catch(err)
	}
	return encodeResult(t.Name, res)
}

func encodeResult(name string, res any) (string, error) {
	var te *ToolError
	if e, ok := res.(error); ok && errors.As(e, &te) {
		res = te.String()
	}
	if raw, ok := res.(json.RawMessage); ok && json.Valid(raw) {
		return string(raw), nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", types.NewError(types.ErrToolExecution, fmt.Sprintf("tool %s: encode result", name)).WithCause(err)
	}
	return string(data), nil
}
