package tool

import (
	"context"
	"fmt"
)

// Handler implements a function tool. A non-map result is returned to the
// model as {"result": value}.
type Handler func(ctx context.Context, tc *Context, args map[string]any) (any, error)

type function struct {
	decl    *Declaration
	handler Handler
}

// NewFunction wraps a Go function as a tool
func NewFunction(decl Declaration, handler Handler) (Tool, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("tool handler cannot be nil for %s", decl.Name)
	}
	return &function{decl: &decl, handler: handler}, nil
}

// MustFunction is NewFunction for package-level tool tables
func MustFunction(decl Declaration, handler Handler) Tool {
	t, err := NewFunction(decl, handler)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *function) Declaration() *Declaration {
	return f.decl
}

func (f *function) Run(ctx context.Context, tc *Context, args map[string]any) (map[string]any, error) {
	out, err := f.handler(ctx, tc, args)
	if err != nil {
		return nil, err
	}
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"result": out}, nil
}

// StringArg returns args[name] as a string
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", name, v)
	}
	return s, nil
}

// NumberArg returns args[name] as a float64, accepting any numeric type
func NumberArg(args map[string]any, name string) (float64, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	}
	return 0, fmt.Errorf("argument %q must be a number, got %T", name, v)
}
