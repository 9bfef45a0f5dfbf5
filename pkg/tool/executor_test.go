package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/harun/agentlab/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func multiplyTool() Tool {
	return MustFunction(Declaration{
		Name:        "multiply",
		Description: "Multiply two numbers",
		Parameters: []Parameter{
			{Name: "a", Type: "number", Description: "first", Required: true},
			{Name: "b", Type: "number", Description: "second", Required: true},
		},
	}, func(ctx context.Context, tc *Context, args map[string]any) (any, error) {
		a, _ := NumberArg(args, "a")
		b, _ := NumberArg(args, "b")
		return a * b, nil
	})
}

func setupExecutor(t *testing.T, cfg ExecutorConfig) *Executor {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	e := NewExecutor(cfg)
	require.NoError(t, e.Register(multiplyTool()))
	return e
}

func call(name string, args map[string]any) *session.FunctionCall {
	return &session.FunctionCall{ID: "c1", Name: name, Args: args}
}

func TestExecutorExecute(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})

	res := e.Execute(context.Background(), NewContext("c1", "tool_agent", nil), call("multiply", map[string]any{"a": 6.0, "b": 7.0}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"result": 42.0}, res.Response())
	assert.Positive(t, res.Duration)
}

func TestExecutorRegisterDuplicate(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})
	assert.Error(t, e.Register(multiplyTool()))
	assert.Equal(t, 1, e.Len())
}

func TestExecutorValidation(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{"a": 1.0}},
		{"wrong type", map[string]any{"a": "six", "b": 7.0}},
		{"unknown argument", map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}},
		{"nil args", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(ctx, NewContext("", "", nil), call("multiply", tt.args))
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "parameter validation failed")
			assert.Contains(t, res.Response(), "error")
		})
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})
	res := e.Execute(context.Background(), NewContext("", "", nil), call("divide", nil))
	assert.False(t, res.Success)
	assert.Equal(t, "tool not found: divide", res.Error)
}

func TestExecutorPolicy(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{Policy: &Policy{Allow: []string{"*"}, Deny: []string{"multiply"}}})

	res := e.Execute(context.Background(), NewContext("", "", nil), call("multiply", map[string]any{"a": 1.0, "b": 2.0}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not allowed")
	assert.Empty(t, e.Declarations())
}

func TestExecutorHandlerError(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})
	require.NoError(t, e.Register(MustFunction(Declaration{Name: "fail", Description: "always fails"},
		func(context.Context, *Context, map[string]any) (any, error) {
			return nil, errors.New("boom")
		})))

	res := e.Execute(context.Background(), NewContext("", "", nil), call("fail", nil))
	assert.False(t, res.Success)
	assert.Equal(t, map[string]any{"error": "boom"}, res.Response())
}

func TestExecutorPanicIsContained(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})
	require.NoError(t, e.Register(MustFunction(Declaration{Name: "panicky", Description: "panics"},
		func(context.Context, *Context, map[string]any) (any, error) {
			panic("bad tool")
		})))

	res := e.Execute(context.Background(), NewContext("", "", nil), call("panicky", nil))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "bad tool")
}

func TestExecutorTimeout(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{Timeout: 20 * time.Millisecond})
	require.NoError(t, e.Register(MustFunction(Declaration{Name: "slow", Description: "sleeps"},
		func(ctx context.Context, _ *Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return "late", nil
		})))

	res := e.Execute(context.Background(), NewContext("", "", nil), call("slow", nil))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
}

func TestExecutorTruncatesLargeOutput(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{MaxOutputBytes: 64})
	require.NoError(t, e.Register(MustFunction(Declaration{Name: "big", Description: "large output"},
		func(context.Context, *Context, map[string]any) (any, error) {
			return strings.Repeat("x", 1000), nil
		})))

	res := e.Execute(context.Background(), NewContext("", "", nil), call("big", nil))
	require.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.Equal(t, true, res.Output["truncated"])
	assert.Less(t, len(res.Output["result"].(string)), 100)
}

func TestExecutorStateDelta(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})
	require.NoError(t, e.Register(MustFunction(Declaration{
		Name:        "update_user_name",
		Description: "Rename the user",
		Parameters:  []Parameter{{Name: "name", Type: "string", Description: "new name", Required: true}},
	}, func(_ context.Context, tc *Context, args map[string]any) (any, error) {
		name, _ := StringArg(args, "name")
		tc.SetState("user_name", name)
		return map[string]any{"status": "success"}, nil
	})))

	tc := NewContext("c1", "memory_agent", session.State{"user_name": "Ada"})
	res := e.Execute(context.Background(), tc, call("update_user_name", map[string]any{"name": "Grace"}))
	require.True(t, res.Success)
	assert.Equal(t, session.State{"user_name": "Grace"}, tc.StateDelta())
}

func TestExecutorDeclarationsOrderAndUnregister(t *testing.T) {
	e := setupExecutor(t, ExecutorConfig{})
	require.NoError(t, e.Register(MustFunction(Declaration{Name: "b_tool", Description: "b"},
		func(context.Context, *Context, map[string]any) (any, error) { return nil, nil })))

	decls := e.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, "multiply", decls[0].Name)
	assert.Equal(t, "b_tool", decls[1].Name)

	e.Unregister("multiply")
	_, ok := e.Get("multiply")
	assert.False(t, ok)
	assert.Len(t, e.Declarations(), 1)
}
