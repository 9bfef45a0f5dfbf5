package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentlab/internal/observability"
	"github.com/harun/agentlab/internal/tracing"
	"github.com/harun/agentlab/pkg/session"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024
)

// Result is the outcome of one tool call
type Result struct {
	Success   bool
	Output    map[string]any
	Error     string
	Truncated bool
	Duration  time.Duration
}

// Response is the payload returned to the model
func (r Result) Response() map[string]any {
	if !r.Success {
		return map[string]any{"error": r.Error}
	}
	if r.Output == nil {
		return map[string]any{}
	}
	return r.Output
}

// ExecutorConfig configures an Executor
type ExecutorConfig struct {
	Policy         *Policy
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         zerolog.Logger
}

// Executor holds an agent's tools and runs model function calls against them
type Executor struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string

	policy         *Policy
	timeout        time.Duration
	maxOutputBytes int
	logger         zerolog.Logger
}

// NewExecutor creates an empty executor
func NewExecutor(cfg ExecutorConfig) *Executor {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Executor{
		tools:          make(map[string]Tool),
		schemas:        make(map[string]*gojsonschema.Schema),
		policy:         cfg.Policy,
		timeout:        cfg.Timeout,
		maxOutputBytes: cfg.MaxOutputBytes,
		logger:         cfg.Logger,
	}
}

// Register adds a tool. Registering a name twice is an error.
func (e *Executor) Register(t Tool) error {
	decl := t.Declaration()
	if err := decl.Validate(); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(decl.JSONSchema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", decl.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[decl.Name]; exists {
		return fmt.Errorf("tool already registered: %s", decl.Name)
	}
	e.tools[decl.Name] = t
	e.schemas[decl.Name] = schema
	e.order = append(e.order, decl.Name)

	e.logger.Debug().Str("tool", decl.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool
func (e *Executor) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.tools, name)
	delete(e.schemas, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name
func (e *Executor) Get(name string) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// Declarations returns the declarations of tools allowed by the policy, in
// registration order
func (e *Executor) Declarations() []*Declaration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Declaration, 0, len(e.order))
	for _, name := range e.order {
		if e.policy.IsAllowed(name) {
			out = append(out, e.tools[name].Declaration())
		}
	}
	return out
}

// Len returns the number of registered tools
func (e *Executor) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tools)
}

// Execute runs one function call. Failures are reported in the Result so
// the model can see them; Execute itself never fails the turn.
func (e *Executor) Execute(ctx context.Context, tc *Context, call *session.FunctionCall) Result {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "agentlab.tool", "tool.execute",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("tool", call.Name).Logger()

	result := e.execute(ctx, tc, call, logger)
	result.Duration = time.Since(start)

	observability.RecordToolExecution(call.Name, result.Duration, result.Success)
	if !result.Success {
		tracing.FailSpan(span, fmt.Errorf("%s", result.Error))
		logger.Warn().Str("error", result.Error).Dur("duration", result.Duration).Msg("Tool execution failed")
	} else {
		logger.Debug().Dur("duration", result.Duration).Bool("truncated", result.Truncated).Msg("Tool execution completed")
	}
	return result
}

func (e *Executor) execute(ctx context.Context, tc *Context, call *session.FunctionCall, logger zerolog.Logger) Result {
	if !e.policy.IsAllowed(call.Name) {
		return Result{Error: fmt.Sprintf("tool '%s' is not allowed by agent policy", call.Name)}
	}

	e.mu.RLock()
	t := e.tools[call.Name]
	schema := e.schemas[call.Name]
	e.mu.RUnlock()

	if t == nil {
		return Result{Error: fmt.Sprintf("tool not found: %s", call.Name)}
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(schema, args); err != nil {
		return Result{Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("Tool panicked")
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := t.Run(timeoutCtx, tc, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Error: o.err.Error()}
		}
		out, truncated := e.truncate(o.out)
		return Result{Success: true, Output: out, Truncated: truncated}
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return Result{Error: fmt.Sprintf("tool execution cancelled: %v", ctx.Err())}
		}
		return Result{Error: fmt.Sprintf("tool execution timeout after %v", e.timeout)}
	}
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// truncate caps the encoded size of a tool's output
func (e *Executor) truncate(out map[string]any) (map[string]any, bool) {
	data, err := json.Marshal(out)
	if err != nil || len(data) <= e.maxOutputBytes {
		return out, false
	}
	return map[string]any{
		"result":    string(data[:e.maxOutputBytes]) + "\n... (truncated)",
		"truncated": true,
	}, true
}
