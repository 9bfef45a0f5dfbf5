package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/harun/agentlab/internal/tracing"
	"github.com/harun/agentlab/pkg/model"
	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxTurns bounds the model calls of one invocation
const DefaultMaxTurns = 10

// ErrMaxTurnsExceeded is returned when the model keeps calling tools
var ErrMaxTurnsExceeded = errors.New("maximum tool turns exceeded")

// Toolset supplies tools discovered at runtime, such as an MCP server's
type Toolset interface {
	Tools() []tool.Tool
}

// LLMConfig configures an LLMAgent
type LLMConfig struct {
	Name        string
	Description string
	// Instruction may reference session state as {key} or {key?}.
	Instruction string
	Model       model.LLM
	ModelName   string
	Temperature float64
	MaxTokens   int
	Tools       []tool.Tool
	// Toolsets must be started before NewLLM is called.
	Toolsets    []Toolset
	MaxTurns    int
	Policy      *tool.Policy
	ToolTimeout time.Duration
	Logger      zerolog.Logger
}

// LLMAgent answers by calling a model and running the tools it asks for
type LLMAgent struct {
	name        string
	description string
	instruction string
	model       model.LLM
	modelName   string
	temperature float64
	maxTokens   int
	maxTurns    int
	executor    *tool.Executor
	logger      zerolog.Logger
}

// NewLLM creates an LLM agent and registers its tools
func NewLLM(cfg LLMConfig) (*LLMAgent, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required for agent %s", cfg.Name)
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}

	logger := cfg.Logger.With().Str("component", "agent").Str("agent", cfg.Name).Logger()
	executor := tool.NewExecutor(tool.ExecutorConfig{
		Policy:  cfg.Policy,
		Timeout: cfg.ToolTimeout,
		Logger:  logger,
	})

	tools := append([]tool.Tool(nil), cfg.Tools...)
	for _, ts := range cfg.Toolsets {
		tools = append(tools, ts.Tools()...)
	}
	for _, t := range tools {
		if err := executor.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register tool for agent %s: %w", cfg.Name, err)
		}
	}

	return &LLMAgent{
		name:        cfg.Name,
		description: cfg.Description,
		instruction: cfg.Instruction,
		model:       cfg.Model,
		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxTurns:    cfg.MaxTurns,
		executor:    executor,
		logger:      logger,
	}, nil
}

func (a *LLMAgent) Name() string        { return a.name }
func (a *LLMAgent) Description() string { return a.description }

// Tools returns the declarations the model is offered
func (a *LLMAgent) Tools() []*tool.Declaration {
	return a.executor.Declarations()
}

// Run yields a model event per model call and a function-response event
// per batch of tool calls, ending with the model's final reply.
func (a *LLMAgent) Run(ctx context.Context, inv *Invocation) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		ctx, span := tracing.StartSpan(ctx, "agentlab.agent", "agent.run",
			attribute.String("agent", a.name),
		)
		defer span.End()

		fail := func(err error) {
			tracing.FailSpan(span, err)
			yield(nil, err)
		}

		if inv == nil || inv.Session == nil {
			fail(fmt.Errorf("invocation has no session"))
			return
		}
		if tracing.GetAgentName(ctx) != a.name {
			ctx = tracing.WithAgentName(ctx, a.name)
		}
		logger := tracing.LoggerFromContext(ctx, a.logger)

		state := inv.Session.State.Clone()
		if state == nil {
			state = session.State{}
		}
		contents := historyContents(inv)

		for turn := 0; turn < a.maxTurns; turn++ {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			instruction, err := InjectState(a.instruction, state)
			if err != nil {
				fail(fmt.Errorf("failed to build instruction for %s: %w", a.name, err))
				return
			}

			resp, err := a.model.Generate(ctx, &model.Request{
				Model:             a.modelName,
				SystemInstruction: instruction,
				Contents:          contents,
				Tools:             a.executor.Declarations(),
				Temperature:       a.temperature,
				MaxTokens:         a.maxTokens,
			})
			if err != nil {
				fail(fmt.Errorf("model call failed: %w", err))
				return
			}
			if resp == nil || resp.Content == nil {
				fail(model.ErrEmptyResponse)
				return
			}

			content := resp.Content
			content.Role = session.RoleModel
			ev := session.NewEvent(inv.ID, a.name, content)
			calls := ev.FunctionCalls()
			if len(calls) == 0 {
				ev.TurnComplete = true
				logger.Debug().Int("turn", turn).Int("output_tokens", resp.Usage.OutputTokens).Msg("Agent produced final response")
				yield(ev, nil)
				return
			}

			for _, fc := range calls {
				if fc.ID == "" {
					fc.ID = "call_" + session.NewEventID()
				}
			}
			if !yield(ev, nil) {
				return
			}
			contents = append(contents, content)

			respEv := a.runTools(ctx, inv.ID, state, calls)
			for k, v := range respEv.Actions.StateDelta {
				state[k] = v
			}
			contents = append(contents, respEv.Content)
			if !yield(respEv, nil) {
				return
			}
		}

		logger.Warn().Int("max_turns", a.maxTurns).Msg("Agent stopped after maximum tool turns")
		fail(fmt.Errorf("%w (%d)", ErrMaxTurnsExceeded, a.maxTurns))
	}
}

// runTools executes calls in order and wraps their results in one event.
// Later calls see the state written by earlier ones.
func (a *LLMAgent) runTools(ctx context.Context, invocationID string, state session.State, calls []*session.FunctionCall) *session.Event {
	delta := session.State{}
	content := &session.Content{Role: session.RoleUser}

	for _, fc := range calls {
		view := state.Clone()
		for k, v := range delta {
			view[k] = v
		}
		tc := tool.NewContext(fc.ID, a.name, view)

		result := a.executor.Execute(ctx, tc, fc)
		if result.Success {
			for k, v := range tc.StateDelta() {
				delta[k] = v
			}
		}
		content.Parts = append(content.Parts, &session.Part{
			FunctionResponse: &session.FunctionResponse{
				ID:       fc.ID,
				Name:     fc.Name,
				Response: result.Response(),
			},
		})
	}

	ev := session.NewEvent(invocationID, a.name, content)
	if len(delta) > 0 {
		ev.Actions.StateDelta = delta
	}
	return ev
}

// historyContents turns the session log into model input
func historyContents(inv *Invocation) []*session.Content {
	var contents []*session.Content
	lastAuthor := ""
	for _, ev := range inv.Session.Events {
		if ev == nil || ev.Partial || ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}
		contents = append(contents, ev.Content)
		lastAuthor = ev.Author
	}
	if inv.UserContent != nil && lastAuthor != session.RoleUser {
		contents = append(contents, inv.UserContent)
	}
	return contents
}
