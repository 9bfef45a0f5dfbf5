package agent

import (
	"context"
	"fmt"

	"github.com/harun/agentlab/internal/tracing"
	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
)

// AsTool exposes a as a tool that takes a request and returns the agent's
// last final reply. The sub-agent runs on a private copy of the caller's
// state; state it writes is forwarded to the calling tool context.
func AsTool(a Agent) tool.Tool {
	description := a.Description()
	if description == "" {
		description = "Delegate a request to the " + a.Name() + " agent"
	}
	return &agentTool{
		agent: a,
		decl: &tool.Declaration{
			Name:        a.Name(),
			Description: description,
			Parameters: []tool.Parameter{
				{Name: "request", Type: "string", Description: "The request for the agent", Required: true},
			},
		},
	}
}

type agentTool struct {
	agent Agent
	decl  *tool.Declaration
}

func (t *agentTool) Declaration() *tool.Declaration {
	return t.decl
}

func (t *agentTool) Run(ctx context.Context, tc *tool.Context, args map[string]any) (map[string]any, error) {
	request, err := tool.StringArg(args, "request")
	if err != nil {
		return nil, err
	}

	ctx = tracing.PropagateToSubAgent(ctx, t.agent.Name())
	inv := &Invocation{ID: tracing.GetInvocationID(ctx), UserContent: session.NewUserContent(request)}
	inv.Session = &session.Session{
		ID:     "agent-tool-" + tc.FunctionCallID,
		State:  tc.Snapshot(),
		Events: []*session.Event{session.NewEvent(inv.ID, session.RoleUser, inv.UserContent)},
	}

	last := ""
	for ev, err := range t.agent.Run(ctx, inv) {
		if err != nil {
			return nil, fmt.Errorf("agent %s failed: %w", t.agent.Name(), err)
		}
		for k, v := range ev.Actions.StateDelta {
			tc.SetState(k, v)
		}
		if ev.IsFinalResponse() && ev.Text() != "" {
			last = ev.Text()
		}
	}
	return map[string]any{"result": last}, nil
}
