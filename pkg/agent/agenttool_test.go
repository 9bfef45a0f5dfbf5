package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/harun/agentlab/pkg/model"
	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsTool_Declaration(t *testing.T) {
	sub, err := NewLLM(LLMConfig{Name: "news_analyst", Description: "Summarizes news", Model: model.NewMock()})
	require.NoError(t, err)

	decl := AsTool(sub).Declaration()
	assert.Equal(t, "news_analyst", decl.Name)
	assert.Equal(t, "Summarizes news", decl.Description)
	require.Len(t, decl.Parameters, 1)
	assert.Equal(t, "request", decl.Parameters[0].Name)
	assert.True(t, decl.Parameters[0].Required)
	require.NoError(t, decl.Validate())

	sub2, err := NewLLM(LLMConfig{Name: "quiet", Model: model.NewMock()})
	require.NoError(t, err)
	assert.NotEmpty(t, AsTool(sub2).Declaration().Description)
}

func TestAsTool_ReturnsFinalTextAndForwardsState(t *testing.T) {
	subLLM := model.NewMock(
		model.CallResponse("s1", "increment", nil),
		model.TextResponse("counted"),
	)
	sub, err := NewLLM(LLMConfig{
		Name:   "counter",
		Model:  subLLM,
		Tools:  []tool.Tool{counterTool()},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	tc := tool.NewContext("call_9", "manager", session.State{"counter": 4.0})
	out, err := AsTool(sub).Run(context.Background(), tc, map[string]any{"request": "count"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "counted"}, out)
	assert.Equal(t, session.State{"counter": 5.0}, tc.StateDelta())

	reqs := subLLM.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "count", reqs[0].Contents[0].Parts[0].Text)
}

func TestAsTool_InManagerAgent(t *testing.T) {
	sub, err := NewLLM(LLMConfig{
		Name:   "funny_nerd",
		Model:  model.NewMock(model.TextResponse("a nerdy joke")),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	managerLLM := model.NewMock(
		model.CallResponse("m1", "funny_nerd", map[string]any{"request": "tell a joke"}),
		model.TextResponse("Here it is: a nerdy joke"),
	)
	manager, err := NewLLM(LLMConfig{
		Name:   "multi_agent",
		Model:  managerLLM,
		Tools:  []tool.Tool{AsTool(sub)},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	events, err := collect(t, manager, newInvocation(session.State{}, "joke please"))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, map[string]any{"result": "a nerdy joke"}, events[1].FunctionResponses()[0].Response)
	assert.Equal(t, "Here it is: a nerdy joke", events[2].Text())
}

func TestAsTool_SubAgentError(t *testing.T) {
	sub, err := NewLLM(LLMConfig{Name: "broken", Model: model.NewMock().FailWith(errors.New("down")), Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = AsTool(sub).Run(context.Background(), tool.NewContext("c", "m", nil), map[string]any{"request": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestAsTool_MissingRequest(t *testing.T) {
	sub, err := NewLLM(LLMConfig{Name: "x", Model: model.NewMock()})
	require.NoError(t, err)

	_, err = AsTool(sub).Run(context.Background(), tool.NewContext("c", "m", nil), map[string]any{})
	assert.Error(t, err)
}
