package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPropagateToSubAgent(t *testing.T) {
	parent := NewTurnContext(context.Background(), "alice", "s-1")
	parent = NewInvocationContext(parent, "manager")

	child := PropagateToSubAgent(parent, "news_analyst")

	assert.Equal(t, GetTraceID(parent), GetTraceID(child))
	assert.Equal(t, "s-1", GetSessionID(child))
	assert.Equal(t, "news_analyst", GetAgentName(child))
	assert.NotEqual(t, GetInvocationID(parent), GetInvocationID(child))
}

func TestPropagateToSubAgentWithoutTrace(t *testing.T) {
	child := PropagateToSubAgent(context.Background(), "funny_nerd")
	assert.NotEmpty(t, GetTraceID(child))
	assert.NotEmpty(t, GetInvocationID(child))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-xyz")
	ctx = WithSessionID(ctx, "s-2")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("turn")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-xyz"`)
	assert.Contains(t, out, `"session_id":"s-2"`)
	assert.NotContains(t, out, "invocation_id")
}

func TestStartSpanSetsTraceID(t *testing.T) {
	_, err := NewProvider(ProviderConfig{ServiceName: "agentlab-test"})
	assert.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "agentlab.test", "test.op")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}
