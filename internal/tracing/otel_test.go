package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProviderRequiresServiceName(t *testing.T) {
	_, err := NewProvider(ProviderConfig{})
	assert.Error(t, err)
}

func TestStartSpanRecordsTraceID(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(ProviderConfig{ServiceName: "agentlab", ServiceVersion: "test", Exporter: exporter})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "agentlab.test", "turn", attribute.String("session_id", "s1"))
	FailSpan(span, errors.New("model unavailable"))
	FailSpan(span, nil)
	span.End()

	require.NotEmpty(t, GetTraceID(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "turn", spans[0].Name)
	assert.Equal(t, GetTraceID(ctx), spans[0].SpanContext.TraceID().String())
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "model unavailable", spans[0].Status.Description)
	assert.Contains(t, spans[0].Attributes, attribute.String("session_id", "s1"))
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx, span := StartSpan(ctx, "agentlab.test", "turn")
	span.End()
	assert.Equal(t, "trace-1", GetTraceID(ctx))
}
