package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToSubAgent keeps the trace and session of ctx but starts a new
// invocation for the sub-agent.
func PropagateToSubAgent(ctx context.Context, subAgent string) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}
	ctx = WithTraceID(ctx, traceID)
	return NewInvocationContext(ctx, subAgent)
}

// LoggerFromContext returns baseLogger enriched with the tracing fields of ctx
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.InvocationID != "" {
		lc = lc.Str("invocation_id", tc.InvocationID)
	}
	if tc.AgentName != "" {
		lc = lc.Str("agent", tc.AgentName)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}
	if tc.UserID != "" {
		lc = lc.Str("user_id", tc.UserID)
	}
	return lc.Logger()
}
