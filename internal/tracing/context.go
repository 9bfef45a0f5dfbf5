package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for tracing context keys
type ContextKey string

const (
	// TraceIDKey identifies one operator turn end to end
	TraceIDKey ContextKey = "trace_id"
	// InvocationIDKey identifies one agent invocation inside a turn
	InvocationIDKey ContextKey = "invocation_id"
	// AgentNameKey is the name of the agent currently running
	AgentNameKey ContextKey = "agent"
	// SessionIDKey is the session the turn belongs to
	SessionIDKey ContextKey = "session_id"
	// UserIDKey is the user that owns the session
	UserIDKey ContextKey = "user_id"
)

// TraceContext holds tracing information carried by a context
type TraceContext struct {
	TraceID      string
	InvocationID string
	AgentName    string
	SessionID    string
	UserID       string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewInvocationID generates a new invocation ID
func NewInvocationID() string {
	return "e-" + uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithInvocationID(ctx context.Context, invocationID string) context.Context {
	return context.WithValue(ctx, InvocationIDKey, invocationID)
}

func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, AgentNameKey, name)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func value(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetInvocationID retrieves the invocation ID from the context
func GetInvocationID(ctx context.Context) string { return value(ctx, InvocationIDKey) }

// GetAgentName retrieves the agent name from the context
func GetAgentName(ctx context.Context) string { return value(ctx, AgentNameKey) }

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string { return value(ctx, SessionIDKey) }

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) string { return value(ctx, UserIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		InvocationID: GetInvocationID(ctx),
		AgentName:    GetAgentName(ctx),
		SessionID:    GetSessionID(ctx),
		UserID:       GetUserID(ctx),
	}
}

// NewContext creates a new context carrying the non-empty fields of tc
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc == nil {
		return ctx
	}
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.InvocationID != "" {
		ctx = WithInvocationID(ctx, tc.InvocationID)
	}
	if tc.AgentName != "" {
		ctx = WithAgentName(ctx, tc.AgentName)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	if tc.UserID != "" {
		ctx = WithUserID(ctx, tc.UserID)
	}
	return ctx
}

// NewTurnContext starts a fresh trace for one operator turn.
func NewTurnContext(ctx context.Context, userID, sessionID string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithUserID(ctx, userID)
	return WithSessionID(ctx, sessionID)
}

// NewInvocationContext tags ctx with a new invocation of the named agent.
func NewInvocationContext(ctx context.Context, agentName string) context.Context {
	ctx = WithInvocationID(ctx, NewInvocationID())
	return WithAgentName(ctx, agentName)
}
