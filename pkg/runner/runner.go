// Package runner binds an agent to a session store and runs one user turn
// at a time, persisting every complete event the agent yields.
package runner

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/harun/agentlab/internal/observability"
	"github.com/harun/agentlab/internal/tracing"
	"github.com/harun/agentlab/pkg/agent"
	"github.com/harun/agentlab/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds runner configuration
type Config struct {
	AppName  string
	Agent    agent.Agent
	Sessions session.Service
	Logger   zerolog.Logger
}

// Runner runs turns of one agent for one application
type Runner struct {
	appName  string
	agent    agent.Agent
	sessions session.Service
	logger   zerolog.Logger
}

// New creates a runner
func New(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.AppName == "" {
		return nil, fmt.Errorf("app name is required")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}

	return &Runner{
		appName:  cfg.AppName,
		agent:    cfg.Agent,
		sessions: cfg.Sessions,
		logger:   cfg.Logger.With().Str("component", "runner").Str("app", cfg.AppName).Logger(),
	}, nil
}

// AppName returns the application the runner serves
func (r *Runner) AppName() string {
	return r.appName
}

// Agent returns the root agent
func (r *Runner) Agent() agent.Agent {
	return r.agent
}

// Run appends msg to the session as a user event, runs the agent and
// yields its events in order. Complete events are persisted before they
// are yielded; partial events are only yielded. A failure is yielded once
// as an error and ends the stream.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, msg *session.Content) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		ctx := ctx
		start := time.Now()
		success := false
		defer func() {
			observability.RecordTurn(time.Since(start), success)
		}()

		if tracing.GetTraceID(ctx) == "" {
			ctx = tracing.NewTurnContext(ctx, userID, sessionID)
		} else {
			ctx = tracing.WithSessionID(tracing.WithUserID(ctx, userID), sessionID)
		}
		ctx = tracing.NewInvocationContext(ctx, r.agent.Name())
		ctx, span := tracing.StartSpan(ctx, "agentlab.runner", "runner.run",
			attribute.String("app", r.appName),
			attribute.String("user_id", userID),
			attribute.String("session_id", sessionID),
			attribute.String("agent", r.agent.Name()),
		)
		defer span.End()
		logger := tracing.LoggerFromContext(ctx, r.logger)

		fail := func(err error) {
			tracing.FailSpan(span, err)
			logger.Error().Err(err).Msg("Turn failed")
			yield(nil, err)
		}

		if msg == nil || len(msg.Parts) == 0 {
			fail(fmt.Errorf("message cannot be empty"))
			return
		}

		sess, err := r.sessions.GetSession(ctx, session.Key{AppName: r.appName, UserID: userID, SessionID: sessionID})
		if err != nil {
			fail(fmt.Errorf("failed to load session %s: %w", sessionID, err))
			return
		}

		inv := &agent.Invocation{
			ID:          tracing.GetInvocationID(ctx),
			Session:     sess,
			UserContent: msg,
		}
		if msg.Role == "" {
			msg.Role = session.RoleUser
		}
		if err := r.appendEvent(ctx, sess, session.NewEvent(inv.ID, session.RoleUser, msg)); err != nil {
			fail(err)
			return
		}
		logger.Debug().Msg("Turn started")

		events := 0
		for ev, err := range r.agent.Run(ctx, inv) {
			if err != nil {
				fail(err)
				return
			}
			if ev == nil {
				continue
			}
			if !ev.Partial {
				if err := r.appendEvent(ctx, sess, ev); err != nil {
					fail(err)
					return
				}
			}
			events++
			if !yield(ev, nil) {
				return
			}
		}

		success = true
		logger.Debug().Int("events", events).Dur("duration", time.Since(start)).Msg("Turn completed")
	}
}

func (r *Runner) appendEvent(ctx context.Context, sess *session.Session, ev *session.Event) error {
	if err := r.sessions.AppendEvent(ctx, sess, ev); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}
