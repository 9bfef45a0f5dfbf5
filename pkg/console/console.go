// Package console drives a single-operator text conversation with an agent.
// Each line read from the operator is one turn; the turn's final responses
// are printed as they arrive and a failed turn never ends the loop.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/harun/agentlab/internal/tracing"
	"github.com/harun/agentlab/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	Prompt          = "You: "
	DefaultFarewell = "Ending conversation. Goodbye!"
)

// Delegate runs one turn and streams its events. runner.Runner implements it.
type Delegate interface {
	Run(ctx context.Context, userID, sessionID string, msg *session.Content) iter.Seq2[*session.Event, error]
}

// Config configures a Console
type Config struct {
	AppName string
	UserID  string
	// InitialState seeds a newly created session. It is cloned, never
	// written to.
	InitialState session.State
	Sessions     session.Service
	Delegate     Delegate
	In           io.Reader
	Out          io.Writer
	// ResumeExisting reuses the first listed session of the user instead
	// of creating a new one.
	ResumeExisting bool
	// TrackHistory records each query and final response in the
	// interaction_history state list.
	TrackHistory bool
	Farewell     string
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Console is the interactive session loop
type Console struct {
	appName      string
	userID       string
	initialState session.State
	sessions     session.Service
	delegate     Delegate
	in           io.Reader
	out          io.Writer
	resume       bool
	trackHistory bool
	farewell     string
	logger       zerolog.Logger
	now          func() time.Time

	sessionID string
	resumed   bool
}

// New creates a Console. Initialize must be called before Run.
func New(cfg Config) (*Console, error) {
	if cfg.AppName == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("app name and user id are required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cfg.Delegate == nil {
		return nil, fmt.Errorf("delegate is required")
	}
	if cfg.In == nil || cfg.Out == nil {
		return nil, fmt.Errorf("input and output are required")
	}
	if cfg.Farewell == "" {
		cfg.Farewell = DefaultFarewell
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Console{
		appName:      cfg.AppName,
		userID:       cfg.UserID,
		initialState: cfg.InitialState.Clone(),
		sessions:     cfg.Sessions,
		delegate:     cfg.Delegate,
		in:           cfg.In,
		out:          cfg.Out,
		resume:       cfg.ResumeExisting,
		trackHistory: cfg.TrackHistory,
		farewell:     cfg.Farewell,
		logger:       cfg.Logger.With().Str("component", "console").Str("app", cfg.AppName).Logger(),
		now:          cfg.Now,
	}, nil
}

// SessionID returns the session the loop talks in
func (c *Console) SessionID() string {
	return c.sessionID
}

// Resumed reports whether Initialize reused an existing session
func (c *Console) Resumed() bool {
	return c.resumed
}

// Initialize selects the session for the loop. With ResumeExisting the
// first session listed for the user is reused as is; otherwise, or when
// the user has none, a session is created from the initial state.
func (c *Console) Initialize(ctx context.Context) (*session.Session, error) {
	if c.resume {
		existing, err := c.sessions.ListSessions(ctx, c.appName, c.userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(existing) > 0 {
			c.sessionID = existing[0].ID
			c.resumed = true
			c.logger.Info().Str("session_id", c.sessionID).Int("sessions", len(existing)).Msg("Resuming session")
			return existing[0], nil
		}
	}

	sess, err := c.sessions.CreateSession(ctx, session.CreateRequest{
		AppName: c.appName,
		UserID:  c.userID,
		State:   c.initialState.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.sessionID = sess.ID
	c.resumed = false
	c.logger.Info().Str("session_id", sess.ID).Msg("Created session")
	return sess, nil
}

// IsSentinel reports whether line ends the conversation
func IsSentinel(line string) bool {
	s := strings.TrimSpace(line)
	return strings.EqualFold(s, "exit") || strings.EqualFold(s, "quit")
}

// Run reads lines until a sentinel, end of input or cancellation. Turn
// failures are printed and the loop goes on; only a read error is returned.
func (c *Console) Run(ctx context.Context) error {
	if c.sessionID == "" {
		return fmt.Errorf("console is not initialized")
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(c.out, Prompt)

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			c.logger.Info().Msg("Conversation interrupted")
			return nil
		case line, ok = <-lines:
		}

		if !ok {
			fmt.Fprintln(c.out)
			var err error
			select {
			case err = <-readErr:
			default:
			}
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			fmt.Fprintln(c.out, c.farewell)
			return nil
		}

		if IsSentinel(line) {
			fmt.Fprintln(c.out, c.farewell)
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if _, err := c.Turn(ctx, line); err != nil {
			c.logger.Error().Err(err).Str("session_id", c.sessionID).Msg("Turn failed")
			fmt.Fprintf(c.out, "Error during agent call: %v\n", err)
		}
	}
}

// Turn forwards one line to the delegate, prints every final response and
// returns the last one. With history tracking the query is recorded before
// the delegate runs and the last response after it finishes.
func (c *Console) Turn(ctx context.Context, line string) (string, error) {
	ctx = tracing.NewTurnContext(ctx, c.userID, c.sessionID)
	ctx, span := tracing.StartSpan(ctx, "agentlab.console", "console.turn",
		attribute.String("session_id", c.sessionID),
		attribute.Bool("track_history", c.trackHistory),
	)
	defer span.End()

	key := session.Key{AppName: c.appName, UserID: c.userID, SessionID: c.sessionID}

	if c.trackHistory {
		entry := map[string]any{"action": "user_query", "query": line}
		if err := UpdateInteractionHistory(ctx, c.sessions, key, entry, c.now()); err != nil {
			tracing.FailSpan(span, err)
			return "", err
		}
	}

	var last *session.Event
	for ev, err := range c.delegate.Run(ctx, c.userID, c.sessionID, session.NewUserContent(line)) {
		if err != nil {
			tracing.FailSpan(span, err)
			return "", err
		}
		if ev == nil || !ev.IsFinalResponse() {
			continue
		}
		if text := ev.Text(); text != "" {
			fmt.Fprintf(c.out, "Agent: %s\n", text)
			last = ev
		}
	}
	if last == nil {
		return "", nil
	}

	if c.trackHistory {
		entry := map[string]any{
			"action":   "agent_response",
			"agent":    last.Author,
			"response": last.Text(),
		}
		if err := UpdateInteractionHistory(ctx, c.sessions, key, entry, c.now()); err != nil {
			tracing.FailSpan(span, err)
			return last.Text(), err
		}
	}
	return last.Text(), nil
}
