package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/agentlab/internal/observability"
	"github.com/harun/agentlab/internal/tracing"
)

// InMemoryService keeps sessions in process memory. Everything is lost at
// exit.
type InMemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    map[string][]string // app\x00user -> session ids, creation order
	locks    writeLocks
	logger   zerolog.Logger
}

// InMemoryOption configures an InMemoryService
type InMemoryOption func(*InMemoryService)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) InMemoryOption {
	return func(s *InMemoryService) {
		s.logger = logger
	}
}

// NewInMemoryService creates an empty in-memory session service
func NewInMemoryService(opts ...InMemoryOption) *InMemoryService {
	observability.EnsureRegistered()
	s := &InMemoryService{
		sessions: make(map[string]*Session),
		order:    make(map[string][]string),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scopeName(appName, userID string) string {
	return appName + "\x00" + userID
}

func (s *InMemoryService) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	if err := validateScope(req.AppName, req.UserID); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	key := Key{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}

	ctx, span := tracing.StartSpan(ctx, "agentlab.session", "session.create",
		attribute.String("backend", "memory"),
		attribute.String("session_id", key.SessionID),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	name := lockName(key)
	if _, exists := s.sessions[name]; exists {
		err := fmt.Errorf("%w: %s", ErrSessionExists, key.SessionID)
		tracing.FailSpan(span, err)
		return nil, err
	}

	sess := &Session{
		ID:             key.SessionID,
		AppName:        key.AppName,
		UserID:         key.UserID,
		State:          req.State.Clone(),
		LastUpdateTime: nextUpdateTime(time.Time{}),
	}
	s.sessions[name] = sess
	scope := scopeName(key.AppName, key.UserID)
	s.order[scope] = append(s.order[scope], key.SessionID)
	observability.SetActiveSessions(len(s.sessions))

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("app", key.AppName).Str("user_id", key.UserID).Str("session_id", key.SessionID).Msg("Session created")

	return sess.clone(true), nil
}

func (s *InMemoryService) GetSession(ctx context.Context, key Key) (*Session, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[lockName(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key.SessionID)
	}
	return sess.clone(true), nil
}

func (s *InMemoryService) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[scopeName(appName, userID)]
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.sessions[lockName(Key{AppName: appName, UserID: userID, SessionID: id})]; ok {
			out = append(out, sess.clone(false))
		}
	}
	return out, nil
}

func (s *InMemoryService) UpdateState(ctx context.Context, req UpdateRequest) (*Session, error) {
	if err := validateKey(req.Key); err != nil {
		return nil, err
	}
	_, span := tracing.StartSpan(ctx, "agentlab.session", "session.update_state",
		attribute.String("backend", "memory"),
		attribute.String("session_id", req.Key.SessionID),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	lock := s.locks.get(req.Key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[lockName(req.Key)]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, req.Key.SessionID)
		tracing.FailSpan(span, err)
		return nil, err
	}
	if !req.ExpectedLastUpdate.IsZero() && !sess.LastUpdateTime.Equal(req.ExpectedLastUpdate) {
		observability.RecordStateConflict()
		tracing.FailSpan(span, ErrStaleSession)
		return nil, ErrStaleSession
	}

	sess.State = req.State.Clone()
	sess.LastUpdateTime = nextUpdateTime(sess.LastUpdateTime)
	return sess.clone(true), nil
}

func (s *InMemoryService) AppendEvent(ctx context.Context, sess *Session, event *Event) error {
	if sess == nil || event == nil {
		return fmt.Errorf("session and event are required")
	}
	if event.Partial {
		return nil
	}
	key := sess.Key()
	if err := validateKey(key); err != nil {
		return err
	}

	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[lockName(key)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key.SessionID)
	}

	applyDelta(stored.State, event.Actions.StateDelta)
	stored.Events = append(stored.Events, event)
	stored.LastUpdateTime = nextUpdateTime(stored.LastUpdateTime)

	sess.State = stored.State.Clone()
	sess.Events = append(sess.Events, event)
	sess.LastUpdateTime = stored.LastUpdateTime
	return nil
}

func (s *InMemoryService) DeleteSession(ctx context.Context, key Key) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	name := lockName(key)
	if _, ok := s.sessions[name]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key.SessionID)
	}
	delete(s.sessions, name)

	scope := scopeName(key.AppName, key.UserID)
	ids := s.order[scope]
	for i, id := range ids {
		if id == key.SessionID {
			s.order[scope] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	s.locks.release(key)
	observability.SetActiveSessions(len(s.sessions))
	return nil
}

// Close is a no-op for the in-memory service
func (s *InMemoryService) Close() error {
	return nil
}
