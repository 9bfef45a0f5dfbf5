package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	// ErrStaleSession is returned by a conditional update whose expected
	// last-update time no longer matches the stored session.
	ErrStaleSession = errors.New("session was modified concurrently")
)

// CreateRequest describes a session to create. An empty SessionID gets a
// generated one.
type CreateRequest struct {
	AppName   string
	UserID    string
	SessionID string
	State     State
}

// UpdateRequest replaces a session's state. When ExpectedLastUpdate is set
// the update only applies if the stored session has not changed since.
type UpdateRequest struct {
	Key                Key
	State              State
	ExpectedLastUpdate time.Time
}

// Service stores sessions
type Service interface {
	CreateSession(ctx context.Context, req CreateRequest) (*Session, error)
	GetSession(ctx context.Context, key Key) (*Session, error)
	// ListSessions returns sessions without events, oldest first.
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)
	UpdateState(ctx context.Context, req UpdateRequest) (*Session, error)
	// AppendEvent persists a non-partial event, merges its state delta into
	// the stored state and refreshes sess from the result.
	AppendEvent(ctx context.Context, sess *Session, event *Event) error
	DeleteSession(ctx context.Context, key Key) error
	Close() error
}

func validateScope(appName, userID string) error {
	if appName == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	return nil
}

func validateKey(key Key) error {
	if err := validateScope(key.AppName, key.UserID); err != nil {
		return err
	}
	if key.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(key.SessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func lockName(key Key) string {
	return key.AppName + "\x00" + key.UserID + "\x00" + key.SessionID
}

// writeLocks serializes writers of the same session
type writeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (w *writeLocks) get(key Key) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locks == nil {
		w.locks = make(map[string]*sync.Mutex)
	}
	name := lockName(key)
	if lock, ok := w.locks[name]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	w.locks[name] = lock
	return lock
}

func (w *writeLocks) release(key Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.locks, lockName(key))
}

// nextUpdateTime returns a timestamp strictly after prev so that
// conditional updates can compare last-update times exactly.
func nextUpdateTime(prev time.Time) time.Time {
	now := time.Now().Round(0)
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// applyDelta merges delta into state in place
func applyDelta(state State, delta State) {
	for k, v := range delta {
		state[k] = cloneValue(v)
	}
}
