package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/agentlab/internal/observability"
	"github.com/harun/agentlab/internal/tracing"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name    TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	id          TEXT NOT NULL,
	state       TEXT NOT NULL,
	create_time INTEGER NOT NULL,
	update_time INTEGER NOT NULL,
	PRIMARY KEY (app_name, user_id, id)
);

CREATE TABLE IF NOT EXISTS events (
	id            TEXT NOT NULL,
	app_name      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	invocation_id TEXT NOT NULL,
	author        TEXT NOT NULL,
	content       TEXT,
	actions       TEXT,
	turn_complete INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	timestamp     INTEGER NOT NULL,
	PRIMARY KEY (app_name, user_id, session_id, id)
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(app_name, user_id, session_id);
`

// DatabaseService keeps sessions in a SQLite file. The schema is owned by
// the service and created on open.
type DatabaseService struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
	locks  writeLocks
}

// DatabaseConfig configures a DatabaseService
type DatabaseConfig struct {
	// URL is a connection string such as sqlite:///./my_agent_data.db, a
	// bare file path, or :memory:.
	URL    string
	Logger zerolog.Logger
}

// ParseDBURL turns a sqlite connection string into a file path.
// sqlite:///rel.db is relative, sqlite:////abs.db is absolute.
func ParseDBURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("database url cannot be empty")
	}
	if raw == ":memory:" {
		return raw, nil
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw, nil
	}
	if scheme != "sqlite" && scheme != "sqlite3" {
		return "", fmt.Errorf("unsupported database scheme %q (only sqlite is supported)", scheme)
	}
	if rest == "" || rest == "/" || rest == "/:memory:" {
		return ":memory:", nil
	}
	if !strings.HasPrefix(rest, "/") {
		return "", fmt.Errorf("invalid sqlite url %q: expected sqlite:///path", raw)
	}
	return rest[1:], nil
}

// NewDatabaseService opens (creating if needed) the session database
func NewDatabaseService(cfg DatabaseConfig) (*DatabaseService, error) {
	observability.EnsureRegistered()

	path, err := ParseDBURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes
	// SQLite writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	cfg.Logger.Info().Str("path", path).Msg("Session database opened")

	return &DatabaseService{db: db, path: path, logger: cfg.Logger}, nil
}

func (s *DatabaseService) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	if err := validateScope(req.AppName, req.UserID); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	ctx, span := tracing.StartSpan(ctx, "agentlab.session", "session.create",
		attribute.String("backend", "sqlite"),
		attribute.String("session_id", req.SessionID),
	)
	defer span.End()

	state := req.State.Clone()
	stateJSON, err := json.Marshal(state)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	now := nextUpdateTime(time.Time{})
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (app_name, user_id, id, state, create_time, update_time) VALUES (?, ?, ?, ?, ?, ?)`,
		req.AppName, req.UserID, req.SessionID, string(stateJSON), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			err = fmt.Errorf("%w: %s", ErrSessionExists, req.SessionID)
		} else {
			err = fmt.Errorf("failed to insert session: %w", err)
		}
		tracing.FailSpan(span, err)
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("app", req.AppName).
		Str("session_id", req.SessionID).
		Msg("Session created")

	return &Session{
		ID:             req.SessionID,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          state,
		LastUpdateTime: time.Unix(0, now.UnixNano()),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess       Session
		stateJSON  string
		updateTime int64
	)
	if err := row.Scan(&sess.AppName, &sess.UserID, &sess.ID, &stateJSON, &updateTime); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &sess.State); err != nil {
		return nil, fmt.Errorf("failed to decode state of session %s: %w", sess.ID, err)
	}
	if sess.State == nil {
		sess.State = State{}
	}
	sess.LastUpdateTime = time.Unix(0, updateTime)
	return &sess, nil
}

func (s *DatabaseService) loadSession(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, key Key) (*Session, error) {
	row := q.QueryRowContext(ctx,
		`SELECT app_name, user_id, id, state, update_time FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		key.AppName, key.UserID, key.SessionID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

func (s *DatabaseService) GetSession(ctx context.Context, key Key) (*Session, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "agentlab.session", "session.get",
		attribute.String("backend", "sqlite"),
		attribute.String("session_id", key.SessionID),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	sess, err := s.loadSession(ctx, s.db, key)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invocation_id, author, content, actions, turn_complete, error_message, timestamp
		 FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY rowid`,
		key.AppName, key.UserID, key.SessionID,
	)
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev           Event
			content      sql.NullString
			actions      sql.NullString
			errorMessage sql.NullString
			turnComplete int
			ts           int64
		)
		if err := rows.Scan(&ev.ID, &ev.InvocationID, &ev.Author, &content, &actions, &turnComplete, &errorMessage, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if content.Valid && content.String != "" {
			ev.Content = &Content{}
			if err := json.Unmarshal([]byte(content.String), ev.Content); err != nil {
				return nil, fmt.Errorf("failed to decode event %s: %w", ev.ID, err)
			}
		}
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &ev.Actions); err != nil {
				return nil, fmt.Errorf("failed to decode event %s actions: %w", ev.ID, err)
			}
		}
		ev.TurnComplete = turnComplete != 0
		ev.ErrorMessage = errorMessage.String
		ev.Timestamp = time.Unix(0, ts)
		sess.Events = append(sess.Events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return sess, nil
}

func (s *DatabaseService) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	if err := validateScope(appName, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT app_name, user_id, id, state, update_time FROM sessions
		 WHERE app_name = ? AND user_id = ? ORDER BY create_time, rowid`,
		appName, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *DatabaseService) UpdateState(ctx context.Context, req UpdateRequest) (*Session, error) {
	if err := validateKey(req.Key); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "agentlab.session", "session.update_state",
		attribute.String("backend", "sqlite"),
		attribute.String("session_id", req.Key.SessionID),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	lock := s.locks.get(req.Key)
	lock.Lock()
	defer lock.Unlock()

	var updated *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadSession(ctx, tx, req.Key)
		if err != nil {
			return err
		}
		if !req.ExpectedLastUpdate.IsZero() && current.LastUpdateTime.UnixNano() != req.ExpectedLastUpdate.UnixNano() {
			observability.RecordStateConflict()
			return ErrStaleSession
		}
		current.State = req.State.Clone()
		if err := s.writeState(ctx, tx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}
	return updated, nil
}

func (s *DatabaseService) writeState(ctx context.Context, tx *sql.Tx, sess *Session) error {
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	next := nextUpdateTime(sess.LastUpdateTime)
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, update_time = ? WHERE app_name = ? AND user_id = ? AND id = ?`,
		string(stateJSON), next.UnixNano(), sess.AppName, sess.UserID, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	sess.LastUpdateTime = time.Unix(0, next.UnixNano())
	return nil
}

func (s *DatabaseService) AppendEvent(ctx context.Context, sess *Session, event *Event) error {
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

	ctx, span := tracing.StartSpan(ctx, "agentlab.session", "session.append_event",
		attribute.String("session_id", key.SessionID),
		attribute.String("author", event.Author),
	)
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	var contentJSON, actionsJSON []byte
	var err error
	if event.Content != nil {
		if contentJSON, err = json.Marshal(event.Content); err != nil {
			return fmt.Errorf("failed to encode event content: %w", err)
		}
	}
	if actionsJSON, err = json.Marshal(event.Actions); err != nil {
		return fmt.Errorf("failed to encode event actions: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	var stored *Session
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadSession(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, app_name, user_id, session_id, invocation_id, author, content, actions, turn_complete, error_message, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, key.AppName, key.UserID, key.SessionID, event.InvocationID, event.Author,
			nullableJSON(contentJSON), string(actionsJSON), boolToInt(event.TurnComplete), event.ErrorMessage, event.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		applyDelta(current.State, event.Actions.StateDelta)
		if err := s.writeState(ctx, tx, current); err != nil {
			return err
		}
		stored = current
		return nil
	})
	if err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	sess.State = stored.State
	sess.Events = append(sess.Events, event)
	sess.LastUpdateTime = stored.LastUpdateTime
	return nil
}

func (s *DatabaseService) DeleteSession(ctx context.Context, key Key) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
			key.AppName, key.UserID, key.SessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, key.SessionID)
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
			key.AppName, key.UserID, key.SessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.locks.release(key)
	s.logger.Info().Str("session_id", key.SessionID).Msg("Session deleted")
	return nil
}

// Close closes the database
func (s *DatabaseService) Close() error {
	return s.db.Close()
}

func (s *DatabaseService) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
