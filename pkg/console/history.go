package console

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/harun/agentlab/pkg/session"
)

const (
	HistoryKey      = "interaction_history"
	TimestampLayout = "2006-01-02 15:04:05"
)

// ErrInvalidHistory is returned when interaction_history holds something
// other than a list
var ErrInvalidHistory = errors.New("interaction_history is not a list")

// UpdateInteractionHistory appends entry to the session's
// interaction_history. The state is read, copied, extended and written back
// whole; the write only succeeds if the session is unchanged since the
// read, otherwise session.ErrStaleSession is returned. A missing timestamp
// is set from now.
func UpdateInteractionHistory(ctx context.Context, svc session.Service, key session.Key, entry map[string]any, now time.Time) error {
	sess, err := svc.GetSession(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load session for history: %w", err)
	}

	record := maps.Clone(entry)
	if record == nil {
		record = map[string]any{}
	}
	if _, ok := record["timestamp"]; !ok {
		record["timestamp"] = now.Format(TimestampLayout)
	}

	state := sess.State.Clone()
	if state == nil {
		state = session.State{}
	}
	history, err := historyList(state[HistoryKey])
	if err != nil {
		return err
	}
	state[HistoryKey] = append(history, record)

	_, err = svc.UpdateState(ctx, session.UpdateRequest{
		Key:                key,
		State:              state,
		ExpectedLastUpdate: sess.LastUpdateTime,
	})
	if err != nil {
		return fmt.Errorf("failed to update interaction history: %w", err)
	}
	return nil
}

// historyList returns a fresh copy of the stored list
func historyList(v any) ([]any, error) {
	switch h := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return append([]any{}, h...), nil
	case []map[string]any:
		out := make([]any, 0, len(h)+1)
		for _, r := range h {
			out = append(out, r)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidHistory, v)
	}
}
