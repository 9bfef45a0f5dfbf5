package session

import (
	"encoding/json"
	"fmt"
	"io"
)

// Entry is one line of a JSONL session export
type Entry struct {
	SessionID string `json:"session_id"`
	Event     *Event `json:"event"`
}

// WriteJSONL writes the session's events to w, one JSON object per line
func WriteJSONL(w io.Writer, sess *Session) error {
	enc := json.NewEncoder(w)
	for _, ev := range sess.Events {
		if err := enc.Encode(Entry{SessionID: sess.ID, Event: ev}); err != nil {
			return fmt.Errorf("failed to write event %s: %w", ev.ID, err)
		}
	}
	return nil
}
