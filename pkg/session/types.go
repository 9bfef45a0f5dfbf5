package session

import (
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// State is the session's key/value mapping
type State map[string]any

// Clone returns a deep copy of s. Nested maps and slices are copied; other
// values are shared.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case State:
		return t.Clone()
	case map[string]any:
		return map[string]any(State(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = map[string]any(State(e).Clone())
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Key identifies one session
type Key struct {
	AppName   string
	UserID    string
	SessionID string
}

// Session is a snapshot of one conversation
type Session struct {
	ID             string    `json:"id"`
	AppName        string    `json:"app_name"`
	UserID         string    `json:"user_id"`
	State          State     `json:"state"`
	Events         []*Event  `json:"events,omitempty"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// Key returns the session's identifying triple
func (s *Session) Key() Key {
	return Key{AppName: s.AppName, UserID: s.UserID, SessionID: s.ID}
}

func (s *Session) clone(withEvents bool) *Session {
	out := &Session{
		ID:             s.ID,
		AppName:        s.AppName,
		UserID:         s.UserID,
		State:          s.State.Clone(),
		LastUpdateTime: s.LastUpdateTime,
	}
	if withEvents {
		out.Events = append([]*Event(nil), s.Events...)
	}
	return out
}

// Content is one message: a role and its parts
type Content struct {
	Role  string  `json:"role"`
	Parts []*Part `json:"parts"`
}

// Part is a piece of content. Exactly one field is set.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// NewUserContent wraps operator text as a user message
func NewUserContent(text string) *Content {
	return &Content{Role: RoleUser, Parts: []*Part{{Text: text}}}
}

// NewModelContent wraps text as a model message
func NewModelContent(text string) *Content {
	return &Content{Role: RoleModel, Parts: []*Part{{Text: text}}}
}

// EventActions carries side effects of an event
type EventActions struct {
	// StateDelta is merged into session state when the event is appended.
	StateDelta State `json:"state_delta,omitempty"`
}

// Event is one entry in a session's log
type Event struct {
	ID           string       `json:"id"`
	InvocationID string       `json:"invocation_id"`
	Author       string       `json:"author"`
	Content      *Content     `json:"content,omitempty"`
	Actions      EventActions `json:"actions"`
	Partial      bool         `json:"partial,omitempty"`
	TurnComplete bool         `json:"turn_complete,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NewEvent creates an event authored by author with a fresh id
func NewEvent(invocationID, author string, content *Content) *Event {
	return &Event{
		ID:           NewEventID(),
		InvocationID: invocationID,
		Author:       author,
		Content:      content,
		Timestamp:    time.Now(),
	}
}

// NewEventID returns a short random event id
func NewEventID() string {
	id, err := gonanoid.New(8)
	if err != nil {
		return time.Now().Format("150405.000000")
	}
	return id
}

// FunctionCalls returns every function call carried by the event
func (e *Event) FunctionCalls() []*FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []*FunctionCall
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns every function response carried by the event
func (e *Event) FunctionResponses() []*FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []*FunctionResponse
	for _, p := range e.Content.Parts {
		if p != nil && p.FunctionResponse != nil {
			responses = append(responses, p.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event is the user-visible completion
// of a turn: complete, and neither requesting nor answering a tool call.
func (e *Event) IsFinalResponse() bool {
	if e == nil || e.Partial {
		return false
	}
	return len(e.FunctionCalls()) == 0 && len(e.FunctionResponses()) == 0
}

// Text returns the trimmed text of the event's first part
func (e *Event) Text() string {
	if e == nil || e.Content == nil || len(e.Content.Parts) == 0 || e.Content.Parts[0] == nil {
		return ""
	}
	return strings.TrimSpace(e.Content.Parts[0].Text)
}
