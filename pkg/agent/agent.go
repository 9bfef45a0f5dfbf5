package agent

import (
	"context"
	"fmt"
	"iter"
	"regexp"

	"github.com/harun/agentlab/pkg/session"
)

// Agent answers the user content of an invocation with events
type Agent interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) iter.Seq2[*session.Event, error]
}

// Invocation is one run of an agent against a session
type Invocation struct {
	ID string
	// Session holds the history the agent sees, including the user event
	// for UserContent when the caller has appended it.
	Session     *session.Session
	UserContent *session.Content
}

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateName checks that name can be used as an agent and tool name
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if name == session.RoleUser {
		return fmt.Errorf("agent name %q is reserved", name)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid agent name %q: use letters, digits and underscores", name)
	}
	return nil
}
