// Package tool defines the functions an agent can call, validates their
// arguments and runs them with a timeout.
package tool

import (
	"context"
	"fmt"
	"maps"

	"github.com/harun/agentlab/pkg/session"
)

// Tool is a function the model may call
type Tool interface {
	Declaration() *Declaration
	Run(ctx context.Context, tc *Context, args map[string]any) (map[string]any, error)
}

// Parameter describes one argument of a tool
type Parameter struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"` // string, number, integer, boolean, object, array
	Description string     `json:"description"`
	Required    bool       `json:"required"`
	Default     any        `json:"default,omitempty"`
	Enum        []string   `json:"enum,omitempty"`
	Items       *Parameter `json:"items,omitempty"`
}

// Declaration is what the model sees of a tool. Schema, when set, is a raw
// JSON schema that takes precedence over Parameters.
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []Parameter    `json:"parameters,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

var validTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "object": true, "array": true,
}

// Validate checks that the declaration is usable
func (d *Declaration) Validate() error {
	if d == nil {
		return fmt.Errorf("tool declaration cannot be nil")
	}
	if d.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if d.Description == "" {
		return fmt.Errorf("tool description cannot be empty for %s", d.Name)
	}
	for _, p := range d.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter name cannot be empty in %s", d.Name)
		}
		if !validTypes[p.Type] {
			return fmt.Errorf("invalid parameter type %q for %s.%s", p.Type, d.Name, p.Name)
		}
		if p.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s.%s", d.Name, p.Name)
		}
	}
	return nil
}

func (p Parameter) schema() map[string]any {
	s := map[string]any{"type": p.Type}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Type == "array" {
		items := map[string]any{"type": "string"}
		if p.Items != nil {
			items = p.Items.schema()
		}
		s["items"] = items
	}
	return s
}

// JSONSchema returns the declaration's arguments as a JSON schema object
func (d *Declaration) JSONSchema() map[string]any {
	if d.Schema != nil {
		return maps.Clone(d.Schema)
	}

	properties := make(map[string]any, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		properties[p.Name] = p.schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}

	s := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Context is the view of the invocation a tool gets: read access to
// session state and a state delta it may write to.
type Context struct {
	FunctionCallID string
	AgentName      string

	state session.State
	delta session.State
}

// NewContext creates a tool context over a snapshot of session state
func NewContext(functionCallID, agentName string, state session.State) *Context {
	return &Context{
		FunctionCallID: functionCallID,
		AgentName:      agentName,
		state:          state,
		delta:          session.State{},
	}
}

// State returns the value for key, preferring values written during this call
func (c *Context) State(key string) (any, bool) {
	if v, ok := c.delta[key]; ok {
		return v, true
	}
	v, ok := c.state[key]
	return v, ok
}

// SetState records a state change applied when the tool's event is appended
func (c *Context) SetState(key string, value any) {
	c.delta[key] = value
}

// StateDelta returns the changes recorded by SetState
func (c *Context) StateDelta() session.State {
	return c.delta
}

// Snapshot returns the session state with this call's changes applied
func (c *Context) Snapshot() session.State {
	out := c.state.Clone()
	for k, v := range c.delta {
		out[k] = v
	}
	return out
}
