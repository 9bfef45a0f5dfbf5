package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateCloneIsDeep(t *testing.T) {
	orig := State{
		"user_name": "Ada",
		"reminders": []any{"buy milk"},
		"profile":   map[string]any{"tier": "gold"},
		"history":   []map[string]any{{"action": "user_query"}},
		"tags":      []string{"a"},
	}

	c := orig.Clone()
	c["reminders"] = append(c["reminders"].([]any), "walk dog")
	c["profile"].(map[string]any)["tier"] = "silver"
	c["history"].([]map[string]any)[0]["action"] = "changed"
	c["tags"].([]string)[0] = "b"

	assert.Equal(t, []any{"buy milk"}, orig["reminders"])
	assert.Equal(t, "gold", orig["profile"].(map[string]any)["tier"])
	assert.Equal(t, "user_query", orig["history"].([]map[string]any)[0]["action"])
	assert.Equal(t, []string{"a"}, orig["tags"])
}

func TestNilStateClone(t *testing.T) {
	var s State
	assert.Equal(t, State{}, s.Clone())
}

func TestIsFinalResponse(t *testing.T) {
	tests := []struct {
		name  string
		event *Event
		want  bool
	}{
		{"text", &Event{Content: NewModelContent("hi")}, true},
		{"partial text", &Event{Content: NewModelContent("h"), Partial: true}, false},
		{"function call", &Event{Content: &Content{Role: RoleModel, Parts: []*Part{
			{FunctionCall: &FunctionCall{Name: "get_current_time"}},
		}}}, false},
		{"function response", &Event{Content: &Content{Role: RoleUser, Parts: []*Part{
			{FunctionResponse: &FunctionResponse{Name: "get_current_time"}},
		}}}, false},
		{"no content", &Event{}, true},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.IsFinalResponse())
		})
	}
}

func TestEventText(t *testing.T) {
	assert.Equal(t, "hi there", (&Event{Content: NewModelContent("  hi there\n")}).Text())
	assert.Equal(t, "", (&Event{}).Text())
	assert.Equal(t, "", (*Event)(nil).Text())
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent("inv-1", "tool_agent", NewModelContent("x"))
	assert.Len(t, ev.ID, 8)
	assert.Equal(t, "inv-1", ev.InvocationID)
	assert.Equal(t, "tool_agent", ev.Author)
	assert.False(t, ev.Timestamp.IsZero())
	assert.NotEqual(t, ev.ID, NewEvent("inv-1", "a", nil).ID)
}
