package catalog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/harun/agentlab/pkg/tool"
)

// State keys written by the catalog tools
const (
	UserNameKey         = "user_name"
	RemindersKey        = "reminders"
	PurchasedCoursesKey = "purchased_courses"
)

// Layouts of the time tools
const (
	TimestampLayout = "2006-01-02 15:04:05"
	ClockLayout     = "03:04 PM"
)

// DadJokes is the fixed joke list get_dad_joke chooses from
var DadJokes = []string{
	"Why did the chicken cross the road? To get to the other side!",
	"What do you call a belt made of watches? A waist of time.",
	"What do you call fake spaghetti? An impasta!",
	"Why did the scarecrow win an award? Because he was outstanding in his field!",
}

// Options carries the clock and randomness the tools depend on
type Options struct {
	Now  func() time.Time
	Pick func(n int) int
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) pick(n int) int {
	if o.Pick != nil {
		return o.Pick(n)
	}
	return rand.IntN(n)
}

// Tools returns every catalog tool keyed by name
func Tools(opts Options) map[string]tool.Tool {
	all := []tool.Tool{
		DadJokeTool(opts),
		CurrentTimeTool(opts),
		ClockTimeTool(opts),
		GreetUserTool(),
		ReverseStringTool(),
		ConcatenateStringsTool(),
		MultiplyTool(),
		AddReminderTool(),
		ViewRemindersTool(),
		DeleteReminderTool(),
		UpdateUserNameTool(),
		PurchaseCourseTool(opts),
	}
	out := make(map[string]tool.Tool, len(all))
	for _, t := range all {
		out[t.Declaration().Name] = t
	}
	return out
}

func DadJokeTool(opts Options) tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "get_dad_joke",
		Description: "Get a random dad joke",
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		return map[string]any{"joke": DadJokes[opts.pick(len(DadJokes))]}, nil
	})
}

func CurrentTimeTool(opts Options) tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "get_current_time",
		Description: "Get the current time in the format YYYY-MM-DD HH:MM:SS",
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		return map[string]any{"current_time": opts.now().Format(TimestampLayout)}, nil
	})
}

func ClockTimeTool(opts Options) tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "get_clock_time",
		Description: "Useful for when you need to know the current time of day (HH:MM AM/PM)",
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		return map[string]any{"time": opts.now().Format(ClockLayout)}, nil
	})
}

func GreetUserTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "greet_user",
		Description: "Greets the user by name. Use this when a user wants to be greeted.",
		Parameters: []tool.Parameter{
			{Name: "name", Type: "string", Description: "Name of the person to greet", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		name, err := tool.StringArg(args, "name")
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Hello, %s!", name), nil
	})
}

func ReverseStringTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "reverse_string",
		Description: "Reverses a given string. Useful for text manipulation.",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Description: "The text to be reversed", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		text, err := tool.StringArg(args, "text")
		if err != nil {
			return nil, err
		}
		return Reverse(text), nil
	})
}

// Reverse reverses s by rune
func Reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func ConcatenateStringsTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "concatenate_strings",
		Description: "Concatenates two strings together. Use this when you need to join text.",
		Parameters: []tool.Parameter{
			{Name: "a", Type: "string", Description: "First string to concatenate", Required: true},
			{Name: "b", Type: "string", Description: "Second string to concatenate", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		a, err := tool.StringArg(args, "a")
		if err != nil {
			return nil, err
		}
		b, err := tool.StringArg(args, "b")
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})
}

func MultiplyTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "multiply_numbers",
		Description: "Useful for multiplying two numbers",
		Parameters: []tool.Parameter{
			{Name: "x", Type: "number", Description: "First number to multiply", Required: true},
			{Name: "y", Type: "number", Description: "Second number to multiply", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		x, err := tool.NumberArg(args, "x")
		if err != nil {
			return nil, err
		}
		y, err := tool.NumberArg(args, "y")
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"result":  x * y,
			"message": fmt.Sprintf("The product of %g and %g is %g", x, y, x*y),
		}, nil
	})
}

func AddReminderTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "add_reminder",
		Description: "Add a new reminder to the user's reminder list",
		Parameters: []tool.Parameter{
			{Name: "reminder", Type: "string", Description: "The reminder text to add", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		text, err := tool.StringArg(args, "reminder")
		if err != nil {
			return nil, err
		}
		reminders, err := stringList(tc, RemindersKey)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, text)
		tc.SetState(RemindersKey, reminders)
		return map[string]any{
			"action":   "add_reminder",
			"reminder": text,
			"message":  fmt.Sprintf("Added reminder: %s", text),
		}, nil
	})
}

func ViewRemindersTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "view_reminders",
		Description: "View all current reminders",
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		reminders, err := stringList(tc, RemindersKey)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"action":    "view_reminders",
			"reminders": reminders,
			"count":     len(reminders),
		}, nil
	})
}

func DeleteReminderTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "delete_reminder",
		Description: "Delete a reminder by its 1-based position in the list",
		Parameters: []tool.Parameter{
			{Name: "index", Type: "integer", Description: "Position of the reminder to delete, starting at 1", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		n, err := tool.NumberArg(args, "index")
		if err != nil {
			return nil, err
		}
		reminders, err := stringList(tc, RemindersKey)
		if err != nil {
			return nil, err
		}
		idx := int(n)
		if idx < 1 || idx > len(reminders) {
			return nil, fmt.Errorf("cannot delete reminder %d: there are %d reminders", idx, len(reminders))
		}
		deleted := reminders[idx-1]
		reminders = append(reminders[:idx-1:idx-1], reminders[idx:]...)
		tc.SetState(RemindersKey, reminders)
		return map[string]any{
			"action":           "delete_reminder",
			"deleted_reminder": deleted,
			"message":          fmt.Sprintf("Deleted reminder %d: %s", idx, deleted),
		}, nil
	})
}

func UpdateUserNameTool() tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "update_user_name",
		Description: "Update the user's name",
		Parameters: []tool.Parameter{
			{Name: "name", Type: "string", Description: "The new name for the user", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		name, err := tool.StringArg(args, "name")
		if err != nil {
			return nil, err
		}
		old, _ := tc.State(UserNameKey)
		tc.SetState(UserNameKey, name)
		return map[string]any{
			"action":   "update_user_name",
			"old_name": old,
			"new_name": name,
			"message":  fmt.Sprintf("Updated your name to: %s", name),
		}, nil
	})
}

// Courses is what purchase_course can sell
var Courses = map[string]string{
	"ai_marketing_platform": "Fullstack AI Marketing Platform",
}

func PurchaseCourseTool(opts Options) tool.Tool {
	return tool.MustFunction(tool.Declaration{
		Name:        "purchase_course",
		Description: "Purchase a course for the user and record it in their purchased courses",
		Parameters: []tool.Parameter{
			{Name: "course_id", Type: "string", Description: "Identifier of the course to purchase", Required: true},
		},
	}, func(ctx context.Context, tc *tool.Context, args map[string]any) (any, error) {
		id, err := tool.StringArg(args, "course_id")
		if err != nil {
			return nil, err
		}
		title, ok := Courses[id]
		if !ok {
			return nil, fmt.Errorf("unknown course %q", id)
		}

		raw, _ := tc.State(PurchasedCoursesKey)
		owned, err := anyList(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", PurchasedCoursesKey, err)
		}
		for _, c := range owned {
			if m, ok := c.(map[string]any); ok && m["id"] == id {
				return map[string]any{"status": "error", "message": "You already own this course!"}, nil
			}
		}

		owned = append(owned, map[string]any{
			"id":            id,
			"purchase_date": opts.now().Format(TimestampLayout),
		})
		tc.SetState(PurchasedCoursesKey, owned)
		return map[string]any{
			"status":    "success",
			"message":   fmt.Sprintf("Successfully purchased the %s course!", title),
			"course_id": id,
		}, nil
	})
}

// stringList reads a list of strings from state. Values decoded from JSON
// arrive as []any, values set in-process as []string.
func stringList(tc *tool.Context, key string) ([]string, error) {
	raw, ok := tc.State(key)
	if !ok || raw == nil {
		return []string{}, nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("state %s holds %T, expected strings", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("state %s holds %T, expected a list", key, raw)
}

func anyList(raw any) ([]any, error) {
	switch v := raw.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return append([]any(nil), v...), nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list, got %T", raw)
}
