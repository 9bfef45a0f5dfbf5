package catalog

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentlab/pkg/agent"
	"github.com/harun/agentlab/pkg/model"
	"github.com/harun/agentlab/pkg/runner"
	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
)

var fixedNow = time.Date(2025, 6, 1, 14, 5, 9, 0, time.UTC)

func testOptions() Options {
	return Options{
		Now:  func() time.Time { return fixedNow },
		Pick: func(n int) int { return n - 1 },
	}
}

func run(t *testing.T, tl tool.Tool, tc *tool.Context, args map[string]any) map[string]any {
	t.Helper()
	if tc == nil {
		tc = tool.NewContext("call_1", "test_agent", nil)
	}
	out, err := tl.Run(context.Background(), tc, args)
	require.NoError(t, err)
	return out
}

func TestTools_DeclarationsAreValid(t *testing.T) {
	all := Tools(testOptions())
	assert.Len(t, all, 12)
	for name, tl := range all {
		decl := tl.Declaration()
		assert.Equal(t, name, decl.Name)
		assert.NoError(t, decl.Validate(), name)
	}
}

func TestTimeTools(t *testing.T) {
	opts := testOptions()
	assert.Equal(t, "2025-06-01 14:05:09", run(t, CurrentTimeTool(opts), nil, nil)["current_time"])
	assert.Equal(t, "02:05 PM", run(t, ClockTimeTool(opts), nil, nil)["time"])
}

func TestDadJokeTool(t *testing.T) {
	out := run(t, DadJokeTool(testOptions()), nil, nil)
	assert.Equal(t, DadJokes[len(DadJokes)-1], out["joke"])

	// default picker stays in range
	out = run(t, DadJokeTool(Options{}), nil, nil)
	assert.Contains(t, DadJokes, out["joke"])
}

func TestStringTools(t *testing.T) {
	assert.Equal(t, "Hello, Alice!", run(t, GreetUserTool(), nil, map[string]any{"name": "Alice"})["result"])
	assert.Equal(t, "olleh", run(t, ReverseStringTool(), nil, map[string]any{"text": "hello"})["result"])
	assert.Equal(t, "ségap", Reverse("pagés"))
	assert.Equal(t, "helloworld", run(t, ConcatenateStringsTool(), nil, map[string]any{"a": "hello", "b": "world"})["result"])

	out := run(t, MultiplyTool(), nil, map[string]any{"x": 6.0, "y": 7.0})
	assert.Equal(t, 42.0, out["result"])
	assert.Equal(t, "The product of 6 and 7 is 42", out["message"])

	_, err := GreetUserTool().Run(context.Background(), tool.NewContext("c", "a", nil), map[string]any{"name": 3})
	assert.Error(t, err)
}

func TestReminderTools(t *testing.T) {
	// state loaded from the database holds []any
	tc := tool.NewContext("call_1", "memory_agent", session.State{RemindersKey: []any{"buy milk"}})

	run(t, AddReminderTool(), tc, map[string]any{"reminder": "call mom"})
	run(t, AddReminderTool(), tc, map[string]any{"reminder": "water plants"})

	out := run(t, ViewRemindersTool(), tc, nil)
	assert.Equal(t, []string{"buy milk", "call mom", "water plants"}, out["reminders"])
	assert.Equal(t, 3, out["count"])

	out = run(t, DeleteReminderTool(), tc, map[string]any{"index": 2.0})
	assert.Equal(t, "call mom", out["deleted_reminder"])
	assert.Equal(t, []string{"buy milk", "water plants"}, tc.StateDelta()[RemindersKey])

	_, err := DeleteReminderTool().Run(context.Background(), tc, map[string]any{"index": 5.0})
	assert.Error(t, err)
	_, err = DeleteReminderTool().Run(context.Background(), tc, map[string]any{"index": 0.0})
	assert.Error(t, err)
}

func TestReminderTools_EmptyAndInvalidState(t *testing.T) {
	out := run(t, ViewRemindersTool(), nil, nil)
	assert.Equal(t, 0, out["count"])

	tc := tool.NewContext("call_1", "memory_agent", session.State{RemindersKey: "not a list"})
	_, err := ViewRemindersTool().Run(context.Background(), tc, nil)
	assert.Error(t, err)
}

func TestUpdateUserNameTool(t *testing.T) {
	tc := tool.NewContext("call_1", "memory_agent", session.State{UserNameKey: "Sandip Basak"})
	out := run(t, UpdateUserNameTool(), tc, map[string]any{"name": "Sandip"})
	assert.Equal(t, "Sandip Basak", out["old_name"])
	assert.Equal(t, "Sandip", tc.StateDelta()[UserNameKey])
}

func TestPurchaseCourseTool(t *testing.T) {
	opts := testOptions()
	tc := tool.NewContext("call_1", "customer_service_agent", session.State{PurchasedCoursesKey: []any{}})

	out := run(t, PurchaseCourseTool(opts), tc, map[string]any{"course_id": "ai_marketing_platform"})
	assert.Equal(t, "success", out["status"])

	owned := tc.StateDelta()[PurchasedCoursesKey].([]any)
	require.Len(t, owned, 1)
	assert.Equal(t, map[string]any{"id": "ai_marketing_platform", "purchase_date": "2025-06-01 14:05:09"}, owned[0])

	out = run(t, PurchaseCourseTool(opts), tc, map[string]any{"course_id": "ai_marketing_platform"})
	assert.Equal(t, "error", out["status"])

	_, err := PurchaseCourseTool(opts).Run(context.Background(), tc, map[string]any{"course_id": "cooking"})
	assert.Error(t, err)
}

func TestLookupAndNames(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "memory_agent")
	assert.Contains(t, names, "customer_service_agent")
	assert.IsNonDecreasing(t, names)

	e, err := Lookup("memory_agent")
	require.NoError(t, err)
	assert.Equal(t, "Memory Agent", e.AppName)
	assert.Equal(t, "sandip_basak", e.UserID)
	assert.True(t, e.ResumeExisting)
	assert.Equal(t, "Ending conversation. Your data has been saved to the database.", e.Farewell)

	cs, err := Lookup("customer_service_agent")
	require.NoError(t, err)
	assert.Equal(t, "Customer Support", cs.AppName)
	assert.Equal(t, "aiwithbrandon", cs.UserID)
	assert.True(t, cs.TrackHistory)
	assert.False(t, cs.ResumeExisting)

	_, err = Lookup("nope")
	assert.Error(t, err)
}

func TestEntryState_IsACopy(t *testing.T) {
	e, err := Lookup("customer_service_agent")
	require.NoError(t, err)

	s := e.State()
	s["interaction_history"] = append(s["interaction_history"].([]any), "x")
	s[UserNameKey] = "someone else"

	fresh := e.State()
	assert.Empty(t, fresh["interaction_history"])
	assert.Equal(t, "Brandon Hancock", fresh[UserNameKey])
}

func TestEntries_Build(t *testing.T) {
	deps := Deps{Model: model.NewMock(), Options: testOptions(), Logger: zerolog.Nop()}
	for _, e := range Entries() {
		t.Run(e.Name, func(t *testing.T) {
			a, err := e.Build(deps)
			if e.NeedsMCP || e.NeedsKnowledge {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, e.Name, a.Name())
		})
	}
}

func TestMultiAgent_DelegatesThroughAgentTools(t *testing.T) {
	e, err := Lookup("multi_agent")
	require.NoError(t, err)
	a, err := e.Build(Deps{Model: model.NewMock(), Options: testOptions(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	var names []string
	for _, d := range a.(*agent.LLMAgent).Tools() {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"news_analyst", "stock_analyst", "funny_nerd", "get_current_time"}, names)
}

func drain(seq iter.Seq2[*session.Event, error]) ([]*session.Event, error) {
	var out []*session.Event
	for ev, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func TestMemoryAgent_RemindersPersistAcrossRuns(t *testing.T) {
	ctx := context.Background()
	dbURL := "sqlite:///" + filepath.Join(t.TempDir(), "my_agent_data.db")
	entry, err := Lookup("memory_agent")
	require.NoError(t, err)

	llm := model.NewMock(
		model.CallResponse("c1", "add_reminder", map[string]any{"reminder": "buy milk"}),
		model.TextResponse("Added your reminder, Sandip Basak."),
		model.TextResponse("You have one reminder: buy milk."),
	)
	a, err := entry.Build(Deps{Model: llm, Options: testOptions(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	svc, err := session.NewDatabaseService(session.DatabaseConfig{URL: dbURL, Logger: zerolog.Nop()})
	require.NoError(t, err)
	sess, err := svc.CreateSession(ctx, session.CreateRequest{AppName: entry.AppName, UserID: entry.UserID, State: entry.State()})
	require.NoError(t, err)

	r, err := runner.New(runner.Config{AppName: entry.AppName, Agent: a, Sessions: svc, Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = drain(r.Run(ctx, entry.UserID, sess.ID, session.NewUserContent("remind me to buy milk")))
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	// a second process reopens the same database
	svc, err = session.NewDatabaseService(session.DatabaseConfig{URL: dbURL, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer svc.Close()
	r, err = runner.New(runner.Config{AppName: entry.AppName, Agent: a, Sessions: svc, Logger: zerolog.Nop()})
	require.NoError(t, err)

	events, err := drain(r.Run(ctx, entry.UserID, sess.ID, session.NewUserContent("what are my reminders?")))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "You have one reminder: buy milk.", events[len(events)-1].Text())

	reqs := llm.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].SystemInstruction, "Reminders: []")
	assert.Contains(t, reqs[2].SystemInstruction, `Reminders: ["buy milk"]`)
	assert.Contains(t, reqs[2].SystemInstruction, "User's name: Sandip Basak")
}
