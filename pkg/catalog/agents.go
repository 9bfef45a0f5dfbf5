// Package catalog holds the ready-made tools and agents the CLI can run,
// along with the app settings each agent's console is started with.
package catalog

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/harun/agentlab/pkg/agent"
	"github.com/harun/agentlab/pkg/model"
	"github.com/harun/agentlab/pkg/session"
	"github.com/harun/agentlab/pkg/tool"
)

// Deps are what an agent is built from
type Deps struct {
	Model     model.LLM
	ModelName string
	// Toolsets are started MCP toolsets, used by agents with NeedsMCP.
	Toolsets []agent.Toolset
	// Knowledge is an optional knowledge_search tool.
	Knowledge tool.Tool
	// Tuning applied to every agent built, sub-agents included.
	Temperature float64
	MaxTokens   int
	MaxTurns    int
	Policy      *tool.Policy
	Options     Options
	Logger      zerolog.Logger
}

// Entry describes a runnable agent and the console it runs in
type Entry struct {
	Name        string
	Description string
	AppName     string
	UserID      string
	// DefaultModel is used when no model name is configured.
	DefaultModel string
	InitialState session.State
	// ResumeExisting continues the user's first stored session.
	ResumeExisting bool
	// TrackHistory records interaction_history around every turn.
	TrackHistory bool
	Farewell     string
	NeedsMCP     bool
	// NeedsKnowledge agents are built with Deps.Knowledge set.
	NeedsKnowledge bool
	Build          func(Deps) (agent.Agent, error)
}

// State returns a fresh copy of the entry's initial state
func (e Entry) State() session.State {
	return deepCopy(e.InitialState)
}

// DefaultMCPCommand starts the Airbnb MCP server used by airbnb_agent
var DefaultMCPCommand = []string{"npx", "-y", "@openbnb/mcp-server-airbnb", "--ignore-robots-txt"}

var entries = []Entry{
	{
		Name:         "dad_joke_agent",
		Description:  "Dad joke agent",
		AppName:      "dad_joke_app",
		UserID:       "user",
		DefaultModel: "gpt-3.5-turbo",
		Build: func(d Deps) (agent.Agent, error) {
			return build(d, "dad_joke_agent", "Dad joke agent",
				`You are a helpful assistant that can tell dad jokes.
Only use the tool `+"`get_dad_joke`"+` to tell jokes.`,
				DadJokeTool(d.Options))
		},
	},
	{
		Name:         "tool_agent",
		Description:  "A helpful assistant for user questions.",
		AppName:      "tool_agent_app",
		UserID:       "user",
		DefaultModel: "gemini-2.0-flash",
		Build: func(d Deps) (agent.Agent, error) {
			return build(d, "tool_agent", "A helpful assistant for user questions.",
				"Answer user questions to the best of your knowledge",
				CurrentTimeTool(d.Options))
		},
	},
	{
		Name:         "multi_agent",
		Description:  "Manager agent",
		AppName:      "multi_agent_app",
		UserID:       "user",
		DefaultModel: "gemini-2.0-flash",
		Build:        buildManager,
	},
	{
		Name:         "string_agent",
		Description:  "A friendly assistant with text tools",
		AppName:      "string_tools_app",
		UserID:       "user",
		DefaultModel: "gpt-4o",
		Build: func(d Deps) (agent.Agent, error) {
			return build(d, "string_agent", "A friendly assistant with text tools",
				"You are a helpful and friendly assistant. You have access to a variety of tools to help users with their tasks. "+
					"When a user asks for something, select the best tool to accomplish their goal and respond with the result. "+
					"Always be polite and provide clear, concise answers.",
				GreetUserTool(), ReverseStringTool(), ConcatenateStringsTool(), MultiplyTool(), ClockTimeTool(d.Options))
		},
	},
	{
		Name:           "memory_agent",
		Description:    "A smart reminder agent with persistent memory",
		AppName:        "Memory Agent",
		UserID:         "sandip_basak",
		DefaultModel:   "gemini-2.0-flash",
		InitialState:   session.State{UserNameKey: "Sandip Basak", RemindersKey: []any{}},
		ResumeExisting: true,
		Farewell:       "Ending conversation. Your data has been saved to the database.",
		Build: func(d Deps) (agent.Agent, error) {
			return build(d, "memory_agent", "A smart reminder agent with persistent memory", memoryInstruction,
				AddReminderTool(), ViewRemindersTool(), DeleteReminderTool(), UpdateUserNameTool())
		},
	},
	{
		Name:         "customer_service_agent",
		Description:  "Customer service agent for the AI developer course community",
		AppName:      "Customer Support",
		UserID:       "aiwithbrandon",
		DefaultModel: "gemini-2.0-flash",
		InitialState: session.State{
			UserNameKey:           "Brandon Hancock",
			PurchasedCoursesKey:   []any{},
			"interaction_history": []any{},
		},
		TrackHistory: true,
		Build: func(d Deps) (agent.Agent, error) {
			return build(d, "customer_service_agent", "Customer service agent for the AI developer course community",
				customerServiceInstruction, PurchaseCourseTool(d.Options), CurrentTimeTool(d.Options))
		},
	},
	{
		Name:           "knowledge_agent",
		Description:    "Answers questions from the ingested knowledge base",
		AppName:        "rag_app",
		UserID:         "user",
		DefaultModel:   "gpt-4o",
		NeedsKnowledge: true,
		Build: func(d Deps) (agent.Agent, error) {
			if d.Knowledge == nil {
				return nil, fmt.Errorf("knowledge_agent needs a vector index; configure vector_store")
			}
			return build(d, "knowledge_agent", "Answers questions from the ingested knowledge base",
				"Answer the user's questions using the `knowledge_search` tool. Quote the passages you rely on and say so when nothing relevant is found.",
				d.Knowledge)
		},
	},
	{
		Name:         "airbnb_agent",
		Description:  "Airbnb enquiry agent",
		AppName:      "airbnb_enquiry_app",
		UserID:       "user_airbnb_enquirer",
		DefaultModel: "gemini-2.5-flash",
		NeedsMCP:     true,
		Build: func(d Deps) (agent.Agent, error) {
			if len(d.Toolsets) == 0 {
				return nil, fmt.Errorf("airbnb_agent needs an MCP toolset")
			}
			cfg := d.llmConfig("airbnb_agent", "Airbnb enquiry agent",
				"You are an Airbnb enquiry agent, you can look for Airbnb listings using the tool.")
			cfg.Toolsets = d.Toolsets
			return agent.NewLLM(cfg)
		},
	},
}

const memoryInstruction = `You are a friendly reminder assistant that remembers users across conversations.

The user's information is stored in state:
- User's name: {user_name}
- Reminders: {reminders}

You can help users manage their reminders with the following capabilities:
1. Add new reminders
2. View existing reminders
3. Delete reminders
4. Update the user's name

When the user refers to a reminder by its content rather than its number, find the
best match in the list and use its 1-based position. Always confirm what you changed
and address the user by name.`

const customerServiceInstruction = `You are the primary customer service agent for the AI Developer Accelerator community.
Your role is to help users with their questions and direct them to the right information.

<user_info>
Name: {user_name}
</user_info>

<purchase_info>
Purchased Courses: {purchased_courses}
</purchase_info>

<interaction_history>
{interaction_history}
</interaction_history>

The only course for sale is "Fullstack AI Marketing Platform" (course_id: ai_marketing_platform).
Before purchasing, confirm that the user wants to buy it. Use the purchase_course tool only after
they agree, and never sell a course they already own.`

func buildManager(d Deps) (agent.Agent, error) {
	subs := []struct{ name, desc, instruction string }{
		{"news_analyst", "News analyst agent", "You are a news analyst. Summarize the current news relevant to the request clearly and concisely. Mention when your knowledge may be out of date."},
		{"stock_analyst", "An agent that can look up stock prices and track them over time.", "You are a helpful stock market assistant. Answer questions about stocks and their recent performance, and state the time of your information."},
		{"funny_nerd", "An agent that tells nerdy jokes about a given topic.", "You are a funny nerd. Tell a nerdy joke about the topic the user asks for, then briefly explain it."},
	}

	tools := []tool.Tool{}
	for _, s := range subs {
		sub, err := build(d, s.name, s.desc, s.instruction)
		if err != nil {
			return nil, err
		}
		tools = append(tools, agent.AsTool(sub))
	}
	tools = append(tools, CurrentTimeTool(d.Options))

	return build(d, "multi_agent", "Manager agent", `You are a manager agent that is responsible for overseeing the work of the other agents.

Always delegate the task to the appropriate agent. Use your best judgement
to determine which agent to delegate to.

You are responsible for delegating tasks to the following agent:
- stock_analyst
- funny_nerd

You also have access to the following tools:
- news_analyst
- get_current_time`, tools...)
}

func build(d Deps, name, description, instruction string, tools ...tool.Tool) (agent.Agent, error) {
	cfg := d.llmConfig(name, description, instruction)
	cfg.Tools = tools
	return agent.NewLLM(cfg)
}

func (d Deps) llmConfig(name, description, instruction string) agent.LLMConfig {
	return agent.LLMConfig{
		Name:        name,
		Description: description,
		Instruction: instruction,
		Model:       d.Model,
		ModelName:   d.ModelName,
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
		MaxTurns:    d.MaxTurns,
		Policy:      d.Policy,
		Logger:      d.Logger,
	}
}

// Lookup returns the named catalog entry
func Lookup(name string) (Entry, error) {
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("unknown agent %q (available: %v)", name, Names())
}

// Names lists the catalog's agents alphabetically
func Names() []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}

// Entries returns all catalog entries
func Entries() []Entry {
	return append([]Entry(nil), entries...)
}

func deepCopy(s session.State) session.State {
	out := make(session.State, len(s))
	for k, v := range s {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []any:
		c := make([]any, len(t))
		for i := range t {
			c[i] = copyValue(t[i])
		}
		return c
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, x := range t {
			c[k] = copyValue(x)
		}
		return c
	}
	return v
}
