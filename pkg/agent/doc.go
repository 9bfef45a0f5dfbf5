// Package agent runs LLM agents that answer a user message with a stream of
// session events, calling tools in between.
//
// Invariants:
//   - An agent never writes to a session store; it yields events and the
//     caller persists them.
//   - State written by tools travels as the state delta of the
//     function-response event that carries the tool results.
//   - A model reply without function calls ends the invocation.
//
// Usage:
//
//	a, _ := agent.NewLLM(agent.LLMConfig{
//		Name:        "tool_agent",
//		Instruction: "Answer user questions to the best of your knowledge",
//		Model:       llm,
//		ModelName:   "gemini-2.0-flash",
//		Tools:       []tool.Tool{catalog.CurrentTime()},
//	})
//	for ev, err := range a.Run(ctx, inv) {
//		_, _ = ev, err
//	}
package agent
