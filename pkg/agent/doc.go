// Package agent drives a single agent's bounded tool-calling loop.
//
// Invariants:
// - Every step is persisted, in order, before the loop advances past it.
// - Step and time budgets are checked between iterations, never mid-call.
// - Tool failures feed back to the model; only budget exhaustion is terminal.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Store:     store,
//		Tools:     executor,
//		Providers: factory,
//	})
//	rec, _ := runner.Run(ctx, agentDef, "summarize today's runs", nil)
//	_ = rec
package agent
