// Package workflow executes node/edge graphs: agents, tools, conditions,
// parallel fan-out, delays, webhooks and durable human approvals.
//
// Invariants:
// - Every node execution is persisted before the traversal advances past it.
// - A parallel branch failure never cancels its siblings; the run fails
//   after the join.
// - Approval waits are persisted state, never a parked goroutine; resume
//   rebuilds the traversal from the run's stored definition and node records.
//
// Usage:
//
//	engine, _ := workflow.NewEngine(workflow.Config{
//		Store:   store,
//		Agents:  runner,
//		Catalog: registry,
//		Tools:   executor,
//	})
//	rec, _ := engine.Run(ctx, wf, input, nil)
//	_ = rec
package workflow
