// Package orchestrator executes task distributions across isolated sub-agents.
//
// The orchestrator package provides functionality for:
//   - Execution: spawning one agent per allocation and driving them per strategy
//   - Recovery: reassigning failed allocations and extending missed deadlines
//   - Synchronization: reporting allocations at the plan's rendezvous points
//   - Cleanup: terminating every agent and releasing every lease of a coordination
//
// The Engine runs one distribution at a time per call; any number of calls may
// run concurrently against the same managers. The Coordinator wires a planner,
// a resource manager, a lifecycle manager and an engine together and is the
// entry point for callers.
//
// Example usage:
//
//	c, err := orchestrator.NewCoordinator(orchestrator.Config{
//		Pool:     []resource.Capacity{{Type: models.ResourceMemory, Total: 4096, Unit: "MB"}},
//		Executor: executor.NewEcho(),
//	})
//	defer c.Close()
//	report, err := c.Coordinate(ctx, task, strategy)
package orchestrator
