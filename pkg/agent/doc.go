// Package agent runs the tool-calling loop against streaming model providers.
//
// Invariants:
//   - Each Provider turns its wire stream into the same Response shape.
//   - Every tool invocation in a response gets exactly one outcome before the
//     next upstream call; dispatch is sequential in response order.
//   - Rate-limited calls are retried on a fixed schedule; other upstream
//     failures end the run.
//   - Cancellation interrupts the current task with reason user_cancelled.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Provider: provider,
//		Tools:    executor,
//		Tracker:  tracker,
//	})
//	conv := agent.NewConversation("")
//	result, err := runner.Run(ctx, conv, "free up disk space", printDelta)
//	_ = result
package agent
