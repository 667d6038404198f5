// Package session tracks the progress of the current agent task so an
// interrupted task can be resumed without redoing finished work.
//
// Invariants:
//   - Exactly one TaskState is current; StartTask replaces it.
//   - Completed and failed tasks are terminal; interrupted tasks can be resumed.
//   - A task is resumable only if it is interrupted AND the last recorded error was recoverable.
//   - Tool history is a bounded ring; the oldest record is evicted first.
//   - All mutations are serialized by a single mutex.
//
// Usage:
//
//	tracker := session.New(session.Config{HistorySize: 50})
//	tracker.StartTask("rename every layer")
//	tracker.AddStep("list_layers")
//	_ = tracker.UpdateCurrentStep(session.StepCompleted, "12 layers")
//	tracker.CacheData("list_layers_result", layers)
//	if tracker.HasRecoverableInterrupt() {
//		prompt = tracker.GenerateContextSummary() + "\n\n" + prompt
//	}
package session
