// Package toolexecutor registers and executes structured tools for the agent.
//
// Invariants:
//   - Tool names are unique.
//   - Parameters are schema-validated before execution.
//   - Handler failures, timeouts and panics become a ToolResult with Success
//     false; Execute never returns an error.
//   - Preview never runs Handler.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]any) (any, error) { return params["text"], nil },
//	})
//	result := exec.Execute(ctx, "echo", map[string]any{"text": "hi"})
package toolexecutor
