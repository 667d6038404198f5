package toolexecutor

import (
	"context"
	"fmt"

	"github.com/harun/hostpilot/pkg/sandbox"
)

// CodeToolName is the name of the universal fallback tool.
const CodeToolName = "execute_code"

// Sandbox compiles and runs code fragments.
type Sandbox interface {
	CompileAndExecute(ctx context.Context, fragment string, ctxObjects map[string]any) (sandbox.Result, error)
}

// NewCodeTool builds the execute_code tool. objects, when set, supplies the
// context objects handed to each fragment as env.
func NewCodeTool(sb Sandbox, objects func(ctx context.Context) map[string]any) ToolDefinition {
	handler := func(ctx context.Context, params map[string]any) (any, error) {
		code, _ := params["code"].(string)

		env := map[string]any{}
		if objects != nil {
			for k, v := range objects(ctx) {
				env[k] = v
			}
		}
		if execCtx := ExecContextFromContext(ctx); execCtx != nil {
			env["call_id"] = execCtx.CallID
			env["task_id"] = execCtx.TaskID
		}

		res, err := sb.CompileAndExecute(ctx, code, env)
		if err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}
		switch {
		case len(res.CompilationErrors) > 0:
			return nil, &KindError{Kind: "compilation_error", Message: res.Summary()}
		case res.RuntimeError != "":
			return nil, &KindError{Kind: "runtime_error", Message: res.Summary()}
		}
		return res.Summary(), nil
	}

	return ToolDefinition{
		Name: CodeToolName,
		Description: "Compile and run a Go code fragment when no other tool fits. " +
			"The fragment is the body of func(env map[string]any, out io.Writer) any with " +
			"fmt, strings, strconv, math, sort, time, errors, encoding/json and io imported. " +
			"Write results to out or return a value.",
		Parameters: []ToolParameter{
			{Name: "code", Type: "string", Description: "Go statements forming the function body", Required: true},
		},
		Handler: handler,
		Preview: func(ctx context.Context, params map[string]any) (any, error) {
			code, _ := params["code"].(string)
			return fmt.Sprintf("would compile and run %d bytes of Go code", len(code)), nil
		},
	}
}
