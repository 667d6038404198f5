package toolexecutor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/hostpilot/pkg/sandbox"
)

func setupTestCodeTool(t *testing.T) *ToolExecutor {
	t.Helper()
	sb, err := sandbox.New(sandbox.DefaultConfig())
	require.NoError(t, err)

	te := setupTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(NewCodeTool(sb, func(ctx context.Context) map[string]any {
		return map[string]any{"document": "report.txt"}
	})))
	return te
}

func TestCodeTool(t *testing.T) {
	te := setupTestCodeTool(t)

	t.Run("should run fragment with context objects", func(t *testing.T) {
		ctx := ContextWithExecContext(context.Background(), &ExecutionContext{CallID: "call_1", TaskID: "task_1"})

		result := te.Execute(ctx, CodeToolName, map[string]any{
			"code": `fmt.Fprintln(out, env["document"], env["call_id"])
return 7`,
		})

		require.True(t, result.Success, result.Error)
		assert.Equal(t, "ok\noutput:\nreport.txt call_1\nreturn: 7\n", result.Output)
	})

	t.Run("should report compilation errors as tool outcome", func(t *testing.T) {
		result := te.Execute(context.Background(), CodeToolName, map[string]any{"code": "x := )"})

		assert.False(t, result.Success)
		assert.Equal(t, "compilation_error", result.ErrorKind)
		assert.Contains(t, result.Error, "compilation failed")
	})

	t.Run("should report runtime errors as tool outcome", func(t *testing.T) {
		result := te.Execute(context.Background(), CodeToolName, map[string]any{"code": `fmt.Fprint(out, "partial")
panic("broken")`})

		assert.False(t, result.Success)
		assert.Equal(t, "runtime_error", result.ErrorKind)
		assert.Contains(t, result.Error, "broken")
		assert.Contains(t, result.Error, "partial")
	})

	t.Run("should preview without running", func(t *testing.T) {
		result, err := te.Preview(context.Background(), CodeToolName, map[string]any{"code": "return 1"})

		require.NoError(t, err)
		assert.Equal(t, "would compile and run 8 bytes of Go code", result.Output)
	})
}
