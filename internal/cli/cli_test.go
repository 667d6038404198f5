package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/hostpilot/internal/config"
	"github.com/harun/hostpilot/pkg/agent"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

const doneStream = `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"done"},"finish_reason":null}]}

data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`

// clearEnv keeps keys and overrides from the developer's shell out of the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HOSTPILOT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY",
		"HOSTPILOT_OPENAI_API_KEY", "OPENAI_API_KEY",
		"HOSTPILOT_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
		"HOSTPILOT_ACTIVE_PROVIDER", "HOSTPILOT_LOGGING_LEVEL", "HOSTPILOT_DATA_DIR",
	} {
		t.Setenv(name, "")
	}
}

func setupTestUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeTestConfig writes a config with one OpenAI-compatible provider at
// baseURL plus extra top-level JSON members.
func writeTestConfig(t *testing.T, baseURL, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{
	"providers": [
		{"id": "local", "provider": "openai", "api_key": "sk-test-key-123", "model": "m", "base_url": %q}
	],
	"data_dir": %q%s
}`, baseURL+"/", dir, extra)
	path := filepath.Join(dir, "hostpilot.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	t.Run("should stream the reply", func(t *testing.T) {
		clearEnv(t)
		srv := setupTestUpstream(t, doneStream)
		path := writeTestConfig(t, srv.URL, "")

		out, err := runCLI(t, "", "--config", path, "--workspace", t.TempDir(), "run", "say", "done")

		require.NoError(t, err)
		assert.Equal(t, "done\n", out)
	})

	t.Run("should fail without providers", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "hostpilot.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

		_, err := runCLI(t, "", "--config", path, "--workspace", t.TempDir(), "run", "hi")

		assert.ErrorIs(t, err, config.ErrNoProviders)
	})

	t.Run("should reject a bad log level", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")

		_, err := runCLI(t, "", "--config", path, "--log-level", "loud", "run", "hi")

		assert.Error(t, err)
	})
}

func TestChatLoop(t *testing.T) {
	setupTestApp := func(t *testing.T, upstream string) *app {
		t.Helper()
		clearEnv(t)
		opts := &rootOptions{cfgFile: writeTestConfig(t, upstream, ""), workspace: t.TempDir()}
		a, err := newApp(opts, io.Discard, true)
		require.NoError(t, err)
		t.Cleanup(a.Close)
		return a
	}

	t.Run("should answer until exit", func(t *testing.T) {
		a := setupTestApp(t, setupTestUpstream(t, doneStream).URL)
		var out, errOut bytes.Buffer

		err := chatLoop(context.Background(), a, strings.NewReader("hello\n\n/progress\nexit\nignored\n"), &out, &errOut, make(chan os.Signal))

		require.NoError(t, err)
		assert.Contains(t, out.String(), "done\n")
		assert.Contains(t, out.String(), "Progress preserved:")
		assert.Empty(t, errOut.String())
	})

	t.Run("should stop at end of input", func(t *testing.T) {
		a := setupTestApp(t, "http://127.0.0.1:1")
		var out bytes.Buffer

		err := chatLoop(context.Background(), a, strings.NewReader("/reset\n"), &out, io.Discard, make(chan os.Signal))

		require.NoError(t, err)
		assert.Contains(t, out.String(), "Conversation cleared.")
	})

	t.Run("should cancel the running request on interrupt", func(t *testing.T) {
		// the upstream never answers, so only the interrupt can end the turn
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(srv.Close)
		a := setupTestApp(t, srv.URL)
		interrupts := make(chan os.Signal, 1)
		interrupts <- os.Interrupt

		err := runTurn(context.Background(), a, agent.NewConversation("t"), "hello", io.Discard, interrupts)

		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Equal(t, agent.KindCancelled, agent.KindOf(err))

		task, ok := a.tracker.Current()
		require.True(t, ok)
		assert.Equal(t, "user_cancelled", task.InterruptReason)
	})
}

// stallReader blocks every Read until the test ends.
type stallReader struct{ release chan struct{} }

func (r stallReader) Read([]byte) (int, error) {
	<-r.release
	return 0, io.EOF
}

func TestReadLines(t *testing.T) {
	t.Run("should stop feeding lines once done is closed", func(t *testing.T) {
		stall := stallReader{release: make(chan struct{})}
		t.Cleanup(func() { close(stall.release) })
		done := make(chan struct{})

		lines := readLines(io.MultiReader(strings.NewReader("exit\npending\n"), stall), done)
		require.Equal(t, "exit", <-lines)
		close(done)

		assert.Eventually(t, func() bool {
			select {
			case _, ok := <-lines:
				return !ok
			default:
				return false
			}
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("should close at end of input", func(t *testing.T) {
		lines := readLines(strings.NewReader("a\nb\n"), make(chan struct{}))

		var got []string
		for l := range lines {
			got = append(got, l)
		}
		assert.Equal(t, []string{"a", "b"}, got)
	})
}

func TestExecCommand(t *testing.T) {
	t.Run("should print the result summary", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")
		src := filepath.Join(t.TempDir(), "frag.go")
		require.NoError(t, os.WriteFile(src, []byte("fmt.Fprintln(out, \"hi\")\nreturn 3"), 0o644))

		out, err := runCLI(t, "", "--config", path, "exec", src)

		require.NoError(t, err)
		assert.Equal(t, "ok\noutput:\nhi\nreturn: 3\n", out)
	})

	t.Run("should read the fragment from stdin", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")

		out, err := runCLI(t, `return env["workspace"]`, "--config", path, "--workspace", "/srv/data", "exec", "-")

		require.NoError(t, err)
		assert.Contains(t, out, "return: /srv/data")
	})

	t.Run("should fail on compilation errors", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")

		out, err := runCLI(t, "b := 1 + )", "--config", path, "exec", "-")

		assert.ErrorIs(t, err, ErrExecutionFailed)
		assert.Contains(t, out, "compilation failed")
	})
}

func TestToolsCommand(t *testing.T) {
	t.Run("should list tools with policy and preview columns", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", `,
	"tools": {"deny": ["edit_file"]}`)

		out, err := runCLI(t, "", "--config", path, "--workspace", t.TempDir(), "tools", "list")

		require.NoError(t, err)
		rows := map[string][]string{}
		for _, line := range strings.Split(strings.TrimSpace(out), "\n")[1:] {
			fields := strings.Fields(line)
			rows[fields[0]] = fields[1:3]
		}
		assert.Equal(t, []string{"no", "yes"}, rows["edit_file"])
		assert.Equal(t, []string{"yes", "no"}, rows["read_file"])
		assert.Equal(t, []string{"yes", "yes"}, rows[toolexecutor.CodeToolName])
		assert.Len(t, rows, 5)
	})

	t.Run("should preview a write without applying it", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")
		workspace := t.TempDir()

		out, err := runCLI(t, "", "--config", path, "--workspace", workspace,
			"tools", "preview", "write_file", `{"path":"notes.txt","content":"hi"}`)

		require.NoError(t, err)
		assert.Equal(t, "would create notes.txt with 2 bytes\n", out)
		_, statErr := os.Stat(filepath.Join(workspace, "notes.txt"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("should report tools without preview", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")

		_, err := runCLI(t, "", "--config", path, "tools", "preview", "read_file", `{"path":"x"}`)

		assert.ErrorIs(t, err, toolexecutor.ErrPreviewUnsupported)
	})

	t.Run("should reject malformed arguments", func(t *testing.T) {
		clearEnv(t)

		_, err := runCLI(t, "", "tools", "preview", "write_file", `{nope`)

		assert.ErrorContains(t, err, "invalid tool arguments")
	})
}

func TestConfigCommand(t *testing.T) {
	t.Run("should show the config with masked keys", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")

		out, err := runCLI(t, "", "--config", path, "config", "show")

		require.NoError(t, err)
		assert.Contains(t, out, "api_key: sk-t********")
		assert.Contains(t, out, "tool_timeout: 30s")
		assert.NotContains(t, out, "sk-test-key-123")

		out, err = runCLI(t, "", "--config", path, "config", "show", "--json")

		require.NoError(t, err)
		assert.Contains(t, out, `"api_key": "sk-t********"`)
	})

	t.Run("should validate a good config", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", "")

		out, err := runCLI(t, "", "--config", path, "config", "validate")

		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid: "+path)
	})

	t.Run("should list every problem", func(t *testing.T) {
		clearEnv(t)
		path := writeTestConfig(t, "http://127.0.0.1:1", `,
	"active_provider": "missing"`)

		out, err := runCLI(t, "", "--config", path, "config", "validate")

		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, out, "active provider not found")
	})

	t.Run("should write a new config from the wizard", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "nested", "hostpilot.json")

		out, err := runCLI(t, "sk-ant-wizard\n\n\n\n\n", "--config", path, "config", "init")

		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+path)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		cfg, err := config.Load(path)
		require.NoError(t, err)
		require.Len(t, cfg.Providers, 1)
		assert.Equal(t, "sk-ant-wizard", cfg.Providers[0].APIKey)

		_, err = runCLI(t, "", "--config", path, "config", "init")
		assert.ErrorContains(t, err, "already exists")
	})
}
