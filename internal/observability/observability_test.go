package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("should count tool dispatches and errors", func(t *testing.T) {
		m := getMetrics()
		before := testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("probe_tool"))

		RecordToolDispatch("probe_tool", 10*time.Millisecond, true)
		RecordToolDispatch("probe_tool", 10*time.Millisecond, false)

		assert.Equal(t, before+1, testutil.ToFloat64(m.toolErrorsTotal.WithLabelValues("probe_tool")))
		assert.GreaterOrEqual(t, testutil.ToFloat64(m.toolDispatchTotal.WithLabelValues("probe_tool", "success")), 1.0)
	})

	t.Run("should add dropped messages on trim", func(t *testing.T) {
		m := getMetrics()
		before := testutil.ToFloat64(m.contextDropped)
		RecordContextTrim(4)
		assert.Equal(t, before+4, testutil.ToFloat64(m.contextDropped))
	})

	t.Run("should expose metrics over http", func(t *testing.T) {
		RecordUpstreamCall("anthropic", "success", time.Second)
		RecordRateLimitRetry("anthropic")
		SetHostQueueDepth(2)

		rec := httptest.NewRecorder()
		MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body := rec.Body.String()
		assert.Contains(t, body, "hostpilot_upstream_calls_total")
		assert.Contains(t, body, "hostpilot_rate_limit_retries_total")
		assert.Contains(t, body, "hostpilot_host_queue_depth 2")
	})
}

func TestAuditLogger(t *testing.T) {
	t.Run("should write json events", func(t *testing.T) {
		var buf bytes.Buffer
		SetAuditOutput(&buf)

		RecordTaskAudit(context.Background(), "task_started", "task-1", "success", map[string]interface{}{"description": "demo"})

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "task", entry["type"])
		assert.Equal(t, "task-1", entry["task_id"])
		assert.Equal(t, "task_started", entry["action"])
	})

	t.Run("should append to a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.log")
		require.NoError(t, InitAuditLogger(path))
		defer GetAuditLogger().Close()

		RecordToolAudit(context.Background(), "execute_code", "task-2", "failure", nil)
		assert.FileExists(t, path)
	})
}
