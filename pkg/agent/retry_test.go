package agent

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) record(_ int, d time.Duration, _ string) {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
}

func (r *delayRecorder) list() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func rateLimited() Response {
	return failedResponse("", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
}

func setupTestBackoff(t *testing.T) (*RateLimitBackoff, *delayRecorder) {
	t.Helper()
	rec := &delayRecorder{}
	b := NewRateLimitBackoff([]time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 60 * time.Millisecond})
	b.OnRetry = rec.record
	return b, rec
}

func TestRateLimitBackoff(t *testing.T) {
	t.Run("should sleep through the schedule until success", func(t *testing.T) {
		b, rec := setupTestBackoff(t)
		calls := 0

		resp, retries, err := b.Do(context.Background(), "test", func(ctx context.Context) Response {
			calls++
			if calls <= 2 {
				return rateLimited()
			}
			return Response{Text: "ok", Success: true, StopReason: StopMoreText}
		})

		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond}, rec.list())
	})

	t.Run("should give up after the last delay", func(t *testing.T) {
		b, rec := setupTestBackoff(t)
		calls := 0

		resp, retries, err := b.Do(context.Background(), "test", func(ctx context.Context) Response {
			calls++
			return rateLimited()
		})

		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, 4, calls)
		assert.Equal(t, 3, retries)
		assert.Len(t, rec.list(), 3)
	})

	t.Run("should not retry other failures", func(t *testing.T) {
		b, rec := setupTestBackoff(t)
		calls := 0

		resp, retries, err := b.Do(context.Background(), "test", func(ctx context.Context) Response {
			calls++
			return failedResponse("", http.StatusInternalServerError, "internal server error")
		})

		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 0, retries)
		assert.Empty(t, rec.list())
	})

	t.Run("should stop sleeping when cancelled", func(t *testing.T) {
		b := NewRateLimitBackoff([]time.Duration{time.Hour})
		ctx, cancel := context.WithCancel(context.Background())
		b.OnRetry = func(int, time.Duration, string) { cancel() }

		start := time.Now()
		_, _, err := b.Do(ctx, "test", func(ctx context.Context) Response {
			return rateLimited()
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Minute)
	})

	t.Run("should not call upstream with a cancelled context", func(t *testing.T) {
		b, _ := setupTestBackoff(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0

		_, _, err := b.Do(ctx, "test", func(ctx context.Context) Response {
			calls++
			return Response{Success: true}
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, calls)
	})

	t.Run("should default to the production schedule", func(t *testing.T) {
		b := NewRateLimitBackoff(nil)
		assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, b.Delays)
	})
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		name   string
		status int
		detail string
		want   bool
	}{
		{"429", http.StatusTooManyRequests, "", true},
		{"anthropic overloaded status", 529, "", true},
		{"rate_limit_error body", 0, `{"error":{"type":"rate_limit_error"}}`, true},
		{"gemini resource exhausted", 0, "RESOURCE_EXHAUSTED: try later", true},
		{"overloaded stream event", 0, `received error while streaming: {"type":"overloaded_error"}`, true},
		{"quota", http.StatusForbidden, "Quota exceeded for project", true},
		{"too many requests", 0, "Too Many Requests", true},
		{"bad request", http.StatusBadRequest, "invalid model", false},
		{"server error", http.StatusInternalServerError, "internal", false},
	}

	for _, tc := range cases {
		t.Run("should classify "+tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRateLimited(tc.status, tc.detail))
		})
	}
}
