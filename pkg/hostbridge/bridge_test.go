package hostbridge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/hostpilot/internal/tracing"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func setupTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(Config{Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// blockHost occupies the host goroutine until the returned func is called.
func blockHost(t *testing.T, b *Bridge) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = b.Invoke(context.Background(), "block", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started
	return func() { close(release) }
}

func TestBridge_Invoke(t *testing.T) {
	t.Run("should return call value", func(t *testing.T) {
		b := setupTestBridge(t)

		value, err := b.Invoke(context.Background(), "echo", func(ctx context.Context) (any, error) {
			return "result", nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "result", value)
	})

	t.Run("should propagate call error", func(t *testing.T) {
		b := setupTestBridge(t)
		expectedErr := errors.New("disk unavailable")

		value, err := b.Invoke(context.Background(), "fail", func(ctx context.Context) (any, error) {
			return nil, expectedErr
		}, nil)

		assert.ErrorIs(t, err, expectedErr)
		assert.Nil(t, value)
	})

	t.Run("should convert panics into errors", func(t *testing.T) {
		b := setupTestBridge(t)

		_, err := b.Invoke(context.Background(), "panic", func(ctx context.Context) (any, error) {
			panic("host exploded")
		}, nil)

		assert.ErrorIs(t, err, ErrCallPanicked)
		assert.Contains(t, err.Error(), "host exploded")

		value, err := b.Invoke(context.Background(), "after", func(ctx context.Context) (any, error) {
			return 1, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, value)
	})

	t.Run("should run calls one at a time", func(t *testing.T) {
		b := setupTestBridge(t)

		var active, maxActive int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = b.Invoke(context.Background(), "work", func(ctx context.Context) (any, error) {
					n := atomic.AddInt32(&active, 1)
					for {
						m := atomic.LoadInt32(&maxActive)
						if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					atomic.AddInt32(&active, -1)
					return nil, nil
				}, nil)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	})

	t.Run("should preserve FIFO order", func(t *testing.T) {
		b := setupTestBridge(t)
		release := blockHost(t, b)

		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = b.Invoke(context.Background(), "ordered", func(ctx context.Context) (any, error) {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil, nil
				}, nil)
			}()
			require.Eventually(t, func() bool { return b.QueueDepth() == i+1 }, time.Second, time.Millisecond)
		}
		release()
		wg.Wait()

		assert.Equal(t, []int{0, 1, 2}, order)
	})
}

func TestBridge_Cancellation(t *testing.T) {
	t.Run("should drop queued call when context ends", func(t *testing.T) {
		b := setupTestBridge(t)
		release := blockHost(t, b)
		defer release()

		ctx, cancel := context.WithCancel(context.Background())
		ran := atomic.Bool{}
		done := make(chan error, 1)
		go func() {
			_, err := b.Invoke(ctx, "queued", func(ctx context.Context) (any, error) {
				ran.Store(true)
				return nil, nil
			}, nil)
			done <- err
		}()
		require.Eventually(t, func() bool { return b.QueueDepth() == 1 }, time.Second, time.Millisecond)

		cancel()

		assert.ErrorIs(t, <-done, context.Canceled)
		assert.Equal(t, 0, b.QueueDepth())
		assert.False(t, ran.Load())
	})

	t.Run("should reject already cancelled context", func(t *testing.T) {
		b := setupTestBridge(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := b.Invoke(ctx, "noop", func(ctx context.Context) (any, error) { return nil, nil }, nil)

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should cancel running call context", func(t *testing.T) {
		b := setupTestBridge(t)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := b.Invoke(ctx, "slow", func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestBridge_ResetAndClose(t *testing.T) {
	t.Run("should reject queued calls on reset", func(t *testing.T) {
		b := setupTestBridge(t)
		release := blockHost(t, b)
		defer release()

		done := make(chan error, 1)
		go func() {
			_, err := b.Invoke(context.Background(), "queued", func(ctx context.Context) (any, error) { return nil, nil }, nil)
			done <- err
		}()
		require.Eventually(t, func() bool { return b.QueueDepth() == 1 }, time.Second, time.Millisecond)

		assert.Equal(t, 1, b.Reset())
		assert.ErrorIs(t, <-done, ErrReset)
	})

	t.Run("should refuse calls after close", func(t *testing.T) {
		b := New(Config{Logger: zerolog.Nop()})
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, err := b.Invoke(context.Background(), "late", func(ctx context.Context) (any, error) { return nil, nil }, nil)

		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestBridge_WarnAndEvents(t *testing.T) {
	b := setupTestBridge(t)

	var events []string
	var mu sync.Mutex
	record := func(e Event) {
		mu.Lock()
		events = append(events, e.Type+":"+e.Name)
		mu.Unlock()
	}
	b.On("queued", record)
	b.On("completed", record)

	release := blockHost(t, b)

	waited := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = b.Invoke(context.Background(), "slow", func(ctx context.Context) (any, error) { return nil, nil }, &Options{
			WarnAfter: 10 * time.Millisecond,
			OnWait:    func(wait time.Duration, queuePos int) { waited <- queuePos },
		})
	}()

	select {
	case pos := <-waited:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait was not called")
	}
	release()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "queued:slow")
	assert.Contains(t, events, "completed:slow")
}

func TestBridge_Logging(t *testing.T) {
	t.Run("should tag queued calls with the run context", func(t *testing.T) {
		var out syncBuffer
		b := New(Config{Logger: zerolog.New(&out)})
		t.Cleanup(func() { _ = b.Close() })
		ctx := tracing.WithRunID(tracing.WithTraceID(context.Background(), "trace-1"), "run-1")

		_, err := b.Invoke(ctx, "echo", func(ctx context.Context) (any, error) {
			return nil, nil
		}, nil)
		require.NoError(t, err)

		var queued string
		for _, line := range strings.Split(out.String(), "\n") {
			if strings.Contains(line, "Host call queued") {
				queued = line
			}
		}
		require.NotEmpty(t, queued)
		assert.Contains(t, queued, `"trace_id":"trace-1"`)
		assert.Contains(t, queued, `"run_id":"run-1"`)
		assert.Contains(t, queued, `"call":"echo"`)
	})
}
