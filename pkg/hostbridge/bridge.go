package hostbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/hostpilot/internal/observability"
	"github.com/harun/hostpilot/internal/tracing"
)

const tracerName = "hostpilot/hostbridge"

var (
	// ErrClosed is returned for calls made after Close or still queued when it ran
	ErrClosed = errors.New("host bridge closed")

	// ErrReset is returned for calls dropped by Reset
	ErrReset = errors.New("host bridge reset")

	// ErrCallPanicked wraps a panic raised by a call
	ErrCallPanicked = errors.New("host call panicked")
)

// Call is a unit of host work.
type Call func(ctx context.Context) (any, error)

// Options tunes a single invocation.
type Options struct {
	// WarnAfter logs a warning (and calls OnWait) when the call is still
	// queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// Config configures a Bridge.
type Config struct {
	Logger zerolog.Logger
}

// Event represents a bridge event
type Event struct {
	Type   string // "queued" or "completed"
	CallID string
	Name   string
	Data   map[string]any
}

// EventHandler is a function that handles bridge events
type EventHandler func(event Event)

type callRecord struct {
	id         string
	name       string
	call       Call
	ctx        context.Context
	enqueuedAt time.Time
	options    Options
	result     chan callResult
}

type callResult struct {
	value any
	err   error
}

// Bridge owns the host goroutine.
type Bridge struct {
	logger zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*callRecord
	running *callRecord
	seq     int
	closed  bool
	stopped chan struct{}

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New starts a bridge and its host goroutine.
func New(cfg Config) *Bridge {
	observability.EnsureRegistered()

	b := &Bridge{
		logger:        cfg.Logger,
		stopped:       make(chan struct{}),
		eventHandlers: make(map[string][]EventHandler),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.loop()
	return b
}

// Invoke queues call for the host goroutine and waits for its result. If ctx
// ends first, Invoke returns ctx.Err(); a call that already started sees the
// same cancellation through its own context.
func (b *Bridge) Invoke(ctx context.Context, name string, call Call, options *Options) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "hostbridge.invoke", attribute.String("call", name))
	defer span.End()

	if err := ctx.Err(); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	opts := Options{}
	if options != nil {
		opts = *options
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.seq++
	record := &callRecord{
		id:         fmt.Sprintf("host-%d", b.seq),
		name:       name,
		call:       call,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan callResult, 1),
	}
	b.queue = append(b.queue, record)
	depth := len(b.queue)
	b.cond.Signal()
	b.mu.Unlock()

	observability.SetHostQueueDepth(depth)
	log := tracing.LoggerFromContext(ctx, b.logger)
	log.Debug().
		Str("callId", record.id).
		Str("call", name).
		Int("queueDepth", depth).
		Msg("Host call queued")
	b.emit(Event{Type: "queued", CallID: record.id, Name: name, Data: map[string]any{"queueDepth": depth}})

	if opts.WarnAfter > 0 {
		go b.startWarnTimer(record)
	}

	select {
	case res := <-record.result:
		tracing.RecordError(span, res.err)
		return res.value, res.err
	case <-ctx.Done():
		if b.dequeue(record) {
			b.logger.Debug().Str("callId", record.id).Msg("Host call abandoned before start")
		}
		tracing.RecordError(span, ctx.Err())
		return nil, ctx.Err()
	}
}

// dequeue removes a still-queued record. It reports whether it was found.
func (b *Bridge) dequeue(record *callRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.queue {
		if r == record {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			observability.SetHostQueueDepth(len(b.queue))
			return true
		}
	}
	return false
}

func (b *Bridge) loop() {
	defer close(b.stopped)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		record := b.queue[0]
		b.queue = b.queue[1:]
		b.running = record
		depth := len(b.queue)
		b.mu.Unlock()

		observability.SetHostQueueDepth(depth)
		b.execute(record)

		b.mu.Lock()
		b.running = nil
		b.mu.Unlock()
	}
}

func (b *Bridge) execute(record *callRecord) {
	logger := tracing.LoggerFromContext(record.ctx, b.logger)
	start := time.Now()

	var value any
	var err error
	if cerr := record.ctx.Err(); cerr != nil {
		err = cerr
	} else {
		var pc panics.Catcher
		pc.Try(func() { value, err = record.call(record.ctx) })
		if r := pc.Recovered(); r != nil {
			value, err = nil, fmt.Errorf("%w: %v", ErrCallPanicked, r.Value)
			logger.Error().Str("callId", record.id).Str("stack", string(r.Stack)).Msg("Host call panicked")
		}
	}
	duration := time.Since(start)

	record.result <- callResult{value: value, err: err}

	if err != nil {
		logger.Warn().Str("callId", record.id).Str("call", record.name).Dur("duration", duration).Err(err).Msg("Host call failed")
	} else {
		logger.Debug().Str("callId", record.id).Str("call", record.name).Dur("duration", duration).Msg("Host call completed")
	}
	observability.RecordHostInvocation(err == nil)

	b.emit(Event{
		Type:   "completed",
		CallID: record.id,
		Name:   record.name,
		Data: map[string]any{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})
}

func (b *Bridge) startWarnTimer(record *callRecord) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		b.mu.Lock()
		queuePos := -1
		for i, r := range b.queue {
			if r == record {
				queuePos = i
				break
			}
		}
		b.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			b.logger.Warn().
				Str("callId", record.id).
				Str("call", record.name).
				Dur("wait", wait).
				Int("queuePos", queuePos).
				Msg("Host call waiting longer than expected")
			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-record.ctx.Done():
	case <-b.stopped:
	}
}

// QueueDepth returns the number of calls waiting to start.
func (b *Bridge) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Busy reports whether a call is currently executing.
func (b *Bridge) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running != nil
}

// Reset rejects every queued call with ErrReset and returns how many were dropped.
func (b *Bridge) Reset() int {
	b.mu.Lock()
	dropped := b.rejectQueued(ErrReset)
	b.mu.Unlock()

	b.logger.Info().Int("dropped", dropped).Msg("Host bridge reset")
	observability.SetHostQueueDepth(0)
	return dropped
}

func (b *Bridge) rejectQueued(err error) int {
	count := len(b.queue)
	for _, record := range b.queue {
		record.result <- callResult{err: err}
	}
	b.queue = nil
	return count
}

// Close rejects queued calls, waits for the running one and stops the host goroutine.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.stopped
		return nil
	}
	b.closed = true
	b.rejectQueued(ErrClosed)
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.stopped
	observability.SetHostQueueDepth(0)
	return nil
}

// On registers an event handler for a specific event type
func (b *Bridge) On(eventType string, handler EventHandler) {
	b.eventMu.Lock()
	defer b.eventMu.Unlock()

	b.eventHandlers[eventType] = append(b.eventHandlers[eventType], handler)
}

func (b *Bridge) emit(event Event) {
	b.eventMu.RLock()
	handlers := b.eventHandlers[event.Type]
	b.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
