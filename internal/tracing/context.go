package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey identifies one Runner.Run call
	RunIDKey ContextKey = "run_id"
	// TaskIDKey identifies the tracked task a run belongs to
	TaskIDKey ContextKey = "task_id"
	// ConversationKey identifies the conversation working set
	ConversationKey ContextKey = "conversation"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID      string
	RunID        string
	TaskID       string
	Conversation string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a short run ID. It falls back to a uuid if the
// random source fails.
func NewRunID() string {
	id, err := gonanoid.New()
	if err != nil {
		return uuid.New().String()
	}
	return id
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithTaskID adds a task ID to the context
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// WithConversation adds a conversation ID to the context
func WithConversation(ctx context.Context, conversation string) context.Context {
	return context.WithValue(ctx, ConversationKey, conversation)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string { return stringValue(ctx, RunIDKey) }

// GetTaskID retrieves the task ID from the context
func GetTaskID(ctx context.Context) string { return stringValue(ctx, TaskIDKey) }

// GetConversation retrieves the conversation ID from the context
func GetConversation(ctx context.Context) string { return stringValue(ctx, ConversationKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:      GetTraceID(ctx),
		RunID:        GetRunID(ctx),
		TaskID:       GetTaskID(ctx),
		Conversation: GetConversation(ctx),
	}
}

// NewRequestContext returns ctx with a fresh trace ID unless one is already set.
func NewRequestContext(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext creates a context for one orchestration run of a conversation.
func NewRunContext(ctx context.Context, conversation string) context.Context {
	ctx = NewRequestContext(ctx)
	ctx = WithRunID(ctx, NewRunID())
	if conversation != "" {
		ctx = WithConversation(ctx, conversation)
	}
	return ctx
}
