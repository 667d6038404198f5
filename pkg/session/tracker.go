package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// KindRateLimit is the error kind that forces an interruption in RecordError.
const KindRateLimit = "rate_limit"

const (
	defaultHistorySize = 100
	summaryResultLimit = 200
)

// Config configures a Tracker.
type Config struct {
	// HistorySize bounds the tool-call history ring.
	HistorySize int
	Logger      zerolog.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Tracker records task progress for resume. Construct one per process and
// inject it where needed; it is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	current   *TaskState
	history   *historyRing
	cache     *DataCache
	lastError *ErrorRecord
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Tracker.
func New(cfg Config) *Tracker {
	size := cfg.HistorySize
	if size <= 0 {
		size = defaultHistorySize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		history: newHistoryRing(size),
		cache:   newDataCache(),
		logger:  cfg.Logger.With().Str("component", "session").Logger(),
		now:     now,
	}
}

// StartTask replaces the current task with a fresh one. Cached data and the
// last error belong to the replaced task and are cleared; tool history is kept.
func (t *Tracker) StartTask(description string) TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.current = &TaskState{
		ID:          uuid.New().String(),
		Description: description,
		Status:      StatusInProgress,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	t.cache.clear()
	t.lastError = nil

	t.logger.Debug().Str("task_id", t.current.ID).Msg("Task started")
	return t.current.clone()
}

// ResumeTask moves an interrupted task back to in progress.
func (t *Tracker) ResumeTask() (TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return TaskState{}, ErrNoTask
	}
	if t.current.Status != StatusInterrupted {
		return TaskState{}, fmt.Errorf("%w: status %s", ErrNotInterrupted, t.current.Status)
	}

	t.current.Status = StatusInProgress
	t.current.InterruptReason = ""
	t.current.UpdatedAt = t.now()
	t.logger.Debug().Str("task_id", t.current.ID).Msg("Task resumed")
	return t.current.clone(), nil
}

// Current returns a copy of the current task.
func (t *Tracker) Current() (TaskState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return TaskState{}, false
	}
	return t.current.clone(), true
}

func (t *Tracker) mutableTask() (*TaskState, error) {
	if t.current == nil {
		return nil, ErrNoTask
	}
	if t.current.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %s", ErrTaskFinished, t.current.Status)
	}
	return t.current, nil
}

// AddStep appends a new in-progress step to the current task and returns its index.
func (t *Tracker) AddStep(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.mutableTask()
	if err != nil {
		return 0, err
	}

	now := t.now()
	index := len(task.Steps) + 1
	task.Steps = append(task.Steps, Step{
		Index:     index,
		Name:      name,
		Status:    StepInProgress,
		StartedAt: now,
	})
	task.UpdatedAt = now
	return index, nil
}

// UpdateCurrentStep sets the status and result of the latest step.
func (t *Tracker) UpdateCurrentStep(status StepStatus, result string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.mutableTask()
	if err != nil {
		return err
	}
	if len(task.Steps) == 0 {
		return ErrNoStep
	}

	now := t.now()
	step := &task.Steps[len(task.Steps)-1]
	step.Status = status
	step.Result = result
	if status != StepInProgress {
		step.EndedAt = now
	}
	task.UpdatedAt = now
	return nil
}

// CompleteTask marks the current task completed.
func (t *Tracker) CompleteTask(summary string) error {
	return t.finish(StatusCompleted, summary)
}

// FailTask marks the current task failed.
func (t *Tracker) FailTask(reason string) error {
	return t.finish(StatusFailed, reason)
}

func (t *Tracker) finish(status TaskStatus, summary string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.mutableTask()
	if err != nil {
		return err
	}
	task.Status = status
	task.Summary = summary
	task.UpdatedAt = t.now()

	t.logger.Debug().Str("task_id", task.ID).Str("status", string(status)).Msg("Task finished")
	return nil
}

// InterruptTask marks the current task interrupted.
func (t *Tracker) InterruptTask(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interruptLocked(reason)
}

func (t *Tracker) interruptLocked(reason string) error {
	task, err := t.mutableTask()
	if err != nil {
		return err
	}
	task.Status = StatusInterrupted
	task.InterruptReason = reason
	task.UpdatedAt = t.now()

	t.logger.Info().Str("task_id", task.ID).Str("reason", reason).Msg("Task interrupted")
	return nil
}

// RecordToolCall appends rec to the bounded tool history.
func (t *Tracker) RecordToolCall(rec ToolCallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}
	t.history.push(rec)
}

// ToolHistory returns the retained tool calls, oldest first.
func (t *Tracker) ToolHistory() []ToolCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.list()
}

// CacheData stores value under key, replacing any previous value.
func (t *Tracker) CacheData(key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.set(key, value)
}

// GetCachedData returns the value stored under key.
func (t *Tracker) GetCachedData(key string) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.get(key)
}

// CachedEntries returns the number of cached values.
func (t *Tracker) CachedEntries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.len()
}

// RecordError stores the last error. A rate-limit error also interrupts the
// current task when it is still running.
func (t *Tracker) RecordError(kind, message string, recoverable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastError = &ErrorRecord{
		Kind:        kind,
		Message:     message,
		Recoverable: recoverable,
		At:          t.now(),
	}

	if kind == KindRateLimit && t.current != nil && !t.current.Status.Terminal() {
		_ = t.interruptLocked(KindRateLimit + ": " + message)
	}
}

// LastError returns the last recorded error.
func (t *Tracker) LastError() (ErrorRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastError == nil {
		return ErrorRecord{}, false
	}
	return *t.lastError, true
}

// HasRecoverableInterrupt reports whether the current task is interrupted and
// the last recorded error was recoverable.
func (t *Tracker) HasRecoverableInterrupt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current != nil &&
		t.current.Status == StatusInterrupted &&
		t.lastError != nil &&
		t.lastError.Recoverable
}

// GenerateContextSummary renders the current task's steps and cached keys
// for injection into a resumed conversation.
func (t *Tracker) GenerateContextSummary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return ""
	}
	task := t.current

	var b strings.Builder
	b.WriteString("[Resuming interrupted task]\n")
	fmt.Fprintf(&b, "Task: %s\n", task.Description)
	fmt.Fprintf(&b, "Status: %s", task.Status)
	if task.InterruptReason != "" {
		fmt.Fprintf(&b, " (%s)", task.InterruptReason)
	}
	b.WriteString("\n")

	if len(task.Steps) == 0 {
		b.WriteString("Steps: none recorded\n")
	} else {
		b.WriteString("Steps:\n")
		for _, s := range task.Steps {
			fmt.Fprintf(&b, "%d. [%s] %s", s.Index, s.Status, s.Name)
			if s.Result != "" {
				fmt.Fprintf(&b, " -> %s", truncate(s.Result, summaryResultLimit))
			}
			b.WriteString("\n")
		}
	}

	if t.cache.len() > 0 {
		b.WriteString("Cached results:\n")
		for _, key := range t.cache.keys() {
			v, _ := t.cache.get(key)
			fmt.Fprintf(&b, "- %s (%d bytes)\n", key, sizeOf(v))
		}
	}

	b.WriteString("Completed steps must not be repeated; continue from the first unfinished step.")
	return b.String()
}

// ProgressReport states how much progress is preserved and how to resume.
func (t *Tracker) ProgressReport() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	steps := 0
	if t.current != nil {
		steps = t.current.CompletedSteps()
	}
	return fmt.Sprintf(
		"Progress preserved: %d completed steps, %d cached entries. Send \"continue\" to resume the task.",
		steps, t.cache.len(),
	)
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
