package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/hostpilot/internal/observability"
	"github.com/harun/hostpilot/internal/tracing"
	"github.com/harun/hostpilot/pkg/session"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

const (
	tracerName = "hostpilot/agent"

	summaryLimit = 500
)

// ToolDispatcher executes tools on behalf of the loop. Failures come back as
// unsuccessful results, never as errors.
type ToolDispatcher interface {
	Execute(ctx context.Context, name string, params map[string]any) toolexecutor.ToolResult
	Definitions() []toolexecutor.ToolDefinition
}

// Config holds runner configuration
type Config struct {
	Provider Provider
	Tools    ToolDispatcher
	Tracker  *session.Tracker

	SystemPrompt string

	// ContextTokenBudget caps the estimated size of each outgoing
	// conversation; zero disables trimming.
	ContextTokenBudget int
	CharsPerToken      int

	// Backoff defaults to DefaultRateLimitDelays.
	Backoff *RateLimitBackoff

	Logger zerolog.Logger
}

// Runner drives the tool-calling loop. There is no cap on iterations; a run
// ends on a response without tool calls, a terminal error or cancellation.
type Runner struct {
	providerMu sync.RWMutex
	provider   Provider

	tools        ToolDispatcher
	tracker      *session.Tracker
	systemPrompt string
	window       *ContextWindow
	backoff      *RateLimitBackoff
	logger       zerolog.Logger
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Tools == nil {
		return nil, ErrNoDispatcher
	}
	if cfg.Tracker == nil {
		return nil, ErrNoTracker
	}

	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewRateLimitBackoff(nil)
	}
	logger := cfg.Logger.With().Str("component", "agent").Logger()
	if backoff.OnRetry == nil {
		backoff.OnRetry = func(attempt int, delay time.Duration, detail string) {
			logger.Warn().
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("detail", detail).
				Msg("Rate limited, backing off")
		}
	}

	return &Runner{
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		tracker:      cfg.Tracker,
		systemPrompt: cfg.SystemPrompt,
		window:       NewContextWindow(cfg.ContextTokenBudget, cfg.CharsPerToken, logger),
		backoff:      backoff,
		logger:       logger,
	}, nil
}

// Provider returns the active provider.
func (r *Runner) Provider() Provider {
	r.providerMu.RLock()
	defer r.providerMu.RUnlock()
	return r.provider
}

// SetProvider swaps the provider. A running turn keeps the provider it
// started with; the swap applies from the next turn.
func (r *Runner) SetProvider(p Provider) {
	if p == nil {
		return
	}
	r.providerMu.Lock()
	r.provider = p
	r.providerMu.Unlock()
	r.logger.Info().Str("provider", p.Name()).Msg("Provider switched")
}

// Run handles one user message on conv until the model stops calling tools.
// A resume phrase continues an interrupted task when the interruption is
// recoverable; anything else starts a new task.
func (r *Runner) Run(ctx context.Context, conv *Conversation, prompt string, onText TextDeltaFunc) (result RunResult, err error) {
	if strings.TrimSpace(prompt) == "" {
		return RunResult{}, ErrEmptyPrompt
	}

	conv.run.Lock()
	defer conv.run.Unlock()

	providerName := r.Provider().Name()
	ctx = tracing.NewRunContext(ctx, conv.ID())
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run",
		attribute.String("conversation", conv.ID()),
		attribute.String("provider", providerName),
	)
	start := time.Now()
	defer func() {
		observability.RecordRun(providerName, runOutcome(err), time.Since(start))
		span.SetAttributes(attribute.Int("turns", result.Turns), attribute.Int("tool_calls", result.ToolCalls))
		tracing.RecordError(span, err)
		span.End()
	}()

	task, content, resumed := r.beginTask(prompt)
	ctx = tracing.WithTaskID(ctx, task.ID)
	result = RunResult{TaskID: task.ID, Resumed: resumed}

	action := "task_started"
	if resumed {
		action = "task_resumed"
	}
	observability.RecordTaskAudit(ctx, action, task.ID, "success", map[string]interface{}{
		"conversation": conv.ID(),
		"provider":     providerName,
	})

	log := tracing.LoggerFromContext(ctx, r.logger)
	log.Info().Bool("resumed", resumed).Msg("Run started")

	conv.append(Message{Role: RoleUser, Content: content})

	for turn := 1; ; turn++ {
		if cerr := ctx.Err(); cerr != nil {
			return result, r.cancelled(ctx, task.ID, cerr)
		}

		provider := r.Provider()
		resp, terr := r.turn(ctx, conv, provider, turn, onText)
		if terr != nil {
			return result, terr
		}
		result.Turns = turn
		observability.RecordTurn(provider.Name())

		conv.append(provider.FormatAssistantMessage(resp.Text, resp.ToolInvocations))

		if len(resp.ToolInvocations) == 0 {
			if cerr := r.tracker.CompleteTask(truncateSummary(resp.Text)); cerr != nil {
				log.Warn().Err(cerr).Msg("Failed to complete task")
			}
			observability.RecordTaskAudit(ctx, "task_completed", task.ID, "success", map[string]interface{}{
				"turns":      result.Turns,
				"tool_calls": result.ToolCalls,
			})
			log.Info().Int("turns", result.Turns).Int("tool_calls", result.ToolCalls).Msg("Run completed")
			result.Text = resp.Text
			return result, nil
		}

		outcomes, dispatched, derr := r.dispatchAll(ctx, task.ID, resp.ToolInvocations)
		result.ToolCalls += dispatched
		// every invocation gets an outcome, even when the batch was cut short
		conv.append(provider.FormatToolResultMessages(outcomes)...)
		if derr != nil {
			return result, r.cancelled(ctx, task.ID, derr)
		}
	}
}

func (r *Runner) beginTask(prompt string) (session.TaskState, string, bool) {
	if IsResumePhrase(prompt) && r.tracker.HasRecoverableInterrupt() {
		summary := r.tracker.GenerateContextSummary()
		task, err := r.tracker.ResumeTask()
		if err == nil {
			return task, summary + "\n\n" + prompt, true
		}
		r.logger.Warn().Err(err).Msg("Resume failed, starting a new task")
	}
	return r.tracker.StartTask(prompt), prompt, false
}

// turn makes one upstream call, with rate-limit retries.
func (r *Runner) turn(ctx context.Context, conv *Conversation, provider Provider, turn int, onText TextDeltaFunc) (Response, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.turn",
		attribute.Int("turn", turn),
		attribute.String("provider", provider.Name()),
	)
	defer span.End()

	log := tracing.LoggerFromContext(ctx, r.logger).With().Int("turn", turn).Logger()
	taskID := tracing.GetTaskID(ctx)

	outgoing, trimmed := r.window.Fit(conv.Messages())
	span.SetAttributes(attribute.Bool("trimmed", trimmed), attribute.Int("messages", len(outgoing)))
	tools := r.tools.Definitions()

	resp, retries, err := r.backoff.Do(ctx, provider.Name(), func(ctx context.Context) Response {
		return provider.SendStreaming(ctx, outgoing, r.systemPrompt, tools, onText)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return resp, r.cancelled(ctx, taskID, err)
	}
	if resp.Success {
		log.Debug().
			Int("tool_calls", len(resp.ToolInvocations)).
			Str("stop_reason", string(resp.StopReason)).
			Msg("Turn completed")
		return resp, nil
	}

	if isRateLimited(resp.StatusCode, resp.ErrorDetail) {
		r.tracker.RecordError(session.KindRateLimit, resp.ErrorDetail, true)
		progress := r.tracker.ProgressReport()
		observability.RecordTaskAudit(ctx, "task_interrupted", taskID, "interrupted", map[string]interface{}{
			"reason":  string(KindRateLimit),
			"retries": retries,
		})
		log.Error().Int("retries", retries).Str("detail", resp.ErrorDetail).Msg("Rate limit retries exhausted")
		e := &Error{
			Kind:    KindRateLimit,
			Message: fmt.Sprintf("upstream still rate limited after %d retries. %s", retries, progress),
			Err:     fmt.Errorf("%w: %s", ErrRateLimitExhausted, resp.ErrorDetail),
		}
		tracing.RecordError(span, e)
		return resp, e
	}

	r.tracker.RecordError(string(KindUpstreamError), resp.ErrorDetail, false)
	if ferr := r.tracker.FailTask(resp.ErrorDetail); ferr != nil {
		log.Warn().Err(ferr).Msg("Failed to mark task failed")
	}
	observability.RecordTaskAudit(ctx, "task_failed", taskID, "failure", map[string]interface{}{
		"status": resp.StatusCode,
	})
	log.Error().Int("status", resp.StatusCode).Str("detail", resp.ErrorDetail).Msg("Upstream call failed")
	e := &Error{
		Kind:    KindUpstreamError,
		Message: fmt.Sprintf("%s call failed (status %d)", provider.Name(), resp.StatusCode),
		Err:     fmt.Errorf("%w: %s", ErrUpstream, resp.ErrorDetail),
	}
	tracing.RecordError(span, e)
	return resp, e
}

// dispatchAll runs invocations one at a time in response order. If ctx is
// cancelled part way, the remaining invocations get failed outcomes.
func (r *Runner) dispatchAll(ctx context.Context, taskID string, invocations []ToolInvocation) ([]ToolOutcome, int, error) {
	outcomes := make([]ToolOutcome, 0, len(invocations))
	for i, inv := range invocations {
		if err := ctx.Err(); err != nil {
			for _, skipped := range invocations[i:] {
				outcomes = append(outcomes, ToolOutcome{
					CallID:   skipped.ID,
					ToolName: skipped.Name,
					Success:  false,
					Payload:  "Error: cancelled before dispatch",
				})
			}
			return outcomes, i, err
		}
		outcomes = append(outcomes, r.dispatch(ctx, taskID, inv))
	}
	return outcomes, len(invocations), nil
}

func (r *Runner) dispatch(ctx context.Context, taskID string, inv ToolInvocation) ToolOutcome {
	log := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("tool", inv.Name).
		Str("call_id", inv.ID).
		Logger()

	if _, err := r.tracker.AddStep(inv.Name); err != nil {
		log.Warn().Err(err).Msg("Failed to add step")
	}

	args := argumentsOrEmpty(inv.Arguments)
	execCtx := toolexecutor.ContextWithExecContext(ctx, &toolexecutor.ExecutionContext{
		CallID:   inv.ID,
		ToolName: inv.Name,
		TaskID:   taskID,
	})
	res := r.tools.Execute(execCtx, inv.Name, args)
	payload := res.Payload()

	stepStatus := session.StepCompleted
	auditStatus := "success"
	if !res.Success {
		stepStatus = session.StepFailed
		auditStatus = "failure"
		log.Warn().Str("error_kind", res.ErrorKind).Str("error", res.Error).Msg("Tool reported failure")
	}

	if err := r.tracker.UpdateCurrentStep(stepStatus, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to update step")
	}
	r.tracker.RecordToolCall(session.ToolCallRecord{
		ToolName:  inv.Name,
		Arguments: args,
		Result:    payload,
		Success:   res.Success,
	})
	if res.Success {
		r.tracker.CacheData(inv.Name+"_result", payload)
	}

	observability.RecordToolAudit(ctx, inv.Name, taskID, auditStatus, map[string]interface{}{
		"call_id":    inv.ID,
		"error_kind": res.ErrorKind,
	})

	return ToolOutcome{
		CallID:   inv.ID,
		ToolName: inv.Name,
		Success:  res.Success,
		Payload:  payload,
	}
}

// cancelled interrupts the task. The cancellation is not recoverable, so a
// later resume phrase starts a new task.
func (r *Runner) cancelled(ctx context.Context, taskID string, cause error) error {
	r.tracker.RecordError(string(KindCancelled), cause.Error(), false)
	if err := r.tracker.InterruptTask("user_cancelled"); err != nil {
		r.logger.Debug().Err(err).Msg("Nothing to interrupt")
	}
	observability.RecordTaskAudit(context.WithoutCancel(ctx), "task_interrupted", taskID, "interrupted", map[string]interface{}{
		"reason": "user_cancelled",
	})
	log := tracing.LoggerFromContext(ctx, r.logger)
	log.Info().Msg("Run cancelled")
	return &Error{Kind: KindCancelled, Message: "run cancelled", Err: cause}
}

func runOutcome(err error) string {
	switch KindOf(err) {
	case "":
		if err != nil {
			return "failed"
		}
		return "completed"
	case KindCancelled, KindRateLimit:
		return "interrupted"
	default:
		return "failed"
	}
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= summaryLimit {
		return s
	}
	return s[:summaryLimit] + "..."
}
