package agent

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a terminal turn failure.
type ErrorKind string

const (
	KindRateLimit        ErrorKind = "rate_limit"
	KindUpstreamError    ErrorKind = "upstream_error"
	KindToolError        ErrorKind = "tool_error"
	KindCompilationError ErrorKind = "compilation_error"
	KindRuntimeError     ErrorKind = "runtime_error"
	KindCancelled        ErrorKind = "cancelled"
)

var (
	// ErrRateLimitExhausted is wrapped when every backoff delay was used up.
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

	// ErrUpstream is wrapped for non rate-limit provider failures.
	ErrUpstream = errors.New("upstream call failed")

	ErrNoProvider   = errors.New("no provider configured")
	ErrNoDispatcher = errors.New("no tool dispatcher configured")
	ErrNoTracker    = errors.New("no session tracker configured")
	ErrEmptyPrompt  = errors.New("prompt is empty")

	ErrUnknownProvider = errors.New("unknown provider kind")
)

// Error is the terminal error of a turn. Message is meant for the user.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var rateLimitKeywords = []string{
	"rate_limit",
	"rate limit",
	"too many requests",
	"resource_exhausted",
	"overloaded",
	"quota",
}

// isRateLimited recognizes a rate-limit signal from a failed upstream call.
// 529 is Anthropic's overloaded status.
func isRateLimited(status int, detail string) bool {
	if status == http.StatusTooManyRequests || status == 529 {
		return true
	}
	lower := strings.ToLower(detail)
	for _, kw := range rateLimitKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
