package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/hostpilot/internal/observability"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

// Provider kinds.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
	KindGemini    = "gemini"
)

const defaultMaxTokens = 4096

// Provider adapts one upstream streaming protocol to the neutral model.
type Provider interface {
	// Name returns the provider kind.
	Name() string

	// SendStreaming runs one upstream call. onText is called synchronously
	// for every text fragment. Failures come back as Response.Success=false.
	SendStreaming(ctx context.Context, conversation []Message, systemPrompt string, tools []toolexecutor.ToolDefinition, onText TextDeltaFunc) Response

	// FormatAssistantMessage records a completed model turn.
	FormatAssistantMessage(text string, invocations []ToolInvocation) Message

	// FormatToolResultMessages shapes outcomes the way the upstream expects
	// them to be fed back.
	FormatToolResultMessages(outcomes []ToolOutcome) []Message
}

// ProviderConfig selects and configures an adapter.
type ProviderConfig struct {
	ID         string
	Kind       string
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewProvider builds the adapter for cfg.Kind.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	switch cfg.Kind {
	case KindAnthropic:
		return NewAnthropicProvider(cfg), nil
	case KindOpenAI:
		return NewOpenAIProvider(cfg), nil
	case KindGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Kind)
	}
}

// recordCall feeds the upstream call metrics.
func recordCall(provider string, resp Response, start time.Time) {
	status := "success"
	if !resp.Success {
		status = "error"
		if isRateLimited(resp.StatusCode, resp.ErrorDetail) {
			status = "rate_limited"
		}
	}
	observability.RecordUpstreamCall(provider, status, time.Since(start))
}

// collectOutcomes flattens tool outcomes from either message shape so every
// adapter can replay a conversation built by another one.
func collectOutcomes(msgs []Message, start int) ([]ToolOutcome, int) {
	var out []ToolOutcome
	i := start
	for ; i < len(msgs); i++ {
		m := msgs[i]
		if len(m.ToolResults) == 0 || (m.Role != RoleTool && m.Role != RoleUser) {
			break
		}
		out = append(out, m.ToolResults...)
	}
	return out, i
}

func assistantMessage(text string, invocations []ToolInvocation) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   text,
		ToolCalls: append([]ToolInvocation(nil), invocations...),
	}
}

// packedResults puts all outcomes in a single user message.
func packedResults(outcomes []ToolOutcome) []Message {
	if len(outcomes) == 0 {
		return nil
	}
	return []Message{{
		Role:        RoleUser,
		ToolResults: append([]ToolOutcome(nil), outcomes...),
	}}
}

// splitResults puts each outcome in its own tool message.
func splitResults(outcomes []ToolOutcome) []Message {
	out := make([]Message, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, Message{Role: RoleTool, ToolResults: []ToolOutcome{o}})
	}
	return out
}
