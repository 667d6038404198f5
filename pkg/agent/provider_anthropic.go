package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/hostpilot/internal/tracing"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicProvider streams from the Anthropic Messages API. Tool input
// arrives as input_json_delta fragments keyed by content block index.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries belong to the orchestration loop
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    cfg.Logger.With().Str("provider", KindAnthropic).Logger(),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return KindAnthropic
}

// SendStreaming implements Provider.
func (p *AnthropicProvider) SendStreaming(ctx context.Context, conversation []Message, systemPrompt string, tools []toolexecutor.ToolDefinition, onText TextDeltaFunc) (resp Response) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "provider.stream",
		attribute.String("provider", KindAnthropic),
		attribute.String("model", p.model),
		attribute.Int("messages", len(conversation)),
	)
	defer func() {
		recordCall(KindAnthropic, resp, start)
		span.SetAttributes(attribute.Bool("success", resp.Success), attribute.String("stop_reason", string(resp.StopReason)))
		span.End()
	}()

	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(conversation, systemPrompt, tools))
	defer stream.Close()

	log := tracing.LoggerFromContext(ctx, p.logger)
	acc := newToolCallAccumulator(log)
	var text strings.Builder
	var upstream StopReason

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				idx := int(event.Index)
				acc.setID(idx, event.ContentBlock.ID)
				acc.setName(idx, event.ContentBlock.Name)
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				if onText != nil && event.Delta.Text != "" {
					onText(event.Delta.Text)
				}
			case "input_json_delta":
				acc.appendArgs(int(event.Index), event.Delta.PartialJSON)
			}
		case "content_block_stop":
			acc.finish(int(event.Index))
		case "message_delta":
			upstream = anthropicStopReason(event.Delta.StopReason)
		}
	}

	if err := stream.Err(); err != nil {
		status, detail := anthropicFailure(err)
		tracing.RecordError(span, err)
		log.Warn().Int("status", status).Str("detail", detail).Msg("Anthropic stream failed")
		return failedResponse(text.String(), status, detail)
	}

	resp = Response{Text: text.String(), ToolInvocations: acc.invocations()}
	resp.finalize(upstream)
	return resp
}

func anthropicStopReason(reason anthropic.StopReason) StopReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return StopToolCalls
	case "":
		return ""
	default:
		return StopMoreText
	}
}

func anthropicFailure(err error) (int, string) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		detail := apiErr.RawJSON()
		if detail == "" {
			detail = apiErr.Error()
		}
		return apiErr.StatusCode, detail
	}
	return 0, err.Error()
}

// FormatAssistantMessage implements Provider.
func (p *AnthropicProvider) FormatAssistantMessage(text string, invocations []ToolInvocation) Message {
	return assistantMessage(text, invocations)
}

// FormatToolResultMessages packs all outcomes into one user message of
// tool_result blocks.
func (p *AnthropicProvider) FormatToolResultMessages(outcomes []ToolOutcome) []Message {
	return packedResults(outcomes)
}

func (p *AnthropicProvider) buildParams(conversation []Message, systemPrompt string, tools []toolexecutor.ToolDefinition) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages:  anthropicMessages(conversation),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = anthropicTools(tools)
	}
	return params
}

func anthropicMessages(conversation []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(conversation))
	for i := 0; i < len(conversation); {
		if outcomes, next := collectOutcomes(conversation, i); next > i {
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(outcomes))
			for _, o := range outcomes {
				blocks = append(blocks, anthropic.NewToolResultBlock(o.CallID, o.Payload, !o.Success))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
			i = next
			continue
		}

		m := conversation[i]
		i++
		switch m.Role {
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, inv := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(inv.ID, argumentsOrEmpty(inv.Arguments), inv.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func anthropicTools(tools []toolexecutor.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		schema := toolexecutor.JSONSchema(def)
		input := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
		if required, ok := schema["required"].([]string); ok {
			input.Required = required
		}
		tool := anthropic.ToolUnionParamOfTool(input, def.Name)
		tool.OfTool.Description = anthropic.String(def.Description)
		out = append(out, tool)
	}
	return out
}

func argumentsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
