package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/hostpilot/internal/tracing"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider streams from the Chat Completions API. Tool call id, name
// and argument fragments may each arrive on a different chunk, keyed only by
// the tool call index.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
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
		model = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    cfg.Logger.With().Str("provider", KindOpenAI).Logger(),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return KindOpenAI
}

// SendStreaming implements Provider.
func (p *OpenAIProvider) SendStreaming(ctx context.Context, conversation []Message, systemPrompt string, tools []toolexecutor.ToolDefinition, onText TextDeltaFunc) (resp Response) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "provider.stream",
		attribute.String("provider", KindOpenAI),
		attribute.String("model", p.model),
		attribute.Int("messages", len(conversation)),
	)
	defer func() {
		recordCall(KindOpenAI, resp, start)
		span.SetAttributes(attribute.Bool("success", resp.Success), attribute.String("stop_reason", string(resp.StopReason)))
		span.End()
	}()

	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(conversation, systemPrompt, tools))
	defer stream.Close()

	log := tracing.LoggerFromContext(ctx, p.logger)
	acc := newToolCallAccumulator(log)
	var text strings.Builder
	var upstream StopReason

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if onText != nil {
					onText(choice.Delta.Content)
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := int(tc.Index)
				acc.setID(idx, tc.ID)
				acc.setName(idx, tc.Function.Name)
				if tc.Function.Arguments != "" {
					acc.appendArgs(idx, tc.Function.Arguments)
				}
			}
			if choice.FinishReason != "" {
				upstream = openAIStopReason(choice.FinishReason)
			}
		}
	}

	if err := stream.Err(); err != nil {
		status, detail := openAIFailure(err)
		tracing.RecordError(span, err)
		log.Warn().Int("status", status).Str("detail", detail).Msg("OpenAI stream failed")
		return failedResponse(text.String(), status, detail)
	}

	resp = Response{Text: text.String(), ToolInvocations: acc.invocations()}
	resp.finalize(upstream)
	return resp
}

// openAIStopReason maps finish_reason, including the legacy function_call.
func openAIStopReason(reason string) StopReason {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolCalls
	default:
		return StopMoreText
	}
}

func openAIFailure(err error) (int, string) {
	var apiErr *openai.Error
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
func (p *OpenAIProvider) FormatAssistantMessage(text string, invocations []ToolInvocation) Message {
	return assistantMessage(text, invocations)
}

// FormatToolResultMessages returns one tool message per outcome.
func (p *OpenAIProvider) FormatToolResultMessages(outcomes []ToolOutcome) []Message {
	return splitResults(outcomes)
}

func (p *OpenAIProvider) buildParams(conversation []Message, systemPrompt string, tools []toolexecutor.ToolDefinition) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(p.model),
		MaxTokens: openai.Int(int64(p.maxTokens)),
		Messages:  openAIMessages(conversation, systemPrompt),
	}
	if len(tools) > 0 {
		params.Tools = openAITools(tools)
	}
	return params
}

func openAIMessages(conversation []Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for i := 0; i < len(conversation); {
		if outcomes, next := collectOutcomes(conversation, i); next > i {
			for _, o := range outcomes {
				out = append(out, openai.ToolMessage(o.Payload, o.CallID))
			}
			i = next
			continue
		}

		m := conversation[i]
		i++
		switch m.Role {
		case RoleAssistant:
			var assistant openai.ChatCompletionAssistantMessageParam
			if m.Content != "" {
				assistant.Content.OfString = param.NewOpt(m.Content)
			}
			for _, inv := range m.ToolCalls {
				args, _ := json.Marshal(argumentsOrEmpty(inv.Arguments))
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: inv.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      inv.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func openAITools(tools []toolexecutor.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, def := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  shared.FunctionParameters(toolexecutor.JSONSchema(def)),
			},
		})
	}
	return out
}
