package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/harun/hostpilot/internal/tracing"
	"github.com/harun/hostpilot/pkg/toolexecutor"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	geminiRoleModel    = "model"
)

// GeminiProvider streams from the Gemini generateContent API. Function calls
// arrive whole and without an id, so ids are synthesized per instance.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
	logger    zerolog.Logger

	idPrefix string
	seq      atomic.Uint64
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(cfg ProviderConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	prefix, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 8)
	if err != nil {
		return nil, fmt.Errorf("generate call id prefix: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &GeminiProvider{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    cfg.Logger.With().Str("provider", KindGemini).Logger(),
		idPrefix:  "call_" + prefix,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return KindGemini
}

// nextCallID is monotonic for the lifetime of the provider.
func (p *GeminiProvider) nextCallID() string {
	return fmt.Sprintf("%s_%d", p.idPrefix, p.seq.Add(1))
}

// SendStreaming implements Provider.
func (p *GeminiProvider) SendStreaming(ctx context.Context, conversation []Message, systemPrompt string, tools []toolexecutor.ToolDefinition, onText TextDeltaFunc) (resp Response) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, tracerName, "provider.stream",
		attribute.String("provider", KindGemini),
		attribute.String("model", p.model),
		attribute.Int("messages", len(conversation)),
	)
	defer func() {
		recordCall(KindGemini, resp, start)
		span.SetAttributes(attribute.Bool("success", resp.Success), attribute.String("stop_reason", string(resp.StopReason)))
		span.End()
	}()

	log := tracing.LoggerFromContext(ctx, p.logger)
	acc := newToolCallAccumulator(log)
	var text strings.Builder
	var upstream StopReason
	calls := 0

	for chunk, err := range p.client.Models.GenerateContentStream(ctx, p.model, geminiContents(conversation), p.buildConfig(systemPrompt, tools)) {
		if err != nil {
			status, detail := geminiFailure(err)
			tracing.RecordError(span, err)
			log.Warn().Int("status", status).Str("detail", detail).Msg("Gemini stream failed")
			return failedResponse(text.String(), status, detail)
		}
		if chunk == nil || len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.FunctionCall != nil {
					acc.complete(calls, p.nextCallID(), part.FunctionCall.Name, part.FunctionCall.Args)
					calls++
					continue
				}
				if part.Text != "" && !part.Thought {
					text.WriteString(part.Text)
					if onText != nil {
						onText(part.Text)
					}
				}
			}
		}
		if cand.FinishReason != "" {
			upstream = StopMoreText
		}
	}

	resp = Response{Text: text.String(), ToolInvocations: acc.invocations()}
	resp.finalize(upstream)
	return resp
}

func geminiFailure(err error) (int, string) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		detail := apiErr.Message
		if apiErr.Status != "" {
			detail = apiErr.Status + ": " + detail
		}
		return apiErr.Code, detail
	}
	return 0, err.Error()
}

// FormatAssistantMessage implements Provider.
func (p *GeminiProvider) FormatAssistantMessage(text string, invocations []ToolInvocation) Message {
	return assistantMessage(text, invocations)
}

// FormatToolResultMessages packs all function responses into one user turn.
func (p *GeminiProvider) FormatToolResultMessages(outcomes []ToolOutcome) []Message {
	return packedResults(outcomes)
}

func (p *GeminiProvider) buildConfig(systemPrompt string, tools []toolexecutor.ToolDefinition) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.maxTokens),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, def := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  geminiSchema(def),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// geminiContents renders the conversation. Synthesized call ids never go on
// the wire; Gemini pairs responses with calls by name and order.
func geminiContents(conversation []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(conversation))
	for i := 0; i < len(conversation); {
		if outcomes, next := collectOutcomes(conversation, i); next > i {
			parts := make([]*genai.Part, 0, len(outcomes))
			for _, o := range outcomes {
				key := "output"
				if !o.Success {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     o.ToolName,
					Response: map[string]any{key: o.Payload},
				}})
			}
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: parts})
			i = next
			continue
		}

		m := conversation[i]
		i++
		switch m.Role {
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, inv := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: inv.Name,
					Args: argumentsOrEmpty(inv.Arguments),
				}})
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: geminiRoleModel, Parts: parts})
			}
		case RoleUser:
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return out
}
