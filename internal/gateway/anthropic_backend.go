package gateway

import (
	"context"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"cognitivecore/internal/model"
)

// AnthropicBackend is the optional cloud fallback for the large/vision
// roles when a remote Claude endpoint is configured as a fallback
// candidate, grounded on the teacher's internal/llm/anthropic client.
type AnthropicBackend struct {
	sdk          anthropic.Client
	defaultModel string
}

// NewAnthropicBackend builds a backend bound to a single model; multiple
// AnthropicBackend instances with different models can be registered
// against different roles.
func NewAnthropicBackend(apiKey, defaultModel string, httpClient *http.Client) *AnthropicBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if defaultModel == "" {
		defaultModel = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicBackend{sdk: anthropic.NewClient(opts...), defaultModel: defaultModel}
}

func (b *AnthropicBackend) pickModel(m string) string {
	if strings.TrimSpace(m) != "" {
		return m
	}
	return b.defaultModel
}

func toAnthropicMessages(msgs []Message) (system string, out []anthropic.MessageParam) {
	var sys []string
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			sys = append(sys, m.Content)
		case model.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(sys, "\n"), out
}

func (b *AnthropicBackend) Chat(ctx context.Context, msgs []Message, p Params) (string, error) {
	sys, converted := toAnthropicMessages(msgs)
	maxTokens := int64(p.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.pickModel(p.Model)),
		Messages:  converted,
		MaxTokens: maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	resp, err := b.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), nil
}

func (b *AnthropicBackend) ChatStream(ctx context.Context, msgs []Message, p Params, h StreamHandler) error {
	sys, converted := toAnthropicMessages(msgs)
	maxTokens := int64(p.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.pickModel(p.Model)),
		Messages:  converted,
		MaxTokens: maxTokens,
	}
	if sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	stream := b.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		event := stream.Current()
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				h.OnDelta(Delta{Text: delta.Text})
			}
		}
	}
	return stream.Err()
}

// ListModels returns the default configured model only: the Anthropic API
// has no "loaded models" concept, so this backend reports the one model it
// was configured to use.
func (b *AnthropicBackend) ListModels(ctx context.Context) ([]string, error) {
	return []string{b.defaultModel}, nil
}
