package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"cognitivecore/internal/model"
)

// OpenAIBackend talks to any OpenAI-compatible HTTP surface: local
// llama.cpp/vLLM/MLX servers pointed at via BaseURL, or the OpenAI API
// itself, grounded on the teacher's internal/llm/openai_client.go
// option.WithBaseURL pattern.
type OpenAIBackend struct {
	client     sdk.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	embedModel string
}

// NewOpenAIBackend builds a backend. baseURL empty means the public OpenAI
// API; otherwise it targets a local OpenAI-compatible server.
func NewOpenAIBackend(baseURL, apiKey, embedModel string, httpClient *http.Client) *OpenAIBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{
		client:     sdk.NewClient(opts...),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		embedModel: embedModel,
	}
}

func toSDKMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// Chat issues a single, non-streaming chat completion.
func (b *OpenAIBackend) Chat(ctx context.Context, msgs []Message, p Params) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(p.Model),
		Messages: toSDKMessages(msgs),
	}
	if p.Temperature > 0 {
		params.Temperature = param.NewOpt(p.Temperature)
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(p.MaxTokens))
	}
	comp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return comp.Choices[0].Message.Content, nil
}

// ChatStream streams raw token deltas through h; think-tag splitting is
// handled one layer up by the Gateway's thinkFilter, so this feeds raw
// content straight through OnDelta.
func (b *OpenAIBackend) ChatStream(ctx context.Context, msgs []Message, p Params, h StreamHandler) error {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(p.Model),
		Messages: toSDKMessages(msgs),
	}
	if p.Temperature > 0 {
		params.Temperature = param.NewOpt(p.Temperature)
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(p.MaxTokens))
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(Delta{Text: delta.Content})
		}
	}
	return stream.Err()
}

// ListModels lists the models the configured endpoint currently serves.
func (b *OpenAIBackend) ListModels(ctx context.Context) ([]string, error) {
	models, err := b.client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models.Data))
	for _, m := range models.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates a single embedding vector over raw HTTP, matching the
// wire shape the teacher's embeddings client used against local embedding
// servers that don't implement the full SDK embeddings surface.
func (b *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}
	reqBody := embeddingRequest{Input: []string{text}, Model: b.embedModel, EncodingFormat: "float"}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimSuffix(b.baseURL, "/") + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := b.httpClient.Do(httpReq.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding backend returned status %d", resp.StatusCode)
	}
	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return parsed.Data[0].Embedding, nil
}
