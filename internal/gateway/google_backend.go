package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"cognitivecore/internal/model"
)

// GoogleBackend is the optional Gemini cloud backend for the vision role,
// grounded on the teacher's internal/llm/google client.
type GoogleBackend struct {
	client       *genai.Client
	defaultModel string
}

// NewGoogleBackend builds a backend; returns an error if the genai client
// cannot be constructed (invalid key, transport failure).
func NewGoogleBackend(ctx context.Context, apiKey, defaultModel string, httpClient *http.Client) (*GoogleBackend, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if defaultModel == "" {
		defaultModel = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("init google backend: %w", err)
	}
	return &GoogleBackend{client: client, defaultModel: defaultModel}, nil
}

func (b *GoogleBackend) pickModel(m string) string {
	if strings.TrimSpace(m) != "" {
		return m
	}
	return b.defaultModel
}

func toGenaiContents(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func (b *GoogleBackend) Chat(ctx context.Context, msgs []Message, p Params) (string, error) {
	resp, err := b.client.Models.GenerateContent(ctx, b.pickModel(p.Model), toGenaiContents(msgs), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (b *GoogleBackend) ChatStream(ctx context.Context, msgs []Message, p Params, h StreamHandler) error {
	stream := b.client.Models.GenerateContentStream(ctx, b.pickModel(p.Model), toGenaiContents(msgs), nil)
	var streamErr error
	for resp, err := range stream {
		if err != nil {
			streamErr = err
			break
		}
		if text := resp.Text(); text != "" {
			h.OnDelta(Delta{Text: text})
		}
	}
	return streamErr
}

// ListModels reports the single configured default model: this backend is
// an optional cloud fallback, not a locally-managed loaded-model set.
func (b *GoogleBackend) ListModels(ctx context.Context) ([]string, error) {
	return []string{b.defaultModel}, nil
}
