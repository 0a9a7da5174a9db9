package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cognitivecore/internal/model"
)

// Gateway is the narrow slice of the Model Gateway fact extraction and
// summarization need: a single non-streaming small-model call. A
// composition root adapts *gateway.Gateway to this interface rather than
// memory importing the gateway package directly, keeping the dependency
// one-directional (gateway knows nothing about memory).
type Gateway interface {
	Chat(ctx context.Context, role model.ModelRole, msgs []GatewayMessage, maxTokens int) (string, error)
}

// GatewayMessage mirrors gateway.Message's shape without importing it.
type GatewayMessage struct {
	Role    model.Role
	Content string
}

type extractedFact struct {
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// GatewayExtractor implements FactExtractor against the small model,
// prompting for a JSON array of facts and falling back to discarding the
// turn (never crashing) on an unparseable response, matching the
// Cognitive Conductor's tolerant small-model JSON parsing style.
type GatewayExtractor struct {
	Gateway Gateway
}

func (e *GatewayExtractor) ExtractFacts(ctx context.Context, convID string, messages []model.Message) ([]model.Fact, error) {
	prompt := buildExtractionPrompt(messages)
	raw, err := e.Gateway.Chat(ctx, model.RoleSmall, []GatewayMessage{
		{Role: model.RoleSystem, Content: extractionSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}, 512)
	if err != nil {
		return nil, fmt.Errorf("memory: extract facts: %w", err)
	}
	return parseExtractedFacts(convID, raw), nil
}

const extractionSystemPrompt = `You extract durable facts worth remembering from a conversation excerpt.
Respond with a JSON array only, each element: {"content": string, "category": one of "general","project","style","shadow","vault", "confidence": 0..1}.
Return an empty array if nothing is worth remembering.`

func buildExtractionPrompt(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func parseExtractedFacts(convID, raw string) []model.Fact {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parsed []extractedFact
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	out := make([]model.Fact, 0, len(parsed))
	for _, p := range parsed {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		out = append(out, model.Fact{
			ConversationID: convID,
			Content:        content,
			Category:       normalizeFactCategory(p.Category),
			Confidence:     p.Confidence,
		})
	}
	return out
}

// normalizeFactCategory maps a small model's freeform category guess onto
// the data model's fixed enum (model.go's FactCategory), including a few
// synonyms models tend to drift toward, defaulting anything unrecognized
// to general rather than persisting an out-of-model value.
func normalizeFactCategory(raw string) model.FactCategory {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(model.CategoryGeneral), "personal":
		return model.CategoryGeneral
	case string(model.CategoryProject), "professional", "work":
		return model.CategoryProject
	case string(model.CategoryStyle), "preference", "preferences":
		return model.CategoryStyle
	case string(model.CategoryShadow):
		return model.CategoryShadow
	case string(model.CategoryVault):
		return model.CategoryVault
	default:
		return model.CategoryGeneral
	}
}

// GatewaySummarizer implements Summarizer against the small model.
type GatewaySummarizer struct {
	Gateway Gateway
}

func (s *GatewaySummarizer) Summarize(ctx context.Context, convID string, messages []model.Message) (string, error) {
	prompt := buildExtractionPrompt(messages)
	raw, err := s.Gateway.Chat(ctx, model.RoleSmall, []GatewayMessage{
		{Role: model.RoleSystem, Content: "Summarize this conversation excerpt in 3-5 sentences, preserving names, decisions, and commitments."},
		{Role: model.RoleUser, Content: prompt},
	}, 256)
	if err != nil {
		return "", fmt.Errorf("memory: summarize: %w", err)
	}
	return strings.TrimSpace(raw), nil
}
