// Package memory implements the Memory Store (C6): durable conversation
// history, fact extraction, and compression, pluggable over an in-memory
// or Postgres Backend. Grounded on the teacher's dual chat-store design
// (memChatStore / pgChatStore), extended with facts and summaries.
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cognitivecore/internal/model"
	"cognitivecore/internal/vecmath"
)

// estimateTokens is a rough ~4-characters-per-token heuristic, matching
// the estimator used elsewhere in the example pack for the same purpose.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// FactExtractor pulls durable facts out of a conversation's recent
// messages. Implementations call the small model (the Model Gateway)
// off the critical request path.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, convID string, messages []model.Message) ([]model.Fact, error)
}

// Summarizer compresses a run of messages into prose. Implementations
// call the small model.
type Summarizer interface {
	Summarize(ctx context.Context, convID string, messages []model.Message) (string, error)
}

// CacheInvalidator is notified when a write should invalidate primed
// context (the Context Primer's BumpVersion/InvalidateForCategory).
type CacheInvalidator interface {
	BumpVersion()
}

// Config controls budget splits and compression retry limits.
type Config struct {
	RecentRatio        float64 // default 0.70
	SummaryRatio       float64 // default 0.20
	FactsRatio         float64 // default 0.10
	MaxCompressRetries int     // default 3
}

func (c Config) withDefaults() Config {
	if c.RecentRatio == 0 && c.SummaryRatio == 0 && c.FactsRatio == 0 {
		c.RecentRatio, c.SummaryRatio, c.FactsRatio = 0.70, 0.20, 0.10
	}
	if c.MaxCompressRetries <= 0 {
		c.MaxCompressRetries = 3
	}
	return c
}

// Store is the Memory Store (C6) facade over a Backend.
type Store struct {
	backend   Backend
	extractor FactExtractor
	summarize Summarizer
	cache     CacheInvalidator
	cfg       Config
	factIndex FactIndex

	compressAttempts map[string]int
}

// New constructs a Store. extractor/summarize/cache may be nil: fact
// extraction and compression degrade to no-ops, and cache invalidation is
// skipped, rather than failing the request.
func New(backend Backend, extractor FactExtractor, summarize Summarizer, cache CacheInvalidator, cfg Config) *Store {
	return &Store{
		backend:          backend,
		extractor:        extractor,
		summarize:        summarize,
		cache:            cache,
		cfg:              cfg.withDefaults(),
		compressAttempts: make(map[string]int),
	}
}

// CreateConversation starts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	return s.backend.CreateConversation(ctx, title)
}

// ListConversations returns every conversation, most recent first.
func (s *Store) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.backend.ListConversations(ctx)
}

// GetMessages returns up to limit most recent messages for convID, in
// chronological order. limit <= 0 means unbounded.
func (s *Store) GetMessages(ctx context.Context, convID string, limit int) ([]model.Message, error) {
	return s.backend.ListMessages(ctx, convID, limit)
}

// AddMessage appends a message and bumps the primed-context version. It
// does not run fact extraction; ExtractFactsAsync does, and callers invoke
// it separately.
func (s *Store) AddMessage(ctx context.Context, convID string, role model.Role, content string) (model.Message, error) {
	msg, err := s.backend.InsertMessage(ctx, model.Message{
		ConversationID: convID,
		Role:           role,
		Content:        content,
		TokenCount:     estimateTokens(content),
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("memory: add message: %w", err)
	}

	if s.cache != nil {
		s.cache.BumpVersion()
	}

	return msg, nil
}

// ExtractFactsAsync runs fact extraction for a recent window of messages
// in the caller's goroutine, stores the resulting facts and drops any
// error. The facade calls it from a background-priority slot after a chat
// turn; RunExtractionWorker in extraction.go calls it for queued jobs.
func (s *Store) ExtractFactsAsync(ctx context.Context, convID string, window []model.Message) {
	if s.extractor == nil || len(window) == 0 {
		return
	}
	facts, err := s.extractor.ExtractFacts(ctx, convID, window)
	if err != nil || len(facts) == 0 {
		return
	}
	if err := s.backend.InsertFacts(ctx, facts); err != nil {
		return
	}
	if s.factIndex != nil {
		for _, f := range facts {
			_ = s.factIndex.Upsert(ctx, f.ID, f.Embedding, map[string]string{"conversation_id": convID})
		}
	}
	if s.cache != nil {
		s.cache.BumpVersion()
	}
}

// SmartContext is the budgeted context returned by GetSmartContext: a mix
// of recent messages, a prior summary (if any), and top-ranked facts.
type SmartContext struct {
	Summary  string
	Messages []model.Message
	Facts    []model.Fact
}

// GetSmartContext allocates tokenBudget across recent messages (~70%),
// prior summary (~20%), and top-k relevant facts (~10%), per spec §4.6.
// queryEmbedding and privacyUnlocked gate which facts are eligible.
func (s *Store) GetSmartContext(ctx context.Context, convID string, tokenBudget int, includeFacts bool, queryEmbedding []float32, privacyUnlocked bool) (SmartContext, error) {
	recentBudget := int(float64(tokenBudget) * s.cfg.RecentRatio)
	summaryBudget := int(float64(tokenBudget) * s.cfg.SummaryRatio)
	factsBudget := tokenBudget - recentBudget - summaryBudget

	all, err := s.backend.ListMessages(ctx, convID, 0)
	if err != nil {
		return SmartContext{}, fmt.Errorf("memory: list messages: %w", err)
	}
	recent := fitToBudget(all, recentBudget)

	var summaryText string
	if summary, ok, err := s.backend.GetSummary(ctx, convID); err != nil {
		return SmartContext{}, fmt.Errorf("memory: get summary: %w", err)
	} else if ok {
		summaryText = truncateToBudget(summary.SummaryText, summaryBudget)
	}

	var facts []model.Fact
	if includeFacts && factsBudget > 0 {
		limit := factsBudget / 20 // a fact averages well under a sentence
		if limit < 1 {
			limit = 1
		}
		facts, err = s.rankedFacts(ctx, convID, queryEmbedding, limit, privacyUnlocked)
		if err != nil {
			return SmartContext{}, fmt.Errorf("memory: rank facts: %w", err)
		}
	}

	return SmartContext{Summary: summaryText, Messages: recent, Facts: facts}, nil
}

// fitToBudget keeps the most recent messages (from the tail) whose
// cumulative estimated token count stays within budget.
func fitToBudget(msgs []model.Message, budget int) []model.Message {
	if budget <= 0 {
		return nil
	}
	var kept []model.Message
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := msgs[i].TokenCount
		if cost == 0 {
			cost = estimateTokens(msgs[i].Content)
		}
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append([]model.Message{msgs[i]}, kept...)
		used += cost
	}
	return kept
}

func truncateToBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	maxChars := budget * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// GetRelevantFacts ranks convID's facts by cosine similarity to
// queryEmbedding, excluding privacy-protected categories unless unlocked.
func (s *Store) GetRelevantFacts(ctx context.Context, convID string, queryEmbedding []float32, limit int, privacyUnlocked bool) ([]model.Fact, error) {
	return s.rankedFacts(ctx, convID, queryEmbedding, limit, privacyUnlocked)
}

// TopFacts returns the backend's highest-confidence facts across every
// conversation, for cross-conversation recall (the Context Primer's
// MemoryProvider), excluding privacy-protected categories unless unlocked
// — the same gate GetRelevantFacts applies to per-conversation recall.
func (s *Store) TopFacts(ctx context.Context, limit int, privacyUnlocked bool) ([]model.Fact, error) {
	exclude := []model.FactCategory{}
	if !privacyUnlocked {
		exclude = []model.FactCategory{model.CategoryShadow, model.CategoryVault}
	}
	return s.backend.TopFacts(ctx, limit, exclude)
}

func (s *Store) rankedFacts(ctx context.Context, convID string, queryEmbedding []float32, limit int, privacyUnlocked bool) ([]model.Fact, error) {
	exclude := []model.FactCategory{}
	if !privacyUnlocked {
		exclude = []model.FactCategory{model.CategoryShadow, model.CategoryVault}
	}
	candidates, err := s.backend.FactsForRanking(ctx, convID, exclude)
	if err != nil {
		return nil, err
	}
	if len(queryEmbedding) == 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates, nil
	}

	byID := make(map[string]model.Fact, len(candidates))
	for _, f := range candidates {
		byID[f.ID] = f
	}

	if s.factIndex != nil {
		hits, err := s.factIndex.SimilaritySearch(ctx, queryEmbedding, limit, map[string]string{"conversation_id": convID})
		if err == nil {
			out := make([]model.Fact, 0, len(hits))
			for _, h := range hits {
				if f, ok := byID[h.ID]; ok {
					out = append(out, f)
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		}
	}

	scored := make([]vecmath.Scored, 0, len(candidates))
	qnorm := vecmath.Norm(queryEmbedding)
	for _, f := range candidates {
		scored = append(scored, vecmath.Scored{Key: f.ID, Score: vecmath.CosineWithNorm(queryEmbedding, qnorm, f.Embedding)})
	}
	top := vecmath.TopK(scored, limit)
	out := make([]model.Fact, 0, len(top))
	for _, t := range top {
		out = append(out, byID[t.Key])
	}
	return out, nil
}

// CompressHistory replaces the oldest run of messages with an
// LLM-produced summary, bounded to cfg.MaxCompressRetries attempts per
// conversation to avoid retrying indefinitely on a persistently failing
// summarizer.
func (s *Store) CompressHistory(ctx context.Context, convID string) error {
	if s.summarize == nil {
		return nil
	}
	if s.compressAttempts[convID] >= s.cfg.MaxCompressRetries {
		return fmt.Errorf("memory: compression for %s exceeded %d attempts", convID, s.cfg.MaxCompressRetries)
	}

	all, err := s.backend.ListMessages(ctx, convID, 0)
	if err != nil {
		return fmt.Errorf("memory: list messages: %w", err)
	}
	if len(all) < 2 {
		return nil
	}

	// Compress every message but the most recent quarter, leaving recent
	// turns untouched for immediate recall.
	cut := len(all) - len(all)/4
	if cut <= 0 {
		cut = 1
	}
	prefix := all[:cut]

	summaryText, err := s.summarize.Summarize(ctx, convID, prefix)
	if err != nil {
		s.compressAttempts[convID]++
		return fmt.Errorf("memory: summarize: %w", err)
	}

	summary := model.ConversationSummary{
		ConversationID:     convID,
		SummaryText:        summaryText,
		MessagesCoveredMin: prefix[0].ID,
		MessagesCoveredMax: prefix[len(prefix)-1].ID,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.backend.CompressPrefix(ctx, convID, prefix[len(prefix)-1].ID, summary); err != nil {
		s.compressAttempts[convID]++
		return fmt.Errorf("memory: compress prefix: %w", err)
	}

	delete(s.compressAttempts, convID)
	if s.cache != nil {
		s.cache.BumpVersion()
	}
	return nil
}

// DeleteConversation removes a conversation's messages, summaries, and
// facts, and invalidates primed context for it.
func (s *Store) DeleteConversation(ctx context.Context, convID string) error {
	if s.factIndex != nil {
		if facts, err := s.backend.FactsForRanking(ctx, convID, nil); err == nil {
			for _, f := range facts {
				_ = s.factIndex.Delete(ctx, f.ID)
			}
		}
	}
	if err := s.backend.DeleteFactsForConversation(ctx, convID); err != nil {
		return fmt.Errorf("memory: delete facts: %w", err)
	}
	if err := s.backend.DeleteConversation(ctx, convID); err != nil {
		return fmt.Errorf("memory: delete conversation: %w", err)
	}
	delete(s.compressAttempts, convID)
	if s.cache != nil {
		s.cache.BumpVersion()
	}
	return nil
}
