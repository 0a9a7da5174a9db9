// Package errormemory implements the Error Memory component (C9): it
// remembers past corrections so the Cognitive Conductor can warn against
// repeating a mistake before it happens again.
package errormemory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cognitivecore/internal/model"
	"cognitivecore/internal/vecmath"
)

// candidateWindow and candidateLimit bound get_warning's vector search:
// only corrections from the last 30 days, at most 100 of them, are ever
// scored against a new query.
const (
	candidateWindow     = 30 * 24 * time.Hour
	candidateLimit      = 100
	warningTopK         = 5
	warningSimilarity   = 0.7
	duplicateSimilarity = 0.95 // above this, a new correction bumps Occurrences instead of inserting
	previousResponseCap = 200
)

// Embedder produces an embedding for correction/query text. The Embedding
// Service satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrorMemory is the C9 facade: it detects corrections in conversation and
// answers "has this failed before?" queries for new turns.
type ErrorMemory struct {
	embedder Embedder
	store    Store
}

// New constructs an ErrorMemory over the given embedder and store.
func New(embedder Embedder, store Store) *ErrorMemory {
	return &ErrorMemory{embedder: embedder, store: store}
}

// Record inspects a user message against the assistant's previous turn; if
// it looks like a correction, it embeds category+previous_response and
// upserts a CorrectionEntry, incrementing Occurrences when a near-duplicate
// entry already exists rather than inserting a fresh row.
func (e *ErrorMemory) Record(ctx context.Context, originalMessageID, correctionMessageID int64, userCorrection, previousAssistantResponse string, category model.CorrectionCategory) error {
	if !IsCorrection(userCorrection, previousAssistantResponse) {
		return nil
	}

	truncated := previousAssistantResponse
	if len(truncated) > previousResponseCap {
		truncated = truncated[:previousResponseCap]
	}
	embedding, err := e.embedder.Embed(ctx, string(category)+" "+truncated)
	if err != nil {
		return fmt.Errorf("errormemory: embed correction: %w", err)
	}

	now := time.Now().UTC()
	existing, err := e.store.Candidates(ctx, now.Add(-candidateWindow), candidateLimit)
	if err != nil {
		return fmt.Errorf("errormemory: load candidates: %w", err)
	}
	norm := vecmath.Norm(embedding)
	for _, ex := range existing {
		if vecmath.CosineWithNorm(embedding, norm, ex.Embedding) >= duplicateSimilarity {
			ex.Occurrences++
			ex.LastUsed = now
			ex.UserCorrection = userCorrection
			ex.CorrectionMessageID = correctionMessageID
			return e.store.Upsert(ctx, ex)
		}
	}

	entry := model.CorrectionEntry{
		OriginalMessageID:   originalMessageID,
		CorrectionMessageID: correctionMessageID,
		OriginalResponse:    previousAssistantResponse,
		UserCorrection:      userCorrection,
		Category:            category,
		Embedding:           embedding,
		Occurrences:         1,
		CreatedAt:           now,
		LastUsed:            now,
	}
	if err := e.store.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("errormemory: upsert correction: %w", err)
	}
	return nil
}

// GetWarning searches the last 30 days of corrections (at most 100
// candidates) for ones similar to queryEmbedding. It returns the formatted
// warning for the single best match at or above the similarity threshold,
// or ok=false if nothing qualifies.
func (e *ErrorMemory) GetWarning(ctx context.Context, queryEmbedding []float32) (warning string, ok bool, err error) {
	candidates, err := e.store.Candidates(ctx, time.Now().UTC().Add(-candidateWindow), candidateLimit)
	if err != nil {
		return "", false, fmt.Errorf("errormemory: load candidates: %w", err)
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	byID := make(map[string]model.CorrectionEntry, len(candidates))
	scored := make([]vecmath.Scored, 0, len(candidates))
	qnorm := vecmath.Norm(queryEmbedding)
	for _, c := range candidates {
		sim := vecmath.CosineWithNorm(queryEmbedding, qnorm, c.Embedding)
		if sim < warningSimilarity {
			continue
		}
		byID[c.ID] = c
		scored = append(scored, vecmath.Scored{Key: c.ID, Score: sim})
	}
	if len(scored) == 0 {
		return "", false, nil
	}

	top := vecmath.TopK(scored, warningTopK)
	best := byID[top[0].Key]
	return formatWarning(best), true, nil
}

// RecentCorrections returns the most recent corrections, newest first, for
// the Self-Reflection Builder's "past mistakes" block.
func (e *ErrorMemory) RecentCorrections(ctx context.Context, limit int) ([]model.CorrectionEntry, error) {
	entries, err := e.store.Candidates(ctx, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("errormemory: recent corrections: %w", err)
	}
	return entries, nil
}

// formatWarning renders a CorrectionEntry as a one-line hint for the
// Cognitive Conductor's steering prompt.
func formatWarning(entry model.CorrectionEntry) string {
	failed := strings.TrimSpace(entry.OriginalResponse)
	prefer := strings.TrimSpace(entry.UserCorrection)
	if len(failed) > previousResponseCap {
		failed = failed[:previousResponseCap]
	}
	return fmt.Sprintf("In the past, %q failed — prefer: %q.", failed, prefer)
}
