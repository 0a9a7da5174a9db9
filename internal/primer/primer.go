// Package primer implements the Context Primer (C5): a semantically
// cached, parallel-prefetching assembler of per-category context (relevant
// memories, success patterns, tool hints, domain instructions) for the
// Cognitive Conductor's prompt.
package primer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"cognitivecore/internal/model"
)

// Embedder produces a query embedding when the caller has not already
// computed one (the Semantic Router normally has).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MemoryProvider returns facts relevant to a category, most-relevant
// first. privacyUnlocked gates eligibility for privacy-protected
// categories (shadow, vault): implementations must exclude them unless
// privacyUnlocked is true, mirroring the Memory Store's own
// GetRelevantFacts/FactsForRanking exclusion.
type MemoryProvider interface {
	RelevantFacts(ctx context.Context, category model.IntentCategory, limit int, privacyUnlocked bool) ([]model.Fact, error)
}

// SuccessPatternProvider returns short descriptions of approaches that
// previously scored well for a category.
type SuccessPatternProvider interface {
	SuccessPatterns(ctx context.Context, category model.IntentCategory, limit int) ([]string, error)
}

// ToolHintProvider returns the static tool-hint set for a category. Pure
// and synchronous: no I/O expected.
type ToolHintProvider interface {
	ToolHints(category model.IntentCategory) []string
}

// InstructionLoader lazily loads the per-category instruction fragment,
// typically from a file on first use and cached by the implementation.
type InstructionLoader interface {
	Instructions(category model.IntentCategory) (string, error)
}

// Config controls cache sizing and per-category fetch limits.
type Config struct {
	CacheCapacity       int
	CacheTTL            time.Duration
	HitSimilarity       float64
	MemoriesPerCategory int
	PatternsPerCategory int
}

// Primer assembles PrimedContext for a request, serving from its
// semantic cache when a sufficiently similar query was primed recently.
type Primer struct {
	embedder     Embedder
	memories     MemoryProvider
	patterns     SuccessPatternProvider
	toolHints    ToolHintProvider
	instructions InstructionLoader

	cfg   Config
	cache *semanticCache
}

// New constructs a Primer from its upstream providers and config.
func New(embedder Embedder, memories MemoryProvider, patterns SuccessPatternProvider, toolHints ToolHintProvider, instructions InstructionLoader, cfg Config) *Primer {
	return &Primer{
		embedder:     embedder,
		memories:     memories,
		patterns:     patterns,
		toolHints:    toolHints,
		instructions: instructions,
		cfg:          cfg,
		cache:        newSemanticCache(cfg.CacheCapacity, cfg.CacheTTL, cfg.HitSimilarity),
	}
}

// Prime returns the PrimedContext for query under category, reusing
// queryEmbedding when non-nil (the Semantic Router already computed it).
// privacyUnlocked gates whether privacy-protected memories may be primed;
// it is also part of the cache lookup key, so a context primed while
// unlocked (and so possibly carrying shadow/vault facts) can never be
// served back to a locked caller, and vice versa.
func (p *Primer) Prime(ctx context.Context, query string, category model.IntentCategory, queryEmbedding []float32, privacyUnlocked bool) (model.PrimedContext, error) {
	start := time.Now()

	embedding := queryEmbedding
	if embedding == nil {
		var err error
		embedding, err = p.embedder.Embed(ctx, query)
		if err != nil {
			return model.PrimedContext{}, fmt.Errorf("primer: embed query: %w", err)
		}
	}

	if hit, ok := p.cache.lookup(embedding, privacyUnlocked); ok {
		return hit, nil
	}

	pc, err := p.prefetch(ctx, category, privacyUnlocked)
	if err != nil {
		return model.PrimedContext{}, err
	}
	pc.PrimeTimeMS = time.Since(start).Milliseconds()
	pc.FromCache = false

	p.cache.insert(query, embedding, pc, privacyUnlocked)
	return pc, nil
}

func (p *Primer) prefetch(ctx context.Context, category model.IntentCategory, privacyUnlocked bool) (model.PrimedContext, error) {
	var (
		memories []model.Fact
		patterns []string
		instr    string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		memories, err = p.memories.RelevantFacts(gctx, category, p.limitOr(p.cfg.MemoriesPerCategory, 5), privacyUnlocked)
		return err
	})
	g.Go(func() error {
		var err error
		patterns, err = p.patterns.SuccessPatterns(gctx, category, p.limitOr(p.cfg.PatternsPerCategory, 3))
		return err
	})
	g.Go(func() error {
		var err error
		instr, err = p.instructions.Instructions(category)
		return err
	})

	if err := g.Wait(); err != nil {
		return model.PrimedContext{}, fmt.Errorf("primer: prefetch: %w", err)
	}

	return model.PrimedContext{
		Category:             category,
		Memories:             memories,
		SuccessPatterns:      patterns,
		ToolHints:            p.toolHints.ToolHints(category),
		InstructionsFragment: instr,
	}, nil
}

func (p *Primer) limitOr(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

// Clear drops the entire semantic cache.
func (p *Primer) Clear() { p.cache.clear() }

// InvalidateForCategory drops cached entries for category cat.
func (p *Primer) InvalidateForCategory(cat model.IntentCategory) { p.cache.invalidateForCategory(cat) }

// BumpVersion is called by the Memory Store and Error Memory after a
// write, so callers can detect that previously primed context may be
// stale.
func (p *Primer) BumpVersion() { p.cache.bumpVersion() }

// Version returns the current cache version counter.
func (p *Primer) Version() int64 { return p.cache.currentVersion() }

// CacheLen reports the number of entries currently cached, for tests and
// diagnostics.
func (p *Primer) CacheLen() int { return p.cache.len() }
