// Package router implements the Semantic Router (C4): classifies a request
// into an intent category by cosine similarity against a warm index of
// precomputed "intent probe" vectors, then maps the category to a model
// role and thinking mode. Grounded on the teacher pack's embedding-index
// routing pattern, adapted from a keyword/template router into a fixed
// five-category classifier with a keyword-rule fallback.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cognitivecore/internal/model"
	"cognitivecore/internal/vecmath"
)

// Embedder produces a query embedding. The Embedding Service satisfies
// this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProbeSet maps each intent category to the example texts used to build
// its probe vector (the centroid of their embeddings).
type ProbeSet map[model.IntentCategory][]string

// DefaultProbes is the built-in probe text set, one short list of example
// utterances per category. New accepts any ProbeSet; the composition root
// passes DefaultProbes, and RouterConfig.ProbeTextsPath is not read.
var DefaultProbes = ProbeSet{
	model.IntentQuick: {
		"what time is it",
		"hi",
		"thanks",
		"what's the weather",
		"quick question",
	},
	model.IntentReasoning: {
		"explain why this approach works",
		"walk me through the tradeoffs",
		"what would happen if we changed this assumption",
		"help me reason through this problem",
	},
	model.IntentCode: {
		"write a function that",
		"fix this bug in my code",
		"refactor this module",
		"debug this stack trace",
	},
	model.IntentCreative: {
		"write a short story about",
		"brainstorm some ideas for",
		"come up with a creative name",
	},
	model.IntentVision: {
		"what's in this image",
		"describe this picture",
		"read the text in this screenshot",
	},
}

// roleForCategory is the default category→role mapping, overridden to
// RoleVision whenever the request carries an image.
var roleForCategory = map[model.IntentCategory]model.ModelRole{
	model.IntentQuick:     model.RoleSmall,
	model.IntentReasoning: model.RoleLarge,
	model.IntentCode:      model.RoleLarge,
	model.IntentCreative:  model.RoleLarge,
	model.IntentVision:    model.RoleVision,
}

// thinkingForCategory is the default category→thinking-mode mapping,
// subject to the BRIEF-verbosity downgrade rule in Route.
var thinkingForCategory = map[model.IntentCategory]model.ThinkingMode{
	model.IntentQuick:     model.ThinkingFast,
	model.IntentReasoning: model.ThinkingDeep,
	model.IntentCode:      model.ThinkingDeep,
	model.IntentCreative:  model.ThinkingStandard,
	model.IntentVision:    model.ThinkingStandard,
}

// keywordRules is the fallback classifier used when embedding fails.
// Matches are checked in map iteration order is non-deterministic in Go,
// so rules are evaluated via the ordered keywordOrder slice for
// determinism.
var keywordRules = map[model.IntentCategory][]string{
	model.IntentCode:      {"function", "code", "bug", "error", "stack trace", "refactor", "compile"},
	model.IntentReasoning: {"why", "explain", "reason", "tradeoff", "analyze"},
	model.IntentCreative:  {"story", "poem", "brainstorm", "creative", "imagine"},
	model.IntentVision:    {"image", "picture", "screenshot", "photo"},
}

var keywordOrder = []model.IntentCategory{
	model.IntentVision,
	model.IntentCode,
	model.IntentReasoning,
	model.IntentCreative,
}

const fallbackConfidence = 0.4

// Router classifies requests by embedding-similarity against a warm probe
// index, rebuilt on demand via Refresh.
type Router struct {
	embedder Embedder
	probes   ProbeSet

	mu    sync.RWMutex
	index map[model.IntentCategory][]float32
	ready bool
}

// New constructs a Router. Refresh must be called at least once before
// Route can use the embedding path; until then Route falls back to
// keyword rules.
func New(embedder Embedder, probes ProbeSet) *Router {
	if probes == nil {
		probes = DefaultProbes
	}
	return &Router{embedder: embedder, probes: probes}
}

// Refresh (re)computes the probe centroid vectors from the configured
// example texts. Safe to call periodically or once at startup.
func (r *Router) Refresh(ctx context.Context) error {
	index := make(map[model.IntentCategory][]float32, len(r.probes))
	for category, examples := range r.probes {
		centroid, err := r.centroid(ctx, examples)
		if err != nil {
			return fmt.Errorf("router: refresh probe %s: %w", category, err)
		}
		index[category] = centroid
	}

	r.mu.Lock()
	r.index = index
	r.ready = true
	r.mu.Unlock()
	return nil
}

func (r *Router) centroid(ctx context.Context, examples []string) ([]float32, error) {
	var sum []float32
	for _, ex := range examples {
		v, err := r.embedder.Embed(ctx, ex)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make([]float32, len(v))
		}
		for i := range v {
			if i < len(sum) {
				sum[i] += v[i]
			}
		}
	}
	if len(examples) > 0 {
		for i := range sum {
			sum[i] /= float32(len(examples))
		}
	}
	return sum, nil
}

// Route classifies query, returning its RouteDecision and the computed
// query embedding (so callers avoid a second embedding call). profile may
// be nil. hasImage forces the VISION model role regardless of the
// classified category.
func (r *Router) Route(ctx context.Context, query string, profile *model.UserProfile, hasImage bool) (model.RouteDecision, error) {
	r.mu.RLock()
	ready := r.ready
	index := r.index
	r.mu.RUnlock()

	if !ready {
		return r.fallback(query, profile, hasImage, nil), nil
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return r.fallback(query, profile, hasImage, nil), nil
	}

	category, confidence := bestCategory(index, embedding)
	decision := model.RouteDecision{
		Category:       category,
		ModelRole:      roleForCategory[category],
		ThinkingMode:   thinkingForCategory[category],
		Confidence:     confidence,
		QueryEmbedding: embedding,
	}
	applyOverrides(&decision, profile, hasImage)
	return decision, nil
}

func (r *Router) fallback(query string, profile *model.UserProfile, hasImage bool, embedding []float32) model.RouteDecision {
	category := classifyByKeyword(query)
	decision := model.RouteDecision{
		Category:       category,
		ModelRole:      roleForCategory[category],
		ThinkingMode:   thinkingForCategory[category],
		Confidence:     fallbackConfidence,
		QueryEmbedding: embedding,
	}
	applyOverrides(&decision, profile, hasImage)
	return decision
}

func applyOverrides(decision *model.RouteDecision, profile *model.UserProfile, hasImage bool) {
	if hasImage {
		decision.ModelRole = model.RoleVision
	}
	if profile != nil && strings.EqualFold(profile.Verbosity, "brief") &&
		decision.Category != model.IntentReasoning && decision.Category != model.IntentCode {
		decision.ThinkingMode = model.ThinkingFast
	}
}

// bestCategory picks the category whose probe vector is most similar to
// embedding, breaking ties lexicographically by category name.
func bestCategory(index map[model.IntentCategory][]float32, embedding []float32) (model.IntentCategory, float64) {
	categories := make([]model.IntentCategory, 0, len(index))
	for c := range index {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	var best model.IntentCategory
	bestScore := -2.0
	for _, c := range categories {
		score := vecmath.Cosine(embedding, index[c])
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best, bestScore
}

func classifyByKeyword(query string) model.IntentCategory {
	low := strings.ToLower(query)
	for _, category := range keywordOrder {
		for _, kw := range keywordRules[category] {
			if strings.Contains(low, kw) {
				return category
			}
		}
	}
	return model.IntentQuick
}
