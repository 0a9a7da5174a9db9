// Package resolver implements the Model Resolver (C3): a pure function
// mapping an abstract role to a concrete backend identifier from name
// patterns and the live loaded-model set. Deterministic: identical inputs
// yield identical outputs.
package resolver

import (
	"sort"
	"strings"

	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/model"
)

// Patterns controls the name matching used to classify loaded models.
// Defaults cover the common local-model naming conventions (parameter
// counts, "mini"/"small" suffixes) without hard-coding any one vendor.
type Patterns struct {
	SmallMarkers     []string
	EmbeddingMarkers []string
	VisionMarkers    []string
}

// DefaultPatterns is the documented default pattern set.
var DefaultPatterns = Patterns{
	SmallMarkers:     []string{"1b", "1.5b", "2b", "3b", "mini", "small", "tiny"},
	EmbeddingMarkers: []string{"embed", "bge", "nomic", "e5-"},
	VisionMarkers:    []string{"vision", "vl", "llava", "vlm"},
}

// DefaultModelName is returned when no LLM is loaded for a role; callers
// must also check the returned error for NoModelAvailable.
const DefaultModelName = "no-model-loaded"

func containsAny(name string, markers []string) bool {
	low := strings.ToLower(name)
	for _, m := range markers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

// Resolve maps role to a concrete backend identifier given the live set of
// loaded model names and the matching patterns. Rules, per spec §4.3:
// embedding models are filtered out of LLM role resolution; the
// smallest-named (lexicographically, after filtering to small-pattern
// matches) LLM wins "small"; the first remaining LLM (sorted) wins
// "large"; vision-marked models win "vision"; "embedding" resolves from
// EmbeddingMarkers directly.
func Resolve(role model.ModelRole, loaded []string, p Patterns) (string, error) {
	llms := make([]string, 0, len(loaded))
	embeddings := make([]string, 0)
	for _, name := range loaded {
		if containsAny(name, p.EmbeddingMarkers) {
			embeddings = append(embeddings, name)
			continue
		}
		llms = append(llms, name)
	}
	sort.Strings(llms)
	sort.Strings(embeddings)

	switch role {
	case model.RoleEmbedding:
		if len(embeddings) == 0 {
			return DefaultModelName, coreerr.ErrNoModelAvailable
		}
		return embeddings[0], nil

	case model.RoleVision:
		var vision []string
		for _, name := range llms {
			if containsAny(name, p.VisionMarkers) {
				vision = append(vision, name)
			}
		}
		if len(vision) == 0 {
			return DefaultModelName, coreerr.ErrNoModelAvailable
		}
		return vision[0], nil

	case model.RoleSmall:
		var small []string
		for _, name := range llms {
			if containsAny(name, p.SmallMarkers) {
				small = append(small, name)
			}
		}
		if len(small) == 0 {
			if len(llms) == 0 {
				return DefaultModelName, coreerr.ErrNoModelAvailable
			}
			return llms[0], nil
		}
		return small[0], nil

	case model.RoleLarge:
		var smallSet = make(map[string]struct{})
		for _, name := range llms {
			if containsAny(name, p.SmallMarkers) {
				smallSet[name] = struct{}{}
			}
		}
		for _, name := range llms {
			if _, isSmall := smallSet[name]; !isSmall {
				return name, nil
			}
		}
		if len(llms) == 0 {
			return DefaultModelName, coreerr.ErrNoModelAvailable
		}
		// Every loaded LLM matched the small pattern: fall back to the
		// last one so small and large are not forced identical unless
		// exactly one model is loaded.
		return llms[len(llms)-1], nil

	default:
		return DefaultModelName, coreerr.ErrInvalidRequest
	}
}
