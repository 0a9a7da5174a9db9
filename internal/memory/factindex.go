package memory

import "context"

// FactIndex is an optional nearest-neighbor index for fact embeddings. When
// set on a Store, rankedFacts queries it instead of linearly scanning every
// candidate returned by Backend.FactsForRanking — useful once a
// conversation's fact count outgrows an in-process cosine scan.
type FactIndex interface {
	Upsert(ctx context.Context, factID string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, factID string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]FactIndexHit, error)
}

// FactIndexHit is one nearest-neighbor result, ID matching model.Fact.ID.
type FactIndexHit struct {
	ID    string
	Score float64
}

// WithFactIndex attaches a FactIndex to an already-constructed Store. Left
// unset, rankedFacts falls back to scanning FactsForRanking's results with
// vecmath, which is what the in-memory backend uses exclusively.
func (s *Store) WithFactIndex(idx FactIndex) *Store {
	s.factIndex = idx
	return s
}
