package errormemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cognitivecore/internal/model"
)

// Store is the persistence layer behind Error Memory. An in-memory
// implementation is provided; a Postgres-backed one can satisfy the same
// interface using the Memory Store's facts table pattern.
type Store interface {
	Upsert(ctx context.Context, entry model.CorrectionEntry) error
	Candidates(ctx context.Context, since time.Time, max int) ([]model.CorrectionEntry, error)
}

// NewMemoryStore returns an in-process Store, suitable for tests and
// single-node deployments.
func NewMemoryStore() Store {
	return &memStore{entries: map[string]model.CorrectionEntry{}}
}

type memStore struct {
	mu      sync.RWMutex
	entries map[string]model.CorrectionEntry
}

func (s *memStore) Upsert(ctx context.Context, entry model.CorrectionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *memStore) Candidates(ctx context.Context, since time.Time, max int) ([]model.CorrectionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CorrectionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}
