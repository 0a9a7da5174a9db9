// Package embedding implements the Embedding Service (C2): a deduplicated,
// LRU+TTL-cached text→vector mapping shared by every other component, with
// identical-text concurrent calls coalesced into a single backend request.
package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cognitivecore/internal/coreerr"
)

// Backend produces a single embedding vector for a piece of text. The
// Model Gateway satisfies this.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type cacheEntry struct {
	key       string
	vector    []float32
	expiresAt time.Time
	elem      *list.Element
}

// Service is the bounded, TTL-expiring, coalescing embedding cache.
// Capacity, TTL, and dimensionality are configuration, per spec §4.2.
type Service struct {
	backend    Backend
	dimensions int
	capacity   int
	ttl        time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // front = most recently used

	group singleflight.Group

	remote RemoteCache // optional distributed backing, nil by default
}

// RemoteCache is the optional distributed backing for the embedding cache,
// grounded on the teacher's RedisSkillsCache shape (nil-receiver-safe,
// TTL, key-prefix namespacing). A nil RemoteCache means in-process only.
type RemoteCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vector []float32, ttl time.Duration)
}

// Option configures a Service at construction.
type Option func(*Service)

// WithRemoteCache attaches an optional distributed cache tier.
func WithRemoteCache(rc RemoteCache) Option {
	return func(s *Service) { s.remote = rc }
}

// New constructs a Service backed by b, caching up to capacity texts for
// ttl each.
func New(b Backend, dimensions, capacity int, ttl time.Duration, opts ...Option) *Service {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Service{
		backend:    b,
		dimensions: dimensions,
		capacity:   capacity,
		ttl:        ttl,
		entries:    make(map[string]*cacheEntry),
		order:      list.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the embedding vector for text, serving from cache when
// possible. Concurrent calls for the same text coalesce into one backend
// request (golang.org/x/sync/singleflight).
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	if v, ok := s.getLocal(key); ok {
		return v, nil
	}
	if s.remote != nil {
		if v, ok := s.remote.Get(ctx, key); ok {
			s.putLocal(key, v)
			return v, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		vec, err := s.backend.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", coreerr.ErrEmbeddingUnavailable, err)
		}
		s.putLocal(key, vec)
		if s.remote != nil {
			s.remote.Set(ctx, key, vec, s.ttl)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// Dimension reports the configured embedding dimensionality.
func (s *Service) Dimension() int { return s.dimensions }

func (s *Service) getLocal(key string) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.removeLocked(e)
		return nil, false
	}
	s.order.MoveToFront(e.elem)
	return e.vector, true
}

func (s *Service) putLocal(key string, vector []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.vector = vector
		e.expiresAt = time.Now().Add(s.ttl)
		s.order.MoveToFront(e.elem)
		return
	}
	e := &cacheEntry{key: key, vector: vector, expiresAt: time.Now().Add(s.ttl)}
	e.elem = s.order.PushFront(e)
	s.entries[key] = e
	for s.order.Len() > s.capacity {
		back := s.order.Back()
		if back == nil {
			break
		}
		s.removeLocked(back.Value.(*cacheEntry))
	}
}

func (s *Service) removeLocked(e *cacheEntry) {
	s.order.Remove(e.elem)
	delete(s.entries, e.key)
}

// Len reports the number of entries currently cached locally, for tests and
// diagnostics.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
