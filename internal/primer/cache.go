package primer

import (
	"container/list"
	"sync"
	"time"

	"cognitivecore/internal/model"
	"cognitivecore/internal/vecmath"
)

// cacheEntry pairs a query embedding with the PrimedContext it produced.
// The norm is precomputed so lookup does a single multiply-accumulate per
// candidate rather than recomputing it on every hit check.
type cacheEntry struct {
	key             string
	embedding       []float32
	norm            float64
	context         model.PrimedContext
	privacyUnlocked bool
	expiresAt       time.Time
	elem            *list.Element
}

// semanticCache is the Context Primer's bounded, TTL-expiring cache,
// looked up by cosine similarity rather than exact key match. Grounded on
// the embedding-service LRU (container/list) but with a similarity
// threshold in place of hash equality.
type semanticCache struct {
	capacity     int
	ttl          time.Duration
	hitThreshold float64

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List
	version int64
}

func newSemanticCache(capacity int, ttl time.Duration, hitThreshold float64) *semanticCache {
	if capacity <= 0 {
		capacity = 2000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if hitThreshold <= 0 {
		hitThreshold = 0.92
	}
	return &semanticCache{
		capacity:     capacity,
		ttl:          ttl,
		hitThreshold: hitThreshold,
		entries:      make(map[string]*cacheEntry),
		order:        list.New(),
	}
}

// lookup returns the PrimedContext of the highest-similarity unexpired
// entry whose score exceeds the hit threshold, evicting expired entries
// encountered along the way. Only entries primed under the same
// privacyUnlocked state are eligible: an entry primed while unlocked may
// carry shadow/vault facts that must never be served to a locked caller,
// and an entry primed while locked should not short-circuit a later
// unlocked request into missing those facts.
func (c *semanticCache) lookup(embedding []float32, privacyUnlocked bool) (model.PrimedContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	qnorm := vecmath.Norm(embedding)
	now := time.Now()

	var best *cacheEntry
	bestScore := c.hitThreshold
	var expired []*cacheEntry

	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, e)
			continue
		}
		if e.privacyUnlocked != privacyUnlocked {
			continue
		}
		score := 0.0
		if qnorm > 0 && e.norm > 0 {
			score = vecmath.Dot(embedding, e.embedding) / (qnorm * e.norm)
		}
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	for _, e := range expired {
		c.removeLocked(e)
	}
	if best == nil {
		return model.PrimedContext{}, false
	}
	c.order.MoveToFront(best.elem)
	hit := best.context
	hit.FromCache = true
	return hit, true
}

// insert adds or replaces the cache entry for key, evicting the oldest
// entry if the cache is at capacity.
func (c *semanticCache) insert(key string, embedding []float32, ctx model.PrimedContext, privacyUnlocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	e := &cacheEntry{
		key:             key,
		embedding:       embedding,
		norm:            vecmath.Norm(embedding),
		context:         ctx,
		privacyUnlocked: privacyUnlocked,
		expiresAt:       time.Now().Add(c.ttl),
	}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(*cacheEntry))
	}
}

func (c *semanticCache) removeLocked(e *cacheEntry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// clear drops every entry and the index alongside it.
func (c *semanticCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = list.New()
}

// invalidateForCategory drops entries whose PrimedContext belongs to
// category c.
func (c *semanticCache) invalidateForCategory(cat model.IntentCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var toRemove []*cacheEntry
	for _, e := range c.entries {
		if e.context.Category == cat {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		c.removeLocked(e)
	}
}

// bumpVersion is called when Memory Store or Error Memory writes land, so
// callers can compare against a previously observed version to detect
// staleness.
func (c *semanticCache) bumpVersion() {
	c.mu.Lock()
	c.version++
	c.mu.Unlock()
}

func (c *semanticCache) currentVersion() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *semanticCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
