package primer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/model"
)

type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

type fakeMemories struct {
	calls int64
	facts []model.Fact
}

func (f *fakeMemories) RelevantFacts(ctx context.Context, category model.IntentCategory, limit int, privacyUnlocked bool) ([]model.Fact, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.facts, nil
}

type fakePatterns struct{ patterns []string }

func (f fakePatterns) SuccessPatterns(ctx context.Context, category model.IntentCategory, limit int) ([]string, error) {
	return f.patterns, nil
}

type fakeHints struct{ hints []string }

func (f fakeHints) ToolHints(category model.IntentCategory) []string { return f.hints }

type fakeInstructions struct{ text string }

func (f fakeInstructions) Instructions(category model.IntentCategory) (string, error) {
	return f.text, nil
}

func newTestPrimer(mem *fakeMemories) *Primer {
	return New(
		fakeEmbedder{vec: []float32{1, 0, 0}},
		mem,
		fakePatterns{patterns: []string{"pattern-a"}},
		fakeHints{hints: []string{"hint-a"}},
		fakeInstructions{text: "be concise"},
		Config{CacheCapacity: 10, CacheTTL: time.Minute, HitSimilarity: 0.92, MemoriesPerCategory: 5, PatternsPerCategory: 3},
	)
}

func TestPrimeMissAssemblesFromProviders(t *testing.T) {
	mem := &fakeMemories{facts: []model.Fact{{ID: "f1", Category: model.CategoryGeneral}}}
	p := newTestPrimer(mem)

	pc, err := p.Prime(context.Background(), "what is the plan", model.IntentQuick, nil, true)
	require.NoError(t, err)
	assert.False(t, pc.FromCache)
	assert.Equal(t, model.IntentQuick, pc.Category)
	assert.Len(t, pc.Memories, 1)
	assert.Equal(t, []string{"pattern-a"}, pc.SuccessPatterns)
	assert.Equal(t, []string{"hint-a"}, pc.ToolHints)
	assert.Equal(t, "be concise", pc.InstructionsFragment)
}

func TestPrimeHitServesFromCacheWithoutRefetch(t *testing.T) {
	mem := &fakeMemories{facts: []model.Fact{{ID: "f1"}}}
	p := newTestPrimer(mem)

	_, err := p.Prime(context.Background(), "what is the plan", model.IntentQuick, []float32{1, 0, 0}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&mem.calls))

	pc, err := p.Prime(context.Background(), "what is the plan again", model.IntentQuick, []float32{1, 0, 0}, true)
	require.NoError(t, err)
	assert.True(t, pc.FromCache)
	assert.Equal(t, int64(1), atomic.LoadInt64(&mem.calls))
}

func TestPrimeMissOnDissimilarEmbedding(t *testing.T) {
	mem := &fakeMemories{}
	p := newTestPrimer(mem)

	_, err := p.Prime(context.Background(), "first", model.IntentQuick, []float32{1, 0, 0}, true)
	require.NoError(t, err)
	_, err = p.Prime(context.Background(), "second", model.IntentQuick, []float32{0, 1, 0}, true)
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&mem.calls))
}

func TestClearDropsCache(t *testing.T) {
	mem := &fakeMemories{}
	p := newTestPrimer(mem)

	_, err := p.Prime(context.Background(), "first", model.IntentQuick, []float32{1, 0, 0}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CacheLen())

	p.Clear()
	assert.Equal(t, 0, p.CacheLen())
}

func TestInvalidateForCategoryDropsOnlyThatCategory(t *testing.T) {
	mem := &fakeMemories{}
	p := newTestPrimer(mem)

	_, err := p.Prime(context.Background(), "quick one", model.IntentQuick, []float32{1, 0, 0}, true)
	require.NoError(t, err)
	_, err = p.Prime(context.Background(), "code one", model.IntentCode, []float32{0, 1, 0}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, p.CacheLen())

	p.InvalidateForCategory(model.IntentQuick)
	assert.Equal(t, 1, p.CacheLen())
}

func TestBumpVersionIncrementsCounter(t *testing.T) {
	p := newTestPrimer(&fakeMemories{})
	before := p.Version()
	p.BumpVersion()
	assert.Equal(t, before+1, p.Version())
}

func TestCacheEvictsOldestOnCapacity(t *testing.T) {
	cache := newSemanticCache(2, time.Minute, 0.99)
	cache.insert("a", []float32{1, 0, 0}, model.PrimedContext{Category: model.IntentQuick}, true)
	cache.insert("b", []float32{0, 1, 0}, model.PrimedContext{Category: model.IntentQuick}, true)
	cache.insert("c", []float32{0, 0, 1}, model.PrimedContext{Category: model.IntentQuick}, true)
	assert.Equal(t, 2, cache.len())
}

func TestCacheMissesAcrossPrivacyStates(t *testing.T) {
	cache := newSemanticCache(10, time.Minute, 0.5)
	cache.insert("a", []float32{1, 0, 0}, model.PrimedContext{Category: model.IntentQuick}, true)

	_, ok := cache.lookup([]float32{1, 0, 0}, false)
	assert.False(t, ok, "an entry primed while unlocked must not serve a locked lookup")

	hit, ok := cache.lookup([]float32{1, 0, 0}, true)
	assert.True(t, ok)
	assert.Equal(t, model.IntentQuick, hit.Category)
}

func TestPrimeReFetchesAcrossPrivacyStates(t *testing.T) {
	mem := &fakeMemories{facts: []model.Fact{{ID: "f1"}}}
	p := newTestPrimer(mem)

	_, err := p.Prime(context.Background(), "what is the plan", model.IntentQuick, []float32{1, 0, 0}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&mem.calls))

	pc, err := p.Prime(context.Background(), "what is the plan", model.IntentQuick, []float32{1, 0, 0}, false)
	require.NoError(t, err)
	assert.False(t, pc.FromCache, "a locked lookup must not reuse a context primed while unlocked")
	assert.Equal(t, int64(2), atomic.LoadInt64(&mem.calls))
}

func TestCacheTTLExpiryEvictsOnLookup(t *testing.T) {
	cache := newSemanticCache(10, time.Nanosecond, 0.5)
	cache.insert("a", []float32{1, 0, 0}, model.PrimedContext{}, true)
	time.Sleep(time.Millisecond)
	_, ok := cache.lookup([]float32{1, 0, 0}, true)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.len())
}
