package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/model"
)

type fakeSummarizer struct {
	text string
	err  error
}

func (f fakeSummarizer) Summarize(ctx context.Context, convID string, messages []model.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeCache struct{ bumps int }

func (f *fakeCache) BumpVersion() { f.bumps++ }

func newTestStore(t *testing.T, summarize Summarizer, cache CacheInvalidator, cfg Config) (*Store, string) {
	t.Helper()
	backend := NewMemoryBackend()
	store := New(backend, nil, summarize, cache, cfg)
	conv, err := store.CreateConversation(context.Background(), "test")
	require.NoError(t, err)
	return store, conv.ID
}

func TestAddMessageBumpsCacheVersion(t *testing.T) {
	cache := &fakeCache{}
	store, convID := newTestStore(t, nil, cache, Config{})

	_, err := store.AddMessage(context.Background(), convID, model.RoleUser, "hello there")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.bumps)
}

func TestGetSmartContextSplitsBudget(t *testing.T) {
	store, convID := newTestStore(t, nil, nil, Config{})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := store.AddMessage(ctx, convID, model.RoleUser, "a message with some reasonable length of content")
		require.NoError(t, err)
	}

	sc, err := store.GetSmartContext(ctx, convID, 1000, false, nil, false)
	require.NoError(t, err)
	assert.NotEmpty(t, sc.Messages)
}

func TestGetSmartContextExcludesPrivateFactsWhenLocked(t *testing.T) {
	backend := NewMemoryBackend()
	store := New(backend, nil, nil, nil, Config{})
	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, backend.InsertFacts(ctx, []model.Fact{
		{ConversationID: conv.ID, Content: "general fact", Category: model.CategoryGeneral, Embedding: []float32{1, 0}},
		{ConversationID: conv.ID, Content: "shadow fact", Category: model.CategoryShadow, Embedding: []float32{1, 0}},
	}))

	facts, err := store.GetRelevantFacts(ctx, conv.ID, []float32{1, 0}, 10, false)
	require.NoError(t, err)
	for _, f := range facts {
		assert.False(t, f.Category.Protected())
	}

	unlocked, err := store.GetRelevantFacts(ctx, conv.ID, []float32{1, 0}, 10, true)
	require.NoError(t, err)
	assert.Len(t, unlocked, 2)
}

func TestCompressHistoryReplacesPrefixWithSummary(t *testing.T) {
	store, convID := newTestStore(t, fakeSummarizer{text: "summary of the early turns"}, nil, Config{})
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_, err := store.AddMessage(ctx, convID, model.RoleUser, "turn content")
		require.NoError(t, err)
	}

	require.NoError(t, store.CompressHistory(ctx, convID))

	remaining, err := store.GetMessages(ctx, convID, 0)
	require.NoError(t, err)
	assert.Less(t, len(remaining), 8)
}

func TestCompressHistoryStopsAfterMaxRetries(t *testing.T) {
	store, convID := newTestStore(t, fakeSummarizer{err: errors.New("llm down")}, nil, Config{MaxCompressRetries: 2})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := store.AddMessage(ctx, convID, model.RoleUser, "turn content")
		require.NoError(t, err)
	}

	err1 := store.CompressHistory(ctx, convID)
	err2 := store.CompressHistory(ctx, convID)
	err3 := store.CompressHistory(ctx, convID)
	assert.Error(t, err1)
	assert.Error(t, err2)
	assert.Error(t, err3)
	assert.Contains(t, err3.Error(), "exceeded")
}

func TestDeleteConversationRemovesEverything(t *testing.T) {
	cache := &fakeCache{}
	store, convID := newTestStore(t, nil, cache, Config{})
	ctx := context.Background()
	_, err := store.AddMessage(ctx, convID, model.RoleUser, "hello")
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(ctx, convID))

	_, err = store.GetMessages(ctx, convID, 0)
	require.NoError(t, err) // memory backend returns empty slice for unknown conv id
	assert.True(t, cache.bumps >= 1)
}
