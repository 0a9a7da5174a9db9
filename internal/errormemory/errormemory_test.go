package errormemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/model"
)

// stubEmbedder returns a fixed vector per input text, looked up by exact
// match, falling back to a zero vector for anything unregistered.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func TestRecordIgnoresNonCorrections(t *testing.T) {
	store := NewMemoryStore()
	em := New(&stubEmbedder{}, store)

	err := em.Record(context.Background(), 1, 2, "thanks, that works great", "here is a long explanation of the approach that spans many words to qualify as a long assistant turn indeed", model.CorrectionOther)
	require.NoError(t, err)

	cands, err := store.Candidates(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestRecordInsertsDetectedCorrection(t *testing.T) {
	store := NewMemoryStore()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"content deploy the service to staging": {1, 0, 0},
	}}
	em := New(embedder, store)

	err := em.Record(context.Background(), 1, 2, "no, that's wrong, deploy to staging instead", "deploy the service to staging", model.CorrectionContent)
	require.NoError(t, err)

	cands, err := store.Candidates(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].Occurrences)
	assert.Equal(t, model.CorrectionContent, cands[0].Category)
}

func TestRecordBumpsOccurrencesOnNearDuplicate(t *testing.T) {
	store := NewMemoryStore()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"content deploy the service to staging": {1, 0, 0},
	}}
	em := New(embedder, store)

	require.NoError(t, em.Record(context.Background(), 1, 2, "no, that's wrong", "deploy the service to staging", model.CorrectionContent))
	require.NoError(t, em.Record(context.Background(), 3, 4, "no, that's wrong again", "deploy the service to staging", model.CorrectionContent))

	cands, err := store.Candidates(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 2, cands[0].Occurrences)
}

func TestGetWarningReturnsBestMatchAboveThreshold(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), model.CorrectionEntry{
		OriginalResponse: "used tabs for indentation",
		UserCorrection:   "use spaces for indentation",
		Embedding:        []float32{1, 0, 0},
		CreatedAt:        time.Now(),
	}))
	em := New(&stubEmbedder{}, store)

	warning, ok, err := em.GetWarning(context.Background(), []float32{1, 0, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, warning, "used tabs for indentation")
	assert.Contains(t, warning, "use spaces for indentation")
}

func TestGetWarningNoneBelowThreshold(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), model.CorrectionEntry{
		OriginalResponse: "x",
		UserCorrection:   "y",
		Embedding:        []float32{0, 1, 0},
		CreatedAt:        time.Now(),
	}))
	em := New(&stubEmbedder{}, store)

	_, ok, err := em.GetWarning(context.Background(), []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetWarningEmptyStore(t *testing.T) {
	store := NewMemoryStore()
	em := New(&stubEmbedder{}, store)

	_, ok, err := em.GetWarning(context.Background(), []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetWarningExcludesOldCandidates(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), model.CorrectionEntry{
		OriginalResponse: "old failure",
		UserCorrection:   "old fix",
		Embedding:        []float32{1, 0, 0},
		CreatedAt:        time.Now().Add(-60 * 24 * time.Hour),
	}))
	em := New(&stubEmbedder{}, store)

	_, ok, err := em.GetWarning(context.Background(), []float32{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, ok)
}
