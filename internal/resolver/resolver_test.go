package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/model"
)

func TestResolveSmallAndLarge(t *testing.T) {
	loaded := []string{"qwen2.5-14b-instruct", "qwen2.5-1.5b-instruct", "nomic-embed-text-v1.5"}

	small, err := Resolve(model.RoleSmall, loaded, DefaultPatterns)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-1.5b-instruct", small)

	large, err := Resolve(model.RoleLarge, loaded, DefaultPatterns)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-14b-instruct", large)
}

func TestResolveEmbeddingFilteredOut(t *testing.T) {
	loaded := []string{"nomic-embed-text-v1.5"}
	_, err := Resolve(model.RoleLarge, loaded, DefaultPatterns)
	assert.ErrorIs(t, err, coreerr.ErrNoModelAvailable)

	emb, err := Resolve(model.RoleEmbedding, loaded, DefaultPatterns)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text-v1.5", emb)
}

func TestResolveNoModelLoaded(t *testing.T) {
	name, err := Resolve(model.RoleLarge, nil, DefaultPatterns)
	assert.ErrorIs(t, err, coreerr.ErrNoModelAvailable)
	assert.Equal(t, DefaultModelName, name)
}

func TestResolveDeterministic(t *testing.T) {
	loaded := []string{"b-model-7b", "a-model-7b"}
	r1, _ := Resolve(model.RoleLarge, loaded, DefaultPatterns)
	r2, _ := Resolve(model.RoleLarge, loaded, DefaultPatterns)
	assert.Equal(t, r1, r2)
}

func TestResolveVisionRole(t *testing.T) {
	loaded := []string{"qwen2-vl-7b", "qwen2.5-14b-instruct"}
	v, err := Resolve(model.RoleVision, loaded, DefaultPatterns)
	require.NoError(t, err)
	assert.Equal(t, "qwen2-vl-7b", v)
}
