package vecmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineIdentical(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-9)
}

func TestCosineOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, Cosine(a, b), 1e-9)
}

func TestCosineZeroVector(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, 0.0, Cosine(a, b))
}

func TestCosineWithNormMatchesCosine(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, Cosine(a, b), CosineWithNorm(a, Norm(a), b), 1e-9)
}

func TestTopKOrdersDescendingAndTiesBreakByKey(t *testing.T) {
	scores := []Scored{
		{Key: "b", Score: 0.5},
		{Key: "a", Score: 0.5},
		{Key: "c", Score: 0.9},
	}
	top := TopK(scores, 2)
	assert.Equal(t, []Scored{{Key: "c", Score: 0.9}, {Key: "a", Score: 0.5}}, top)
}

func TestTopKClampsToLength(t *testing.T) {
	scores := []Scored{{Key: "a", Score: 1}}
	assert.Len(t, TopK(scores, 5), 1)
}
