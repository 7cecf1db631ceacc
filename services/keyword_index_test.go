package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNgrams(t *testing.T) {
	grams := ngrams([]string{"deep", "neural", "network"})
	assert.Equal(t, []string{
		"deep", "deep neural", "neural", "neural network", "network",
	}, grams)

	assert.Equal(t, []string{"solo"}, ngrams([]string{"solo"}))
	assert.Empty(t, ngrams(nil))
}

func TestFilterStopWords(t *testing.T) {
	out := filterStopWords([]string{"the", "model", "is", "a", "transformer", "x"})
	assert.Equal(t, []string{"model", "transformer"}, out)
}

func TestSparseCosine(t *testing.T) {
	a := map[string]float64{"attention": 1, "model": 1}
	assert.InDelta(t, 1.0, sparseCosine(a, a), 1e-9)

	b := map[string]float64{"protein": 1, "folding": 1}
	assert.Equal(t, 0.0, sparseCosine(a, b))

	// Partial overlap lands strictly between.
	c := map[string]float64{"attention": 1, "folding": 1}
	sim := sparseCosine(a, c)
	assert.Greater(t, sim, 0.0)
	assert.Less(t, sim, 1.0)
}

func TestKeywordIndexInvalidate(t *testing.T) {
	k := NewKeywordIndex(nil)
	k.docs["doc1"] = &docKeywordIndex{}
	k.docs["doc2"] = &docKeywordIndex{}

	k.Invalidate("doc1")
	assert.NotContains(t, k.docs, "doc1")
	assert.Contains(t, k.docs, "doc2")

	k.Reset()
	assert.Empty(t, k.docs)
}
