package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First thing. Second thing! Third thing? Fourth")
	require.Len(t, sentences, 4)
	assert.Equal(t, "First thing.", sentences[0])
	assert.Equal(t, "Second thing!", sentences[1])
	assert.Equal(t, "Third thing?", sentences[2])
	assert.Equal(t, "Fourth", sentences[3])
}

func TestSplitSentencesEmpty(t *testing.T) {
	assert.Nil(t, splitSentences(""))
	assert.Nil(t, splitSentences("   \n "))
}

func TestSemanticSplitShortTextWhole(t *testing.T) {
	s := newSemanticSplitter()
	out := s.Split("Only two sentences here. Nothing to split.")
	require.Len(t, out, 1)
	assert.Equal(t, "Only two sentences here. Nothing to split.", out[0])
}

func TestSemanticSplitEmpty(t *testing.T) {
	s := newSemanticSplitter()
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("  \n  "))
}

func TestSemanticSplitCoversAllSentences(t *testing.T) {
	s := newSemanticSplitter()
	text := "Cats sleep all day. Cats also nap at night. Cats enjoy sleeping. " +
		"Quantum entanglement links particle states. Entangled particles correlate at distance. " +
		"Measurement collapses the shared state."
	segments := s.Split(text)
	require.NotEmpty(t, segments)

	joined := strings.Join(segments, " ")
	for _, sent := range splitSentences(text) {
		assert.Contains(t, joined, sent)
	}
}

func TestSemanticSplitDeterministic(t *testing.T) {
	s := newSemanticSplitter()
	text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota. Kappa lambda mu. Nu xi omicron."
	first := s.Split(text)
	second := s.Split(text)
	assert.Equal(t, first, second)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, World 42!"))
	assert.Empty(t, tokenize("!!! ---"))
}

func TestCosineSim(t *testing.T) {
	a := []float64{1, 0, 1}
	assert.InDelta(t, 1.0, cosineSim(a, a), 1e-9)
	assert.InDelta(t, 0.0, cosineSim([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSim([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, cosineSim([]float64{0, 0}, []float64{1, 1}))
}

func TestPercentileNearestRank(t *testing.T) {
	values := []float64{5, 1, 3, 2, 4}
	assert.Equal(t, 3.0, percentile(values, 50))
	assert.Equal(t, 4.0, percentile(values, 95))
	assert.Equal(t, 1.0, percentile(values, 0))
	assert.Equal(t, 0.0, percentile(nil, 95))
}

func TestKmeans1D(t *testing.T) {
	assert.Nil(t, kmeans1D(nil, 2, 10))
	assert.Nil(t, kmeans1D([]float64{1}, 0, 10))

	centroids := kmeans1D([]float64{1, 1, 1, 10, 10, 10}, 2, 25)
	require.Len(t, centroids, 2)
	assert.Greater(t, centroids[0], centroids[1]) // sorted descending
	assert.InDelta(t, 10.0, centroids[0], 0.01)
	assert.InDelta(t, 1.0, centroids[1], 0.01)

	// k larger than the input clamps.
	assert.Len(t, kmeans1D([]float64{2, 4}, 5, 10), 2)
}

func TestKmeans1DDeterministic(t *testing.T) {
	values := []float64{9.5, 11.2, 9.7, 14.1, 9.4, 11.0, 14.3}
	first := kmeans1D(values, 3, 25)
	second := kmeans1D(values, 3, 25)
	assert.Equal(t, first, second)
}
