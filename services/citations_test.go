package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
)

func testHits(n int) []RetrievedChunk {
	hits := make([]RetrievedChunk, n)
	for i := range hits {
		hits[i] = RetrievedChunk{
			Rank:    i + 1,
			Score:   0.9 - float64(i)*0.1,
			ChunkID: "chunk-" + string(rune('a'+i)),
			Text:    "Context text for chunk number " + string(rune('a'+i)) + ".",
			Section: "Methods",
			Page:    i + 1,
		}
	}
	return hits
}

func TestRewriteCitationsFirstAppearanceOrder(t *testing.T) {
	answer := "See [c3] for details and [c1] for background."
	rewritten, citations := RewriteCitations(answer, "doc1", testHits(3), nil)

	assert.Equal(t, "See [c1] for details and [c2] for background.", rewritten)
	assert.Len(t, citations, 2)
	assert.Equal(t, 1, citations[0].Number)
	assert.Equal(t, "chunk-c", citations[0].ChunkID) // original [c3]
	assert.Equal(t, 2, citations[1].Number)
	assert.Equal(t, "chunk-a", citations[1].ChunkID) // original [c1]
}

func TestRewriteCitationsLargeMarkerDoesNotCollide(t *testing.T) {
	answer := "First [c10], then [c1]."
	rewritten, citations := RewriteCitations(answer, "doc1", testHits(10), nil)

	assert.Equal(t, "First [c1], then [c2].", rewritten)
	assert.Len(t, citations, 2)
	assert.Equal(t, "chunk-j", citations[0].ChunkID)
	assert.Equal(t, "chunk-a", citations[1].ChunkID)
}

func TestRewriteCitationsRepeatedMarker(t *testing.T) {
	answer := "Both [c2] and again [c2]."
	rewritten, citations := RewriteCitations(answer, "doc1", testHits(2), nil)

	assert.Equal(t, "Both [c1] and again [c1].", rewritten)
	assert.Len(t, citations, 1)
}

func TestRewriteCitationsOutOfRangeDropped(t *testing.T) {
	answer := "The claim [c5] is unsupported."
	rewritten, citations := RewriteCitations(answer, "doc1", testHits(2), nil)

	assert.NotContains(t, rewritten, "[c")
	assert.Empty(t, citations)
}

func TestRewriteCitationsReusesPriorOnBackReference(t *testing.T) {
	answer := "As mentioned earlier, the result [c7] still holds."
	prior := []models.Citation{{
		Label:   "c7",
		Number:  7,
		ChunkID: "old-chunk",
		Excerpt: "preserved excerpt",
		Summary: "preserved summary",
	}}

	rewritten, citations := RewriteCitations(answer, "doc1", nil, prior)

	assert.Contains(t, rewritten, "[c1]")
	assert.Len(t, citations, 1)
	assert.Equal(t, 1, citations[0].Number)
	assert.Equal(t, "c1", citations[0].Label)
	assert.Equal(t, "old-chunk", citations[0].ChunkID)
	assert.Equal(t, "preserved excerpt", citations[0].Excerpt)
	assert.Equal(t, "preserved summary", citations[0].Summary)
}

func TestRewriteCitationsNoMarkers(t *testing.T) {
	rewritten, citations := RewriteCitations("Plain answer.", "doc1", testHits(2), nil)
	assert.Equal(t, "Plain answer.", rewritten)
	assert.Nil(t, citations)
}

func TestParseConfidenceExplicitToken(t *testing.T) {
	answer, conf := ParseConfidence("The answer is clear. [CONFIDENCE:0.85]", nil)
	assert.Equal(t, "The answer is clear.", answer)
	assert.InDelta(t, 0.85, conf, 1e-9)
}

func TestParseConfidenceTokenClamped(t *testing.T) {
	_, conf := ParseConfidence("Sure. [CONFIDENCE:1.50]", nil)
	assert.InDelta(t, 1.0, conf, 1e-9)
}

func TestParseConfidenceDerivedFromScores(t *testing.T) {
	answer, conf := ParseConfidence("No token here.", []float64{0.1, 0.1})
	assert.Equal(t, "No token here.", answer)
	assert.InDelta(t, 0.3, conf, 1e-9) // mean 0.1 clamped up

	_, conf = ParseConfidence("No token here.", []float64{0.99, 0.99})
	assert.InDelta(t, 0.95, conf, 1e-9) // mean clamped down

	_, conf = ParseConfidence("No token here.", []float64{0.6, 0.8})
	assert.InDelta(t, 0.7, conf, 1e-9)
}

func TestParseConfidenceDefault(t *testing.T) {
	_, conf := ParseConfidence("No token, no scores.", nil)
	assert.InDelta(t, 0.5, conf, 1e-9)
}

func TestSummarizeExcerptShortPassthrough(t *testing.T) {
	text := "A short excerpt."
	assert.Equal(t, text, SummarizeExcerpt(text))
}

func TestSummarizeExcerptMedium(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("medium words here ", 40)) // ~720 chars
	out := SummarizeExcerpt(text)

	assert.Contains(t, out, "...")
	assert.LessOrEqual(t, len(out), 400+3+100)
	assert.True(t, strings.HasPrefix(text, strings.SplitN(out, "...", 2)[0]))
}

func TestSummarizeExcerptLong(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("lengthy source sentence ", 60)) // ~1440 chars
	out := SummarizeExcerpt(text)

	assert.Contains(t, out, "...")
	assert.LessOrEqual(t, len(out), 800+3+150)
	assert.True(t, strings.HasSuffix(text, strings.SplitN(out, "...", 2)[1]))
}

func TestRefersToPreviousQuestion(t *testing.T) {
	assert.True(t, refersToPreviousQuestion("As Mentioned Earlier, yes."))
	assert.True(t, refersToPreviousQuestion("see my previous answer"))
	assert.False(t, refersToPreviousQuestion("The experiment shows X."))
}
