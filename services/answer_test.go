package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
)

func TestExtractiveAnswerPicksRelevantSentence(t *testing.T) {
	hits := []RetrievedChunk{
		{Text: "The dataset contains ten thousand labeled images. Preprocessing removes duplicates."},
		{Text: "Transformers rely on self-attention over token sequences. Training uses eight GPUs."},
	}

	answer := extractiveAnswer("how do transformers use self-attention", hits)

	assert.Contains(t, answer, "self-attention")
	assert.True(t, strings.HasSuffix(answer, "[c2]"), "answer should cite the second context: %q", answer)
}

func TestExtractiveAnswerNoCandidates(t *testing.T) {
	answer := extractiveAnswer("anything", nil)
	assert.Contains(t, answer, "could not find")
}

func TestFitHistoryDropsOldestFirst(t *testing.T) {
	turns := []ai.Turn{
		{Role: "user", Content: strings.Repeat("old turn words ", 50)},
		{Role: "assistant", Content: strings.Repeat("middle turn words ", 50)},
		{Role: "user", Content: "recent short turn"},
	}

	// Generous budget keeps everything.
	kept := fitHistory(turns, "prompt", 100000)
	assert.Len(t, kept, 3)

	// Tight budget drops from the front.
	kept = fitHistory(turns, "prompt", 300)
	if assert.NotEmpty(t, kept) {
		assert.Equal(t, "recent short turn", kept[len(kept)-1].Content)
		assert.Less(t, len(kept), 3)
	}
}

func TestImageDataURL(t *testing.T) {
	url := imageDataURL("figures/plot.jpg", []byte{0xff, 0xd8})
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))

	url = imageDataURL("figures/plot.png", []byte{1, 2, 3})
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestFirstImagePayload(t *testing.T) {
	assert.Equal(t, "", firstImagePayload(nil))
	assert.Equal(t, "QUJD", firstImagePayload([]string{"data:image/png;base64,QUJD"}))
}
