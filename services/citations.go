package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
)

var (
	citationMarkerRe = regexp.MustCompile(`\[c(\d+)\]`)
	confidenceRe     = regexp.MustCompile(`\[CONFIDENCE:\s*([0-9]*\.?[0-9]+)\]\s*$`)
)

// previousQuestionPhrases flag answers that refer back to earlier turns.
// Markers in such answers that do not match a retrieved hit are resolved
// against citations stored on prior assistant messages.
var previousQuestionPhrases = []string{
	"previous question",
	"previous answer",
	"earlier question",
	"as mentioned before",
	"as mentioned earlier",
	"as discussed earlier",
	"as i said before",
	"in my previous",
	"last question",
}

func refersToPreviousQuestion(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range previousQuestionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// RewriteCitations renumbers the [cN] markers in an answer to a dense
// 1..K sequence ordered by first appearance, builds the citation records
// from the retrieved hits, and strips markers that resolve to nothing.
// Markers are rewritten largest-N-first so [c1] never matches inside
// [c10]. priorCitations come from earlier assistant turns in the session
// and back the previous-question heuristic; citations reused from there
// keep their existing excerpt and summary.
func RewriteCitations(answer, docID string, hits []RetrievedChunk, priorCitations []models.Citation) (string, []models.Citation) {
	matches := citationMarkerRe.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return answer, nil
	}

	priorByNumber := make(map[int]models.Citation)
	for _, c := range priorCitations {
		if _, ok := priorByNumber[c.Number]; !ok {
			priorByNumber[c.Number] = c
		}
	}
	usePrior := refersToPreviousQuestion(answer)

	// First-appearance order over distinct marker numbers.
	var order []int
	seen := make(map[int]bool)
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		order = append(order, n)
	}

	type resolved struct {
		newNumber int
		citation  models.Citation
	}
	assignment := make(map[int]resolved) // original N -> resolution
	dropped := make(map[int]bool)
	next := 1

	for _, n := range order {
		switch {
		case n >= 1 && n <= len(hits):
			hit := hits[n-1]
			assignment[n] = resolved{
				newNumber: next,
				citation:  citationFromHit(next, docID, hit),
			}
			next++
		case usePrior:
			prior, ok := priorByNumber[n]
			if !ok {
				dropped[n] = true
				continue
			}
			prior.Number = next
			prior.Label = fmt.Sprintf("c%d", next)
			assignment[n] = resolved{newNumber: next, citation: prior}
			next++
		default:
			dropped[n] = true
		}
	}

	// Rewrite via placeholders so a freshly written [c1] cannot be hit by
	// a later replacement of the original [c1].
	numbers := make([]int, 0, len(order))
	numbers = append(numbers, order...)
	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))

	rewritten := answer
	for _, n := range numbers {
		marker := fmt.Sprintf("[c%d]", n)
		if dropped[n] {
			rewritten = strings.ReplaceAll(rewritten, marker, "")
			continue
		}
		placeholder := fmt.Sprintf("\x02%d\x02", assignment[n].newNumber)
		rewritten = strings.ReplaceAll(rewritten, marker, placeholder)
	}
	for _, res := range assignment {
		placeholder := fmt.Sprintf("\x02%d\x02", res.newNumber)
		rewritten = strings.ReplaceAll(rewritten, placeholder, fmt.Sprintf("[c%d]", res.newNumber))
	}

	citations := make([]models.Citation, 0, len(assignment))
	for _, res := range assignment {
		citations = append(citations, res.citation)
	}
	sort.Slice(citations, func(i, j int) bool { return citations[i].Number < citations[j].Number })

	return strings.TrimSpace(rewritten), citations
}

func citationFromHit(number int, docID string, hit RetrievedChunk) models.Citation {
	var images []string
	for _, img := range hit.Images {
		images = append(images, img.BlobPath)
	}
	return models.Citation{
		Label:      fmt.Sprintf("c%d", number),
		Number:     number,
		ChunkID:    hit.ChunkID,
		DocumentID: docID,
		Section:    hit.Section,
		Page:       hit.Page,
		Excerpt:    SummarizeExcerpt(hit.Text),
		FullText:   hit.Text,
		Score:      hit.Score,
		Images:     images,
	}
}

// ParseConfidence extracts the trailing [CONFIDENCE:x.xx] token. When
// missing, confidence is the mean retriever score clamped to [0.3, 0.95],
// or 0.5 with no scores at all. Returns the answer with the token removed.
func ParseConfidence(answer string, scores []float64) (string, float64) {
	if m := confidenceRe.FindStringSubmatch(answer); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			cleaned := strings.TrimSpace(confidenceRe.ReplaceAllString(answer, ""))
			return cleaned, clamp(v, 0, 1)
		}
	}

	if len(scores) == 0 {
		return answer, 0.5
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return answer, clamp(sum/float64(len(scores)), 0.3, 0.95)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SummarizeExcerpt shortens long source text to a head...tail form cut
// at word boundaries. Over 950 chars keeps 800 head and 150 tail;
// 500-950 keeps 400 and 100; shorter text passes through unchanged.
func SummarizeExcerpt(text string) string {
	switch n := len(text); {
	case n > 950:
		return headWords(text, 800) + "..." + tailWords(text, 150)
	case n >= 500:
		return headWords(text, 400) + "..." + tailWords(text, 100)
	default:
		return text
	}
}

func headWords(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func tailWords(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[len(text)-max:]
	if i := strings.IndexByte(cut, ' '); i >= 0 {
		cut = cut[i+1:]
	}
	return strings.TrimSpace(cut)
}
