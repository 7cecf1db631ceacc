package services

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
)

// semanticSplitter breaks long section bodies where the topic shifts.
// Sentences are encoded with a light hashed term-frequency vector; a
// break lands wherever the cosine distance between consecutive sentences
// exceeds the 95th percentile of the section's distances.
//
// A single splitter is shared across ingestion jobs and serialized by a
// mutex; the encoder's scratch state is not safe for concurrent use.
type semanticSplitter struct {
	mu  sync.Mutex
	dim int
}

var sentenceEndRe = regexp.MustCompile(`([.!?])\s+`)

func newSemanticSplitter() *semanticSplitter {
	return &semanticSplitter{dim: 256}
}

// Split returns groups of sentences that belong together. Sections with
// fewer than three sentences come back whole.
func (s *semanticSplitter) Split(text string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sentences := splitSentences(text)
	if len(sentences) < 3 {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{strings.TrimSpace(text)}
	}

	vectors := make([][]float64, len(sentences))
	for i, sent := range sentences {
		vectors[i] = s.encode(sent)
	}

	// Distance between each consecutive pair; buffer size 1 means each
	// sentence is compared only to its immediate neighbor.
	distances := make([]float64, len(sentences)-1)
	for i := 0; i < len(sentences)-1; i++ {
		distances[i] = 1 - cosineSim(vectors[i], vectors[i+1])
	}

	threshold := percentile(distances, 95)

	var segments []string
	var current []string
	for i, sent := range sentences {
		current = append(current, sent)
		if i < len(distances) && distances[i] > threshold && len(current) > 0 {
			segments = append(segments, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		segments = append(segments, strings.Join(current, " "))
	}
	return segments
}

// encode builds a hashed TF vector. Collisions are acceptable; only the
// relative angle between neighboring sentences matters.
func (s *semanticSplitter) encode(sentence string) []float64 {
	vec := make([]float64, s.dim)
	for _, tok := range tokenize(sentence) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(s.dim)]++
	}
	return vec
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	marked := sentenceEndRe.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var sentences []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func cosineSim(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
