package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
)

// KeywordIndex holds per-document TF-IDF indexes over unigrams and
// bigrams. Indexes are built lazily on first search and cached until the
// document's chunks change or a global reset clears everything.
type KeywordIndex struct {
	stores *database.Stores

	mu   sync.RWMutex
	docs map[string]*docKeywordIndex
}

type docKeywordIndex struct {
	chunkIDs []string
	vectors  []map[string]float64 // sparse tf-idf per chunk
	idf      map[string]float64
}

func NewKeywordIndex(stores *database.Stores) *KeywordIndex {
	return &KeywordIndex{
		stores: stores,
		docs:   make(map[string]*docKeywordIndex),
	}
}

// Invalidate drops the cached index for one document. Called after
// re-ingestion and on document delete.
func (k *KeywordIndex) Invalidate(docID string) {
	k.mu.Lock()
	delete(k.docs, docID)
	k.mu.Unlock()
}

// Reset drops every cached index. Called by clear-output.
func (k *KeywordIndex) Reset() {
	k.mu.Lock()
	k.docs = make(map[string]*docKeywordIndex)
	k.mu.Unlock()
}

// Search scores the document's chunks against the query terms by cosine
// similarity in tf-idf space and returns the topK chunk ids with scores.
func (k *KeywordIndex) Search(ctx context.Context, docID string, terms []string, topK int) ([]ScoredChunk, error) {
	idx, err := k.indexFor(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(idx.chunkIDs) == 0 || len(terms) == 0 {
		return nil, nil
	}

	query := make(map[string]float64)
	for _, g := range ngrams(terms) {
		weight, ok := idx.idf[g]
		if !ok {
			continue
		}
		query[g] += weight
	}
	if len(query) == 0 {
		return nil, nil
	}

	scored := make([]ScoredChunk, 0, len(idx.chunkIDs))
	for i, vec := range idx.vectors {
		if s := sparseCosine(query, vec); s > 0 {
			scored = append(scored, ScoredChunk{ChunkID: idx.chunkIDs[i], Score: s})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (k *KeywordIndex) indexFor(ctx context.Context, docID string) (*docKeywordIndex, error) {
	k.mu.RLock()
	idx, ok := k.docs[docID]
	k.mu.RUnlock()
	if ok {
		return idx, nil
	}

	oid, err := primitive.ObjectIDFromHex(docID)
	if err != nil {
		return nil, fmt.Errorf("invalid document id: %w", err)
	}
	chunks, err := k.stores.GetChunksByDocument(ctx, oid)
	if err != nil {
		return nil, err
	}

	idx = &docKeywordIndex{idf: make(map[string]float64)}
	docFreq := make(map[string]int)
	var termLists [][]string

	for i := range chunks {
		text, err := DecodeChunkText(&chunks[i])
		if err != nil {
			logger.Warn("keyword index: decode chunk", "chunk_id", chunks[i].ChunkID, "error", err)
			text = chunks[i].Text
		}
		grams := ngrams(filterStopWords(tokenize(text)))
		termLists = append(termLists, grams)
		idx.chunkIDs = append(idx.chunkIDs, chunks[i].ChunkID)

		seen := make(map[string]bool)
		for _, g := range grams {
			if !seen[g] {
				seen[g] = true
				docFreq[g]++
			}
		}
	}

	n := float64(len(chunks))
	for g, df := range docFreq {
		idx.idf[g] = math.Log(n/(1+float64(df))) + 1
	}

	for _, grams := range termLists {
		tf := make(map[string]float64)
		for _, g := range grams {
			tf[g]++
		}
		vec := make(map[string]float64, len(tf))
		for g, count := range tf {
			vec[g] = count / float64(len(grams)) * idx.idf[g]
		}
		idx.vectors = append(idx.vectors, vec)
	}

	k.mu.Lock()
	k.docs[docID] = idx
	k.mu.Unlock()
	return idx, nil
}

// ngrams expands tokens into unigrams plus adjacent bigrams.
func ngrams(tokens []string) []string {
	grams := make([]string, 0, len(tokens)*2)
	for i, t := range tokens {
		grams = append(grams, t)
		if i+1 < len(tokens) {
			grams = append(grams, t+" "+tokens[i+1])
		}
	}
	return grams
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"how": true, "in": true, "is": true, "it": true, "its": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "will": true, "with": true,
	"do": true, "does": true, "can": true, "about": true,
}

func filterStopWords(tokens []string) []string {
	out := tokens[:0:0]
	for _, t := range tokens {
		if !stopWords[t] && len(t) > 1 {
			out = append(out, t)
		}
	}
	return out
}

func sparseCosine(a, b map[string]float64) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var dot float64
	for g, va := range small {
		if vb, ok := large[g]; ok {
			dot += va * vb
		}
	}
	if dot == 0 {
		return 0
	}
	var na, nb float64
	for _, v := range a {
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
