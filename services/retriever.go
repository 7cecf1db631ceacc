package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/telemetry"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/vector"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
)

// Retrieval modes.
const (
	RetrieverDense   = "dense"
	RetrieverKeyword = "keyword"
	RetrieverHybrid  = "hybrid"
)

// ScoredChunk pairs a chunk id with a relevance score from one retriever.
type ScoredChunk struct {
	ChunkID string
	Score   float64
}

// RetrievedChunk is a fully hydrated search result handed to the answer
// orchestrator.
type RetrievedChunk struct {
	Rank    int
	Score   float64
	ChunkID string
	Text    string
	Page    int
	Section string
	Images  []models.ChunkImage
	Tables  []models.ChunkTable
}

// Retriever finds the chunks most relevant to a question within one
// document. Dense search goes through the vector index, keyword search
// through the tf-idf index; hybrid blends both.
type Retriever struct {
	cfg      *config.Config
	stores   *database.Stores
	vectors  *vector.Index
	embedder *ai.Embedder
	keywords *KeywordIndex
	expander ai.Generator // optional, for LLM keyword expansion
	metrics  *telemetry.Metrics
}

func NewRetriever(
	cfg *config.Config,
	stores *database.Stores,
	vectors *vector.Index,
	embedder *ai.Embedder,
	keywords *KeywordIndex,
	expander ai.Generator,
	metrics *telemetry.Metrics,
) *Retriever {
	return &Retriever{
		cfg:      cfg,
		stores:   stores,
		vectors:  vectors,
		embedder: embedder,
		keywords: keywords,
		expander: expander,
		metrics:  metrics,
	}
}

// Retrieve runs the requested mode. An unknown mode falls back to the
// configured default. No matches is a valid empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, docID, query, imageB64, mode string, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}
	switch mode {
	case RetrieverDense, RetrieverKeyword, RetrieverHybrid:
	default:
		mode = r.cfg.DefaultRetriever
	}

	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordRetrieval(mode, time.Since(start).Seconds())
		}
	}()

	var (
		scored []ScoredChunk
		err    error
	)
	switch mode {
	case RetrieverDense:
		scored, err = r.denseSearch(ctx, docID, query, imageB64, topK)
	case RetrieverKeyword:
		scored, err = r.keywordSearch(ctx, docID, query, topK)
	case RetrieverHybrid:
		scored, err = r.hybridSearch(ctx, docID, query, imageB64, topK)
	}
	if err != nil {
		return nil, err
	}
	return r.hydrate(ctx, scored)
}

func (r *Retriever) denseSearch(ctx context.Context, docID, query, imageB64 string, topK int) ([]ScoredChunk, error) {
	vec, err := r.embedder.EncodeQuery(ctx, query, imageB64)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	hits, err := r.vectors.Search(ctx, vec, docID, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	scored := make([]ScoredChunk, len(hits))
	for i, h := range hits {
		scored[i] = ScoredChunk{ChunkID: h.ChunkID, Score: float64(h.Score)}
	}
	return scored, nil
}

func (r *Retriever) keywordSearch(ctx context.Context, docID, query string, topK int) ([]ScoredChunk, error) {
	terms := r.queryTerms(ctx, query)
	return r.keywords.Search(ctx, docID, terms, topK)
}

// hybridSearch over-fetches from both retrievers and blends scores:
// alpha weighs dense, (1-alpha) weighs keyword.
func (r *Retriever) hybridSearch(ctx context.Context, docID, query, imageB64 string, topK int) ([]ScoredChunk, error) {
	alpha := r.cfg.HybridAlpha

	dense, err := r.denseSearch(ctx, docID, query, imageB64, topK*2)
	if err != nil {
		return nil, err
	}
	keyword, err := r.keywordSearch(ctx, docID, query, topK*2)
	if err != nil {
		// Dense results alone still make a usable answer set.
		logger.Warn("hybrid: keyword search failed", "document_id", docID, "error", err)
		keyword = nil
	}

	blended := make(map[string]float64)
	for _, s := range dense {
		blended[s.ChunkID] += alpha * s.Score
	}
	for _, s := range keyword {
		blended[s.ChunkID] += (1 - alpha) * s.Score
	}

	scored := make([]ScoredChunk, 0, len(blended))
	for id, score := range blended {
		scored = append(scored, ScoredChunk{ChunkID: id, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// queryTerms extracts search terms from the question. When an expander
// model is configured it is asked for keywords first; any failure falls
// back to plain stop-word tokenization.
func (r *Retriever) queryTerms(ctx context.Context, query string) []string {
	if r.expander != nil {
		if terms := r.expandWithLLM(ctx, query); len(terms) > 0 {
			return terms
		}
	}
	return filterStopWords(tokenize(query))
}

func (r *Retriever) expandWithLLM(ctx context.Context, query string) []string {
	ctx, cancelFn := context.WithTimeout(ctx, 10*time.Second)
	defer cancelFn()

	out, err := r.expander.Generate(ctx, &ai.GenRequest{
		System: "You extract search keywords. Reply with a comma-separated list of 5-10 keywords and key phrases, nothing else.",
		Prompt: query,
	})
	if err != nil {
		logger.Debug("keyword expansion failed, using tokenization", "error", err)
		return nil
	}

	var terms []string
	for _, part := range strings.Split(out, ",") {
		for _, tok := range filterStopWords(tokenize(part)) {
			terms = append(terms, tok)
		}
	}
	return terms
}

// hydrate loads the chunk records behind the scores, preserving order.
func (r *Retriever) hydrate(ctx context.Context, scored []ScoredChunk) ([]RetrievedChunk, error) {
	if len(scored) == 0 {
		return []RetrievedChunk{}, nil
	}

	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ChunkID
	}
	chunks, err := r.stores.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Chunk, len(chunks))
	for i := range chunks {
		byID[chunks[i].ChunkID] = &chunks[i]
	}

	results := make([]RetrievedChunk, 0, len(scored))
	for _, s := range scored {
		ch, ok := byID[s.ChunkID]
		if !ok {
			continue // vector index ahead of the chunk store; skip the orphan
		}
		text, err := DecodeChunkText(ch)
		if err != nil {
			logger.Warn("retrieve: decode chunk", "chunk_id", ch.ChunkID, "error", err)
			continue
		}
		results = append(results, RetrievedChunk{
			Rank:    len(results) + 1,
			Score:   s.Score,
			ChunkID: ch.ChunkID,
			Text:    text,
			Page:    ch.Page,
			Section: ch.Section,
			Images:  ch.Images,
			Tables:  ch.Tables,
		})
	}
	return results, nil
}
