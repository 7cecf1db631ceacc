package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/cancel"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/telemetry"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/vector"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

// Ingestor runs the full document pipeline: parse, chunk, embed, index.
// One instance is shared by all ingestion tasks; the queue serializes
// them, but the parse-lock map also guards against concurrent parses of
// the same file arriving through other paths.
type Ingestor struct {
	cfg      *config.Config
	stores   *database.Stores
	blobs    *blob.Store
	vectors  *vector.Index
	embedder *ai.Embedder
	chunker  *Chunker
	parser   *PDFParser
	keywords *KeywordIndex
	agg      *StatusAggregator
	gate     *cancel.Gate
	metrics  *telemetry.Metrics

	lockMu     sync.Mutex
	parseLocks map[string]chan struct{}
}

func NewIngestor(
	cfg *config.Config,
	stores *database.Stores,
	blobs *blob.Store,
	vectors *vector.Index,
	embedder *ai.Embedder,
	keywords *KeywordIndex,
	agg *StatusAggregator,
	gate *cancel.Gate,
	metrics *telemetry.Metrics,
) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		stores:     stores,
		blobs:      blobs,
		vectors:    vectors,
		embedder:   embedder,
		chunker:    NewChunker(),
		parser:     NewPDFParser(),
		keywords:   keywords,
		agg:        agg,
		gate:       gate,
		metrics:    metrics,
		parseLocks: make(map[string]chan struct{}),
	}
}

// ResetParseLocks drops all per-file locks. Called by clear-output after
// the data directory has been emptied.
func (in *Ingestor) ResetParseLocks() {
	in.lockMu.Lock()
	in.parseLocks = make(map[string]chan struct{})
	in.lockMu.Unlock()
}

// tryParseLock acquires the per-file lock for path, waiting at most one
// second. A second ingest of the same file that loses the race skips the
// parse and reuses the markdown the winner produced.
func (in *Ingestor) tryParseLock(path string) (func(), bool) {
	in.lockMu.Lock()
	ch, ok := in.parseLocks[path]
	if !ok {
		ch = make(chan struct{}, 1)
		in.parseLocks[path] = ch
	}
	in.lockMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	case <-time.After(time.Second):
		return nil, false
	}
}

// Process runs the pipeline for one document. A cancellation via the
// gate marks the document cancelled and returns cancel.ErrCancelled;
// the queue layer treats that as non-retryable.
func (in *Ingestor) Process(ctx context.Context, docID string) error {
	start := time.Now()
	err := in.process(ctx, docID)

	status := "ok"
	switch {
	case errors.Is(err, cancel.ErrCancelled):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	if in.metrics != nil {
		in.metrics.RecordIngest(time.Since(start).Seconds(), status)
	}
	return err
}

func (in *Ingestor) process(ctx context.Context, docID string) error {
	start := time.Now()
	doc, err := in.stores.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	fail := func(stage string, err error) error {
		if errors.Is(err, cancel.ErrCancelled) || errors.Is(err, context.Canceled) {
			return in.markCancelled(docID)
		}
		logger.Error("ingest failed", "document_id", docID, "stage", stage, "error", err)
		in.setStatus(docID, models.DocStatusError, err.Error())
		in.setFeature(docID, models.FeatureEmbedding, models.FeatureFailed)
		in.agg.Flush(docID)
		return fmt.Errorf("%s: %w", stage, err)
	}

	if err := in.gate.Err(); err != nil {
		return in.markCancelled(docID)
	}

	// Source bytes.
	pdfBytes, err := in.blobs.Get(ctx, doc.BlobPath)
	if err != nil {
		return fail("fetch pdf", err)
	}

	in.setStatus(docID, models.DocStatusParsing, "")
	in.setFeature(docID, models.FeatureEmbedding, models.FeaturePending)

	result, err := in.parseWithReuse(ctx, doc, pdfBytes)
	if err != nil {
		return fail("parse", err)
	}

	mdKey := blob.DocumentPrefix(doc.UserID, docID) + "/markdown.md"
	if err := in.blobs.Put(ctx, mdKey, []byte(result.Markdown), "text/markdown"); err != nil {
		return fail("store markdown", err)
	}
	in.stores.SetDocumentFields(ctx, docID, bson.M{
		"markdown_path": mdKey,
		"pages":         result.Pages,
	})

	if err := in.gate.Err(); err != nil {
		return in.markCancelled(docID)
	}

	// Chunk.
	in.setStatus(docID, models.DocStatusChunking, "")
	if err := in.uploadAssets(ctx, doc.UserID, docID, result.Assets); err != nil {
		return fail("upload assets", err)
	}
	chunks := in.chunker.ChunkMarkdown(doc.ID, doc.UserID, result.Markdown, result.Assets)
	logger.Info("document chunked", "document_id", docID, "chunks", len(chunks), "pages", result.Pages)

	// Large chunk text is stored compressed; the in-memory set stays
	// plain for the embedding step below.
	stored, err := encodeForStorage(chunks)
	if err != nil {
		return fail("compress chunks", err)
	}
	if err := in.stores.ReplaceChunks(ctx, doc.ID, stored); err != nil {
		return fail("store chunks", err)
	}
	in.stores.SetDocumentFields(ctx, docID, bson.M{"chunk_count": len(chunks)})
	if in.keywords != nil {
		in.keywords.Invalidate(docID)
	}

	// Embed and index. A textless PDF carries one empty chunk; it gets
	// no vector but the document still becomes ready.
	in.setStatus(docID, models.DocStatusEmbedding, "")
	in.setFeature(docID, models.FeatureEmbedding, models.FeatureRunning)

	if err := in.embedAndIndex(ctx, docID, chunks); err != nil {
		return fail("embed", err)
	}

	now := time.Now()
	in.stores.SetDocumentFields(ctx, docID, bson.M{"processed_at": now})
	in.setStatus(docID, models.DocStatusReady, "")
	in.setFeature(docID, models.FeatureEmbedding, models.FeatureCompleted)
	in.agg.Flush(docID)

	logger.Info("ingest complete", "document_id", docID,
		"chunks", len(chunks), "duration", time.Since(start).String())
	return nil
}

// parseWithReuse skips the PDF parse when a markdown rendering at least
// as new as the source already exists, either in the local data dir or
// in the blob store.
func (in *Ingestor) parseWithReuse(ctx context.Context, doc *models.Document, pdfBytes []byte) (*ParseResult, error) {
	docID := doc.ID.Hex()
	mdLocal := in.localMarkdownPath(doc.Filename)
	mdKey := blob.DocumentPrefix(doc.UserID, docID) + "/markdown.md"

	srcInfo, statErr := in.blobs.Stat(ctx, doc.BlobPath)

	if md, ok := in.reuseLocalMarkdown(mdLocal, statErr == nil, srcInfo.LastModified); ok {
		logger.Info("reusing cached markdown", "document_id", docID, "path", mdLocal)
		return &ParseResult{Markdown: md, Pages: doc.Pages}, nil
	}

	release, ok := in.tryParseLock(doc.BlobPath)
	if !ok {
		// Another worker is parsing this file. Fall back to whatever
		// markdown it has already published.
		if md, err := in.blobs.Get(ctx, mdKey); err == nil {
			return &ParseResult{Markdown: string(md), Pages: doc.Pages}, nil
		}
		return nil, fmt.Errorf("parse already in progress for %s", doc.BlobPath)
	}
	defer release()

	scratch := filepath.Join(in.cfg.DataDir, "scratch", docID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, err
	}

	result, err := in.parser.Parse(ctx, pdfBytes, scratch)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(mdLocal, []byte(result.Markdown), 0o644); err != nil {
		logger.Warn("markdown cache write failed", "path", mdLocal, "error", err)
	}
	return result, nil
}

func (in *Ingestor) localMarkdownPath(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return filepath.Join(in.cfg.DataDir, stem+"-embedded.md")
}

func (in *Ingestor) reuseLocalMarkdown(path string, haveSrc bool, srcModified time.Time) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if haveSrc && srcModified.After(info.ModTime()) {
		return "", false // source was re-uploaded since the markdown was written
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// uploadAssets moves parsed figures and tables from the scratch dir into
// the blob store and records the final object keys on the assets.
func (in *Ingestor) uploadAssets(ctx context.Context, userID, docID string, assets []ParsedAsset) error {
	for i := range assets {
		a := &assets[i]
		if a.LocalPath == "" {
			continue
		}
		name := filepath.Base(a.LocalPath)
		var key, contentType string
		switch a.Kind {
		case "figure":
			key = blob.FigureKey(userID, docID, name)
			contentType = "image/png"
		case "table":
			key = blob.TableKey(userID, docID, name)
			contentType = "text/csv"
		default:
			continue
		}
		if err := in.blobs.PutFile(ctx, key, a.LocalPath, contentType); err != nil {
			return fmt.Errorf("upload %s %s: %w", a.Kind, name, err)
		}
		a.BlobPath = key
	}
	return nil
}

// embedAndIndex computes vectors for every chunk and replaces the
// document's points in the vector index. Table renderings are appended
// to the text before embedding; figure bytes are fetched from the blob
// store for joint text+image encoding.
func (in *Ingestor) embedAndIndex(ctx context.Context, docID string, chunks []models.Chunk) error {
	embeddable := make([]models.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) == "" && len(ch.Images) == 0 && len(ch.Tables) == 0 {
			continue
		}
		embeddable = append(embeddable, ch)
	}
	if len(embeddable) == 0 {
		return in.vectors.DeleteByDocument(ctx, docID)
	}
	chunks = embeddable

	if err := in.embedder.WaitReady(ctx); err != nil {
		return fmt.Errorf("embedding service not ready: %w", err)
	}

	inputs := make([]ai.EmbedInput, len(chunks))
	for i, ch := range chunks {
		text := in.embedText(ctx, ch)
		inputs[i] = ai.EmbedInput{
			CacheKey: utils.EmbedCacheKey(docID, ch.Ordinal, text),
			Text:     text,
			Images:   in.loadChunkImages(ctx, ch),
		}
	}

	vecs, err := in.embedder.EmbedChunks(ctx, in.gate, inputs)
	if err != nil {
		return err
	}

	points := make([]vector.Point, len(chunks))
	for i, ch := range chunks {
		points[i] = vector.Point{
			ChunkID:    ch.ChunkID,
			DocumentID: docID,
			Ordinal:    ch.Ordinal,
			Vector:     vecs[i],
		}
	}

	// Replace, never merge: stale points from a previous ingest of this
	// document must not survive.
	if err := in.vectors.DeleteByDocument(ctx, docID); err != nil {
		return fmt.Errorf("clear old vectors: %w", err)
	}
	if err := in.vectors.Upsert(ctx, points); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}
	return nil
}

// embedText renders the chunk for embedding: body text plus flattened
// tables, truncated to the embedder's table budget.
func (in *Ingestor) embedText(ctx context.Context, ch models.Chunk) string {
	text := ch.Text
	limit := in.embedder.TableTextLimit()
	for _, tbl := range ch.Tables {
		tblText := tbl.Text
		if tblText == "" && tbl.BlobPath != "" {
			if data, err := in.blobs.Get(ctx, tbl.BlobPath); err == nil {
				tblText = string(data)
			}
		}
		if tblText == "" {
			continue
		}
		if len(tblText) > limit {
			tblText = tblText[:limit]
		}
		text += fmt.Sprintf("\n\nTable %s:\n%s", tbl.Label, tblText)
	}
	return text
}

func (in *Ingestor) loadChunkImages(ctx context.Context, ch models.Chunk) [][]byte {
	var images [][]byte
	for _, img := range ch.Images {
		if img.BlobPath == "" {
			continue
		}
		data, err := in.blobs.Get(ctx, img.BlobPath)
		if err != nil {
			logger.Warn("chunk image fetch failed", "path", img.BlobPath, "error", err)
			continue
		}
		images = append(images, data)
	}
	return images
}

// markCancelled leaves the document status at its last successful step;
// only the embedding feature is marked failed so the client sees the
// pipeline did not finish.
func (in *Ingestor) markCancelled(docID string) error {
	logger.Info("ingest cancelled", "document_id", docID)
	in.setFeature(docID, models.FeatureEmbedding, models.FeatureFailed)
	in.agg.Flush(docID)
	return cancel.ErrCancelled
}

// setStatus and setFeature are best-effort: a failed status write must
// not abort the pipeline.
func (in *Ingestor) setStatus(docID, status, errMsg string) {
	ctx, cancelFn := utils.WithTimeout()
	defer cancelFn()
	if err := in.stores.UpdateDocumentStatus(ctx, docID, status, errMsg); err != nil {
		logger.Error("status update failed", "document_id", docID, "status", status, "error", err)
	}
	in.agg.NotifyTaskStatus(docID, "ingest", status)
}

func (in *Ingestor) setFeature(docID, feature, status string) {
	ctx, cancelFn := utils.WithTimeout()
	defer cancelFn()
	if err := in.stores.UpdateFeatureStatus(ctx, docID, feature, status); err != nil {
		logger.Error("feature update failed", "document_id", docID, "feature", feature, "error", err)
	}
	in.agg.NotifyTaskStatus(docID, feature, status)
}
