package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/cancel"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/vector"
)

// tempImageTTL is how long uploaded chat images survive before the
// scheduler removes them.
const tempImageTTL = 24 * time.Hour

// Maintenance owns destructive housekeeping: clear-output, the document
// delete cascade and the periodic temp-file sweeper.
type Maintenance struct {
	cfg       *config.Config
	stores    *database.Stores
	blobs     *blob.Store
	vectors   *vector.Index
	keywords  *KeywordIndex
	embedder  *ai.Embedder
	ingestor  *Ingestor
	gate      *cancel.Gate
	scheduler *gocron.Scheduler
}

func NewMaintenance(
	cfg *config.Config,
	stores *database.Stores,
	blobs *blob.Store,
	vectors *vector.Index,
	keywords *KeywordIndex,
	embedder *ai.Embedder,
	ingestor *Ingestor,
	gate *cancel.Gate,
) *Maintenance {
	return &Maintenance{
		cfg:      cfg,
		stores:   stores,
		blobs:    blobs,
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		ingestor: ingestor,
		gate:     gate,
	}
}

// ClearOutput cancels in-flight pipeline work, empties the data
// directory and drops every derived cache. The gate stays set until the
// directory is empty so a draining job cannot repopulate it.
func (m *Maintenance) ClearOutput(ctx context.Context) error {
	m.gate.Set()
	defer m.gate.Clear()

	if err := emptyDir(m.cfg.DataDir); err != nil {
		return fmt.Errorf("empty data dir: %w", err)
	}

	if err := m.embedder.Cache().Clear(); err != nil {
		logger.Warn("embed cache clear failed", "error", err)
	}
	m.keywords.Reset()
	m.ingestor.ResetParseLocks()

	logger.Info("output cleared", "data_dir", m.cfg.DataDir)
	return nil
}

// DeleteDocument removes one document and everything derived from it:
// chunks, vectors, blob objects, chat sessions and cached indexes.
// Idempotent; deleting an absent document is not an error.
func (m *Maintenance) DeleteDocument(ctx context.Context, userID, docID string) error {
	doc, err := m.stores.GetDocument(ctx, docID)
	if err != nil {
		if err == database.ErrNotFound {
			return nil
		}
		return err
	}
	if doc.UserID != userID {
		return database.ErrNotFound // don't leak other users' documents
	}

	if err := m.vectors.DeleteByDocument(ctx, docID); err != nil {
		logger.Warn("vector delete failed", "document_id", docID, "error", err)
	}
	if err := m.stores.DeleteChunks(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := m.stores.DeleteSessionsByDocument(ctx, doc.ID); err != nil {
		logger.Warn("session cascade failed", "document_id", docID, "error", err)
	}
	if err := m.blobs.RemovePrefix(ctx, blob.DocumentPrefix(userID, docID)); err != nil {
		logger.Warn("blob cascade failed", "document_id", docID, "error", err)
	}
	if doc.BlobPath != "" {
		if err := m.blobs.Remove(ctx, doc.BlobPath); err != nil {
			logger.Warn("source pdf delete failed", "document_id", docID, "error", err)
		}
	}
	m.keywords.Invalidate(docID)

	if err := m.stores.RemoveDocumentFromWorkspaces(ctx, userID, doc.ID); err != nil {
		logger.Warn("workspace pull failed", "document_id", docID, "error", err)
	}

	if err := m.stores.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete document record: %w", err)
	}
	logger.Info("document deleted", "document_id", docID, "user_id", userID)
	return nil
}

// DeleteDocuments cascades a batch of deletes concurrently. With
// deleteAll set, the ids are ignored and every document the user owns
// goes.
func (m *Maintenance) DeleteDocuments(ctx context.Context, userID string, docIDs []string, deleteAll bool) error {
	if deleteAll {
		docs, err := m.stores.ListDocuments(ctx, userID)
		if err != nil {
			return err
		}
		docIDs = docIDs[:0]
		for _, d := range docs {
			docIDs = append(docIDs, d.ID.Hex())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range docIDs {
		id := id
		g.Go(func() error {
			return m.DeleteDocument(gctx, userID, id)
		})
	}
	return g.Wait()
}

// StartScheduler launches the periodic sweepers: expired temp chat
// images hourly and stale ingestion scratch dirs daily.
func (m *Maintenance) StartScheduler() error {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	if _, err := s.Every(1 * time.Hour).Tag("temp-image-sweep").Do(func() {
		if n, err := sweepOldFiles(m.cfg.TempChatImageDir, tempImageTTL); err != nil {
			logger.Warn("temp image sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("temp images swept", "removed", n)
		}
	}); err != nil {
		return err
	}

	if _, err := s.Every(24 * time.Hour).Tag("scratch-sweep").Do(func() {
		scratch := filepath.Join(m.cfg.DataDir, "scratch")
		if n, err := sweepOldFiles(scratch, 48*time.Hour); err != nil {
			logger.Warn("scratch sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("scratch dirs swept", "removed", n)
		}
	}); err != nil {
		return err
	}

	s.StartAsync()
	m.scheduler = s
	return nil
}

func (m *Maintenance) StopScheduler() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// sweepOldFiles removes entries whose mtime is older than ttl. Returns
// the number removed.
func sweepOldFiles(dir string, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
