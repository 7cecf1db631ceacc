package routes

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/queue"
	"github.com/DaZeTw/LOL-PaperReader-sub000/middleware"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/services"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

// UploadDocument accepts a PDF, stores it and queues ingestion. An
// identical file already ingested by the same user short-circuits with
// the existing record.
func UploadDocument(cfg *config.Config, stores *database.Stores, blobs *blob.Store, queueClient *asynq.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "no_file", "No PDF file provided", nil)
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		data, err := io.ReadAll(io.LimitReader(file, cfg.MaxFileSize))
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_file", "Cannot read uploaded file", nil)
			return
		}
		if len(data) < 5 || string(data[:4]) != "%PDF" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_pdf", "File does not appear to be a valid PDF", nil)
			return
		}

		fileHash := utils.HashBytes(data)
		if existing, err := stores.FindDocumentByHash(c.Request.Context(), userID, fileHash); err == nil {
			c.JSON(http.StatusOK, models.UploadResponse{
				ID:         existing.ID.Hex(),
				Filename:   existing.Filename,
				Status:     existing.Status,
				Duplicate:  true,
				Message:    "Identical document already ingested",
				UploadedAt: existing.UploadedAt.Format(time.RFC3339),
			})
			return
		}

		suffix, err := utils.GenerateSecureRandomString(8)
		if err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "internal_error", "Failed to generate object key", nil)
			return
		}
		safeName := utils.SafeFilename(header.Filename)
		key := blob.PDFKey(userID, suffix, safeName)

		if err := blobs.Put(c.Request.Context(), key, data, "application/pdf"); err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "storage_error", "Failed to store file", nil)
			return
		}

		// Workspace membership is best-effort: documents stay
		// reachable by owner queries either way.
		wsID, wsErr := stores.EnsureDefaultWorkspace(c.Request.Context(), userID)

		doc := &models.Document{
			UserID:       userID,
			WorkspaceID:  wsID,
			Filename:     safeName,
			OriginalName: header.Filename,
			BlobPath:     key,
			FileHash:     fileHash,
			Size:         header.Size,
			Status:       models.DocStatusUploading,
			Features:     models.NewFeatureStatuses(),
			UploadedAt:   time.Now(),
		}
		if err := stores.InsertDocument(c.Request.Context(), doc); err != nil {
			blobs.Remove(c.Request.Context(), key)
			utils.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to create document record", nil)
			return
		}

		if wsErr == nil {
			stores.AddDocumentToWorkspace(c.Request.Context(), wsID, doc.ID)
		}

		task, err := queue.NewIngestTask(queue.IngestPayload{
			DocumentID: doc.ID.Hex(),
			UserID:     userID,
			BlobPath:   key,
			Filename:   safeName,
		})
		if err == nil {
			_, err = queueClient.Enqueue(task)
		}
		if err != nil {
			stores.UpdateDocumentStatus(c.Request.Context(), doc.ID.Hex(), models.DocStatusError, "failed to enqueue ingestion")
			utils.RespondWithError(c, http.StatusInternalServerError, "queue_error", "Failed to enqueue processing task", nil)
			return
		}

		c.JSON(http.StatusAccepted, models.UploadResponse{
			ID:         doc.ID.Hex(),
			Filename:   doc.Filename,
			Status:     doc.Status,
			Message:    "Document accepted for processing",
			UploadedAt: doc.UploadedAt.Format(time.RFC3339),
		})
	}
}

// DeleteDocumentsRequest is the body of POST /documents/delete.
type DeleteDocumentsRequest struct {
	DocumentIDs []string `json:"document_ids"`
	DeleteAll   bool     `json:"delete_all,omitempty"`
}

// DeleteDocuments cascades deletion of the named documents, or all the
// user's documents with delete_all. Idempotent.
func DeleteDocuments(maintenance *services.Maintenance) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req DeleteDocumentsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
			return
		}
		if !req.DeleteAll && len(req.DocumentIDs) == 0 {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_request", "document_ids required unless delete_all is set", nil)
			return
		}

		if err := maintenance.DeleteDocuments(c.Request.Context(), userID, req.DocumentIDs, req.DeleteAll); err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "delete_failed", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ListDocuments returns the caller's documents, newest first, paginated.
func ListDocuments(stores *database.Stores) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		docs, err := stores.ListDocuments(c.Request.Context(), userID)
		if err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "database_error", "Failed to retrieve documents", nil)
			return
		}

		page, limit := 1, 20
		if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && p > 0 {
			page = p
		}
		if l, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && l > 0 && l <= 100 {
			limit = l
		}
		total := len(docs)
		start := (page - 1) * limit
		if start > total {
			start = total
		}
		end := start + limit
		if end > total {
			end = total
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": docs[start:end],
			"pagination": gin.H{
				"page":        page,
				"limit":       limit,
				"total":       total,
				"total_pages": (total + limit - 1) / limit,
			},
		})
	}
}

// GetDocumentFile streams the source PDF through a presigned URL
// redirect. Returns 503 while the document has not finished uploading.
func GetDocumentFile(stores *database.Stores, blobs *blob.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		serveDocumentFile(c, stores, blobs, c.Param("id"))
	}
}

// DownloadDocument is the query-parameter variant of GetDocumentFile.
func DownloadDocument(stores *database.Stores, blobs *blob.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		serveDocumentFile(c, stores, blobs, c.Query("id"))
	}
}

func serveDocumentFile(c *gin.Context, stores *database.Stores, blobs *blob.Store, docID string) {
	userID := middleware.GetUserID(c)

	doc, err := stores.GetDocument(c.Request.Context(), docID)
	if err != nil || doc.UserID != userID {
		utils.RespondWithError(c, http.StatusNotFound, "document_not_found", "Document not found", nil)
		return
	}
	if doc.BlobPath == "" {
		utils.RespondWithError(c, http.StatusServiceUnavailable, "not_ready", "Document is still being uploaded", nil)
		return
	}

	url, err := blobs.PresignedGet(c.Request.Context(), doc.BlobPath, 15*time.Minute)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "storage_error", "Failed to generate download link", nil)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// GetDocument returns one document record with its feature statuses.
func GetDocument(stores *database.Stores) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		doc, err := stores.GetDocument(c.Request.Context(), c.Param("id"))
		if err != nil || doc.UserID != userID {
			utils.RespondWithError(c, http.StatusNotFound, "document_not_found", "Document not found", nil)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// ClearOutput wipes derived pipeline state: data directory, embed
// cache, keyword indexes and parse locks. In-flight jobs drain at their
// next cancellation checkpoint.
func ClearOutput(maintenance *services.Maintenance) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := maintenance.ClearOutput(c.Request.Context()); err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "clear_failed", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
