package routes

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/ai"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/middleware"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/services"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

// CreateSession creates a chat session bound to a document, reusing an
// existing session with the same title unless force_new is set. The
// document binding comes from an explicit document_id, or is resolved
// from a title of the form "Chat: <filename>[ - <ts> - <rand>]".
func CreateSession(stores *database.Stores) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req models.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
			return
		}
		// An authenticated identity always wins over the body field.
		if req.UserID != "" && !c.GetBool("authenticated") {
			userID = req.UserID
		}

		if !req.ForceNew {
			if existing, err := stores.FindSessionByTitle(c.Request.Context(), userID, req.Title); err == nil {
				c.JSON(http.StatusOK, sessionResponse(existing, true))
				return
			}
		}

		sess := &models.ChatSession{
			UserID:    userID,
			Title:     req.Title,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		switch {
		case req.DocumentID != "":
			oid, err := primitive.ObjectIDFromHex(req.DocumentID)
			if err != nil {
				utils.RespondWithError(c, http.StatusBadRequest, "invalid_document_id",
					"document_id is not a valid id", nil)
				return
			}
			doc, err := stores.GetDocument(c.Request.Context(), req.DocumentID)
			if err != nil || doc.UserID != userID {
				utils.RespondWithError(c, http.StatusNotFound, "document_not_found",
					"Document not found", nil)
				return
			}
			sess.DocumentID = oid
		default:
			// Resolve the filename embedded in the title. An unresolved
			// name leaves the session unbound rather than failing the
			// create; asking in it reports the missing context.
			if name := documentNameFromTitle(req.Title); name != "" {
				if doc, err := stores.FindLatestDocumentByName(c.Request.Context(), userID, name); err == nil {
					sess.DocumentID = doc.ID
				}
			}
		}

		if err := stores.InsertSession(c.Request.Context(), sess); err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "database_error",
				"Failed to create session", nil)
			return
		}

		if msg := strings.TrimSpace(req.InitialMessage); msg != "" {
			first := &models.ChatMessage{
				SessionID: sess.ID,
				UserID:    userID,
				Role:      models.RoleUser,
				Content:   msg,
				CreatedAt: time.Now(),
			}
			if err := stores.InsertMessage(c.Request.Context(), first); err != nil {
				utils.RespondWithError(c, http.StatusInternalServerError, "database_error",
					"Failed to record initial message", nil)
				return
			}
		}

		c.JSON(http.StatusCreated, sessionResponse(sess, false))
	}
}

// documentNameFromTitle extracts the PDF filename from a session title
// of the form "Chat: <filename>[ - <timestamp> - <randomid>]". Titles
// without the prefix carry no binding.
func documentNameFromTitle(title string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(title), "Chat:")
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	parts := strings.Split(rest, " - ")
	if len(parts) >= 3 {
		// The last two segments are the timestamp and random suffix;
		// the filename itself may contain " - ".
		return strings.Join(parts[:len(parts)-2], " - ")
	}
	return rest
}

func sessionResponse(sess *models.ChatSession, reused bool) models.SessionResponse {
	resp := models.SessionResponse{
		SessionID: sess.ID.Hex(),
		Title:     sess.Title,
		Reused:    reused,
		CreatedAt: sess.CreatedAt,
	}
	if !sess.DocumentID.IsZero() {
		resp.DocumentID = sess.DocumentID.Hex()
	}
	return resp
}

// GetSession returns the session record with its ordered messages.
func GetSession(stores *database.Stores) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		sess, err := stores.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil || sess.UserID != userID {
			utils.RespondWithError(c, http.StatusNotFound, "session_not_found", "Session not found", nil)
			return
		}
		msgs, err := stores.GetSessionMessages(c.Request.Context(), sess.ID, 0)
		if err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "database_error",
				"Failed to load messages", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session":  sessionResponse(sess, false),
			"messages": msgs,
		})
	}
}

// Ask answers a question against the session's document.
func Ask(answerSvc *services.AnswerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		var req models.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
			return
		}
		answerQuestion(c, answerSvc, userID, &req)
	}
}

// AskWithUpload is the multipart variant of Ask: attached images are
// saved under the temp chat image dir and their paths travel with the
// user message.
func AskWithUpload(cfg *config.Config, answerSvc *services.AnswerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		req := models.AskRequest{
			SessionID: c.PostForm("session_id"),
			Question:  c.PostForm("question"),
			Retriever: c.PostForm("retriever"),
			Generator: c.PostForm("generator"),
		}
		if req.SessionID == "" || strings.TrimSpace(req.Question) == "" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_request",
				"session_id and question are required", nil)
			return
		}

		form, err := c.MultipartForm()
		if err == nil && form != nil {
			if err := os.MkdirAll(cfg.TempChatImageDir, 0o755); err != nil {
				utils.RespondWithError(c, http.StatusInternalServerError, "storage_error",
					"Failed to prepare image storage", nil)
				return
			}
			for _, fh := range form.File["images"] {
				suffix, err := utils.GenerateSecureRandomString(8)
				if err != nil {
					continue
				}
				name := fmt.Sprintf("%s-%s", suffix, utils.SafeFilename(fh.Filename))
				dst := filepath.Join(cfg.TempChatImageDir, name)
				if err := c.SaveUploadedFile(fh, dst); err != nil {
					continue
				}
				req.UserImages = append(req.UserImages, dst)
			}
		}

		answerQuestion(c, answerSvc, userID, &req)
	}
}

func answerQuestion(c *gin.Context, answerSvc *services.AnswerService, userID string, req *models.AskRequest) {
	resp, err := answerSvc.Answer(c.Request.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			utils.RespondWithError(c, http.StatusNotFound, "session_not_found", "Session not found", nil)
		case errors.Is(err, services.ErrSessionMismatch):
			utils.RespondWithError(c, http.StatusForbidden, "session_mismatch", err.Error(), nil)
		case errors.Is(err, services.ErrNoContext):
			utils.RespondWithError(c, http.StatusUnprocessableEntity, "no_context",
				"No relevant content found in the document for this question", nil)
		case errors.Is(err, ai.ErrQuotaExceeded):
			utils.RespondWithError(c, http.StatusTooManyRequests, "quota_exceeded",
				"Daily token quota exceeded", nil)
		default:
			utils.RespondWithError(c, http.StatusInternalServerError, "answer_failed",
				"Failed to answer the question", nil)
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExportSession streams the session transcript as JSON or Excel.
func ExportSession(exportSvc *services.ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		format := c.DefaultQuery("format", services.ExportFormatJSON)

		file, err := exportSvc.ExportSession(c.Request.Context(), userID, c.Param("id"), format)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				utils.RespondWithError(c, http.StatusNotFound, "session_not_found", "Session not found", nil)
				return
			}
			utils.RespondWithError(c, http.StatusBadRequest, "export_failed", err.Error(), nil)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", file.Filename))
		c.Data(http.StatusOK, file.ContentType, file.Data)
	}
}
