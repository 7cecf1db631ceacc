package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/database"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/vector"
	"github.com/DaZeTw/LOL-PaperReader-sub000/middleware"
	"github.com/DaZeTw/LOL-PaperReader-sub000/models"
	"github.com/DaZeTw/LOL-PaperReader-sub000/services"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The status stream is read-only data scoped to a document the
	// caller already knows; cross-origin reads are acceptable.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HealthCheck is a liveness probe.
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ReadyCheck pings every dependency concurrently and reports which are
// reachable. Any failure yields 503.
func ReadyCheck(mongoClient *mongo.Client, rdb *redis.Client, blobs *blob.Store, vectors *vector.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		g, ctx := errgroup.WithContext(c.Request.Context())

		status := map[string]string{
			"mongo":  "ok",
			"redis":  "ok",
			"blob":   "ok",
			"vector": "ok",
		}

		g.Go(func() error {
			if err := mongoClient.Ping(ctx, nil); err != nil {
				status["mongo"] = err.Error()
				return err
			}
			return nil
		})
		g.Go(func() error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				status["redis"] = err.Error()
				return err
			}
			return nil
		})
		g.Go(func() error {
			if err := blobs.Healthy(ctx); err != nil {
				status["blob"] = err.Error()
				return err
			}
			return nil
		})
		g.Go(func() error {
			if err := vectors.Healthy(ctx); err != nil {
				status["vector"] = err.Error()
				return err
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": status})
	}
}

// QAStatus is the legacy polling endpoint: one snapshot per call.
func QAStatus(stores *database.Stores) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		docID := c.Query("document_id")
		if docID == "" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_request", "document_id is required", nil)
			return
		}

		doc, err := stores.GetDocument(c.Request.Context(), docID)
		if err != nil || doc.UserID != userID {
			utils.RespondWithError(c, http.StatusNotFound, "document_not_found", "Document not found", nil)
			return
		}
		c.JSON(http.StatusOK, models.BuildSnapshot(doc))
	}
}

// WSStatus upgrades to a WebSocket and streams status snapshots for one
// document. The client receives the current snapshot immediately, then
// one message per aggregation tick plus chat events.
func WSStatus(stores *database.Stores, broadcaster *services.Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		docID := c.Param("document_id")

		doc, err := stores.GetDocument(c.Request.Context(), docID)
		if err != nil || doc.UserID != userID {
			utils.RespondWithError(c, http.StatusNotFound, "document_not_found", "Document not found", nil)
			return
		}

		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "document_id", docID, "error", err)
			return
		}

		broadcaster.Connect(conn, docID)
		defer broadcaster.Disconnect(conn, docID)

		// Drain client frames; the read error is our disconnect signal.
		conn.SetReadLimit(512)
		for {
			conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
