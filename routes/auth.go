package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/auth"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/middleware"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

// SetupAuthRoutes wires the identity endpoints. There is no account
// store: POST /auth/token mints a fresh opaque identity so a browser
// can keep its documents and sessions across requests, and
// POST /auth/logout revokes the token server-side.
func SetupAuthRoutes(router *gin.Engine, cfg *config.Config, rdb *redis.Client) {
	group := router.Group("/auth")

	group.POST("/token", func(c *gin.Context) {
		userID := "u-" + uuid.NewString()
		token, expiresAt, err := auth.IssueAccessToken(userID, []byte(cfg.AccessSecret), rdb)
		if err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "internal_error", "Failed to issue token", nil)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"token":      token,
			"user_id":    userID,
			"expires_at": expiresAt,
		})
	})

	authMW := middleware.NewAuthMiddleware(cfg, rdb)
	group.POST("/logout", authMW.OptionalAuth(), func(c *gin.Context) {
		claimsVal, exists := c.Get("claims")
		if !exists {
			// Not authenticated: nothing to revoke.
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		claims, ok := claimsVal.(*auth.Claims)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		if err := auth.RevokeToken(claims.ID, rdb); err != nil {
			utils.RespondWithError(c, http.StatusInternalServerError, "internal_error", "Failed to revoke token", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
