package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/auth"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/utils"
)

type AuthMiddleware struct {
	config *config.Config
	rdb    *redis.Client
}

func NewAuthMiddleware(cfg *config.Config, rdb *redis.Client) *AuthMiddleware {
	return &AuthMiddleware{
		config: cfg,
		rdb:    rdb,
	}
}

func (a *AuthMiddleware) tokenFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if token := utils.ExtractTokenFromHeader(authHeader); token != "" {
			return token
		}
	}
	if cookie, err := c.Cookie("access_token"); err == nil {
		return cookie
	}
	return ""
}

// RequireAuth rejects requests without a valid access token.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := a.tokenFromRequest(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Authentication token is required",
			})
			c.Abort()
			return
		}

		claims, err := auth.ValidateAccessToken(tokenString, []byte(a.config.AccessSecret), a.rdb)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "session_expired",
				"message":    "Your session has expired. Please log in again.",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("claims", claims)
		c.Next()
	}
}

// OptionalAuth resolves the user when a valid token is present and falls
// back to the configured anonymous identity otherwise. Upload and chat
// endpoints accept anonymous users; their data is scoped to the shared
// anonymous prefix in the blob store.
func (a *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := a.tokenFromRequest(c); tokenString != "" {
			claims, err := auth.ValidateAccessToken(tokenString, []byte(a.config.AccessSecret), a.rdb)
			if err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("claims", claims)
				c.Set("authenticated", true)
				c.Next()
				return
			}
		}

		c.Set("user_id", a.config.AnonymousUserID)
		c.Next()
	}
}

// GetUserID returns the resolved user id from context.
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return ""
}

// IsAuthenticated reports whether the request carried a valid token.
func IsAuthenticated(c *gin.Context) bool {
	v, exists := c.Get("authenticated")
	if !exists {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
