package utils

import "github.com/gin-gonic/gin"

// ErrorResponse is the JSON error shape every endpoint returns.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// RespondWithError writes the standard error body and aborts the
// handler chain so downstream middleware cannot overwrite it.
func RespondWithError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		Details:   details,
	})
}
