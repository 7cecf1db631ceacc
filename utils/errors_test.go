package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

	RespondWithError(c, http.StatusNotFound, "document_not_found", "Document not found", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, c.IsAborted())
	assert.JSONEq(t,
		`{"error_code":"document_not_found","message":"Document not found"}`,
		rec.Body.String())
}
