package validator

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"codevibe-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	data, err := os.ReadFile("../../api/openapi.yaml")
	require.NoError(t, err)

	v, err := NewFromData(data)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(errors.ErrorHandler(), v.Middleware())
	r.POST("/api/chat", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/unlisted", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidRequestPasses(t *testing.T) {
	r := newRouter(t)
	assert.Equal(t, http.StatusOK, post(r, `{"prompt":"hi","codeExecution":true}`).Code)
}

func TestSchemaViolationRejected(t *testing.T) {
	r := newRouter(t)

	w := post(r, `{"messages":[{"role":"robot","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")

	w = post(r, `{"prompt":"`+strings.Repeat("a", 4001)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnlistedRoutePassesThrough(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unlisted", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
