package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codevibe-chat/backend/internal/blob"
	"codevibe-chat/backend/internal/generation"
	"codevibe-chat/backend/internal/repository"
	"codevibe-chat/backend/internal/service"
	"codevibe-chat/backend/internal/store"
	"codevibe-chat/backend/internal/stream"
	apperrors "codevibe-chat/backend/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type backendFunc func(ctx context.Context, history []generation.Turn, tools []generation.Tool, sink generation.Sink) error

func (f backendFunc) Generate(ctx context.Context, history []generation.Turn, tools []generation.Tool, sink generation.Sink) error {
	return f(ctx, history, tools, sink)
}

func newEngine() (*gin.Engine, *gin.RouterGroup) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	return r, r.Group("/api")
}

func do(r http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error.Code
}

// sseData returns the data payloads of an SSE body in order
func sseData(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if !strings.HasPrefix(block, "data:") {
			continue
		}
		out = append(out, strings.TrimSpace(strings.TrimPrefix(block, "data:")))
	}
	return out
}

func chatEngine(t *testing.T, backend generation.Backend) *gin.Engine {
	t.Helper()
	producer, err := stream.NewProducer(stream.Config{Backend: backend, MaxPromptChars: 4000})
	require.NoError(t, err)
	r, api := newEngine()
	NewChatHandler(producer, 1<<20).RegisterRoutes(api)
	return r
}

func TestChatStreamsSSE(t *testing.T) {
	r := chatEngine(t, backendFunc(func(_ context.Context, _ []generation.Turn, _ []generation.Tool, sink generation.Sink) error {
		for _, f := range []string{"Hel", "lo"} {
			if err := sink.Text(f); err != nil {
				return err
			}
		}
		return nil
	}))

	w := do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":"hi"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	data := sseData(w.Body.String())
	require.Len(t, data, 3)
	assert.JSONEq(t, `{"type":"text","text":"Hel"}`, data[0])
	assert.JSONEq(t, `{"type":"text","text":"lo"}`, data[1])
	assert.Equal(t, stream.DoneMarker, data[2])
}

func TestChatRejectsBeforeStreaming(t *testing.T) {
	r := chatEngine(t, backendFunc(func(context.Context, []generation.Turn, []generation.Tool, generation.Sink) error {
		return generation.ErrUnavailable
	}))

	w := do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":""}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "EMPTY_PROMPT", errorCode(t, w))

	w = do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))

	w = do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":"`+strings.Repeat("a", 4001)+`"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PROMPT_TOO_LONG", errorCode(t, w))

	w = do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":"hi"}`))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "GENERATION_FAILED", errorCode(t, w))
}

func TestChatBodyTooLarge(t *testing.T) {
	called := false
	r := chatEngine(t, backendFunc(func(context.Context, []generation.Turn, []generation.Tool, generation.Sink) error {
		called = true
		return nil
	}))

	w := do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":"`+strings.Repeat("a", 1<<20)+`"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "REQUEST_TOO_LARGE", errorCode(t, w))
	assert.False(t, called)
}

func TestChatErrorEventAfterOutput(t *testing.T) {
	r := chatEngine(t, backendFunc(func(_ context.Context, _ []generation.Turn, _ []generation.Tool, sink generation.Sink) error {
		_ = sink.Text("partial")
		return generation.ErrUnavailable
	}))

	w := do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":"hi"}`))
	require.Equal(t, http.StatusOK, w.Code)

	data := sseData(w.Body.String())
	require.Len(t, data, 3)
	assert.JSONEq(t, `{"type":"text","text":"partial"}`, data[0])
	assert.JSONEq(t, `{"type":"error","error":{"code":"GENERATION_FAILED","message":"Failed to generate a response"}}`, data[1])
	assert.Equal(t, stream.DoneMarker, data[2])
}

func TestChatEmptyReplyStillTerminates(t *testing.T) {
	r := chatEngine(t, backendFunc(func(context.Context, []generation.Turn, []generation.Tool, generation.Sink) error {
		return nil
	}))

	w := do(r, http.MethodPost, "/api/chat", []byte(`{"prompt":"hi"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{stream.DoneMarker}, sseData(w.Body.String()))
}

func newHistoryEngine(t *testing.T) *gin.Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, repository.Migrate(db))

	svc := service.NewSessionService(
		repository.NewGormSessionRepository(db),
		repository.NewGormMessageRepository(db),
		repository.NewGormFeedbackRepository(db),
		nil,
	)
	r, api := newEngine()
	NewHistoryHandler(svc).RegisterRoutes(api)
	return r
}

func TestDBHistoryFlow(t *testing.T) {
	r := newHistoryEngine(t)

	w := do(r, http.MethodPost, "/api/db-chat-history", []byte(`{"action":"createSession","sessionId":"s1","userId":"u1"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Session struct {
			Title string `json:"title"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "New Chat", created.Session.Title)

	w = do(r, http.MethodPost, "/api/db-chat-history", []byte(`{"action":"addMessage","sessionId":"s1","role":"user","content":"Explain goroutines and channels please"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/api/db-chat-history", []byte(`{"action":"addMessage","sessionId":"s1","role":"assistant","content":"Sure."}`))
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/api/db-chat-history?action=messages&sessionId=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Messages []struct {
			ID      uint   `json:"id"`
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Messages, 2)
	assert.Equal(t, "user", listed.Messages[0].Role)
	assert.Equal(t, "assistant", listed.Messages[1].Role)

	w = do(r, http.MethodGet, "/api/db-chat-history?action=session&sessionId=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Explain goroutines and channel..."`)

	w = do(r, http.MethodGet, "/api/db-chat-history?action=sessions&userId=u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessionId":"s1"`)

	w = do(r, http.MethodPut, "/api/db-chat-history", []byte(`{"sessionId":"s1","title":"Go concurrency"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"title":"Go concurrency"`)

	w = do(r, http.MethodGet, "/api/db-chat-history?action=stats&sessionId=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalMessages":2`)

	w = do(r, http.MethodDelete, "/api/db-chat-history?action=message&id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/api/db-chat-history?action=session&sessionId=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/db-chat-history?action=session&sessionId=s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, w))

	w = do(r, http.MethodGet, "/api/db-chat-history?action=messages&sessionId=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestDBHistoryMessageAndFeedback(t *testing.T) {
	r := newHistoryEngine(t)

	w := do(r, http.MethodPost, "/api/db-chat-history", []byte(`{"action":"createSession","sessionId":"s1"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(r, http.MethodPost, "/api/db-chat-history", []byte(`{"action":"addMessage","sessionId":"s1","role":"assistant","content":"Try a buffered channel."}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var added struct {
		Message struct {
			ID uint `json:"id"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))

	w = do(r, http.MethodGet, fmt.Sprintf("/api/db-chat-history?action=message&id=%d", added.Message.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"content":"Try a buffered channel."`)

	w = do(r, http.MethodGet, "/api/db-chat-history?action=message&id=9999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "MESSAGE_NOT_FOUND", errorCode(t, w))

	w = do(r, http.MethodGet, "/api/db-chat-history?action=message&id=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_MESSAGE_ID", errorCode(t, w))

	w = do(r, http.MethodGet, "/api/db-chat-history?action=feedback&messageId=assistant-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"feedback":[]}`, w.Body.String())

	w = do(r, http.MethodPost, "/api/db-chat-history", []byte(`{"action":"feedback","messageId":"assistant-1","rating":"thumbs_up"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/db-chat-history?action=feedback&messageId=assistant-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rating":"thumbs_up"`)

	w = do(r, http.MethodGet, "/api/db-chat-history?action=feedback", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ACTION", errorCode(t, w))
}

func TestDBHistoryInvalidRequests(t *testing.T) {
	r := newHistoryEngine(t)

	w := do(r, http.MethodGet, "/api/db-chat-history?action=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ACTION", errorCode(t, w))

	w = do(r, http.MethodPost, "/api/db-chat-history", []byte(`{"action":"addMessage","sessionId":"missing","role":"user","content":"x"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPut, "/api/db-chat-history", []byte(`{"title":"x"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPut, "/api/db-chat-history", []byte(`{"sessionId":"missing","title":"x"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKVHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	r, api := newEngine()
	NewKVHistoryHandler(store.NewHistory(client, 0)).RegisterRoutes(api)

	w := do(r, http.MethodGet, "/api/chat-history", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/chat-history", []byte(`{"sessionId":"s1","message":{"role":"user","content":"hi"}}`))
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/api/chat-history", []byte(`{"sessionId":"s1"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/chat-history?sessionId=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Messages, 1)
	assert.Equal(t, "hi", listed.Messages[0]["content"])
	assert.NotNil(t, listed.Messages[0]["timestamp"])

	w = do(r, http.MethodDelete, "/api/chat-history?sessionId=s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, mr.Exists("chat:s1"))
}

// MockBlobStore is a mock type for the blob.Store interface
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Upload(ctx context.Context, filename, contentType string, body []byte) (*blob.Object, error) {
	args := m.Called(ctx, filename, contentType, body)
	obj, _ := args.Get(0).(*blob.Object)
	return obj, args.Error(1)
}

func TestUpload(t *testing.T) {
	blobs := new(MockBlobStore)
	blobs.On("Upload", mock.Anything, "data.csv", "text/csv", []byte("a,b\n1,2\n")).Return(&blob.Object{
		URL:         "https://blob.test/data.csv",
		Pathname:    "data.csv",
		ContentType: "text/csv",
		Size:        8,
		UploadedAt:  time.Unix(1700000000, 0).UTC(),
	}, nil).Once()
	r, api := newEngine()
	NewUploadHandler(blobs).RegisterRoutes(api)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=data.csv", strings.NewReader("a,b\n1,2\n"))
	req.Header.Set("Content-Type", "text/csv")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"url":"https://blob.test/data.csv","pathname":"data.csv","contentType":"text/csv","size":8,"uploadedAt":"2023-11-14T22:13:20Z"}`, w.Body.String())

	w = do(r, http.MethodPost, "/api/upload", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "FILENAME_REQUIRED", errorCode(t, w))
	blobs.AssertExpectations(t)
}

func TestUploadTooLarge(t *testing.T) {
	blobs := new(MockBlobStore)
	r, api := newEngine()
	NewUploadHandler(blobs).RegisterRoutes(api)

	body := bytes.Repeat([]byte("x"), int(blob.MaxUploadSize)+1)

	w := do(r, http.MethodPost, "/api/upload?filename=big.bin", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "FILE_TOO_LARGE", errorCode(t, w))

	// no Content-Length: the body cap still applies
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload?filename=big.bin", bytes.NewReader(body))
	req.ContentLength = -1
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	blobs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadStoreFailure(t *testing.T) {
	failing := new(MockBlobStore)
	failing.On("Upload", mock.Anything, "a.txt", mock.AnythingOfType("string"), []byte("hello")).Return(nil, errors.New("503 from blob api"))
	r, api := newEngine()
	NewUploadHandler(failing).RegisterRoutes(api)

	w := do(r, http.MethodPost, "/api/upload?filename=a.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "UPLOAD_FAILED", errorCode(t, w))

	unconfigured := new(MockBlobStore)
	unconfigured.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, blob.ErrMissingToken)
	r, api = newEngine()
	NewUploadHandler(unconfigured).RegisterRoutes(api)
	w = do(r, http.MethodPost, "/api/upload?filename=a.txt", []byte("hello"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
