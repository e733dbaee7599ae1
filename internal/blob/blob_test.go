package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/notes/a b.txt", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "text/plain", r.Header.Get("X-Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello", string(body))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"url":         "https://cdn.example/notes/a%20b.txt",
			"pathname":    "notes/a b.txt",
			"contentType": "text/plain",
		})
	}))
	defer srv.Close()

	store := NewHTTPStore(Config{BaseURL: srv.URL, Token: "tok"}, nil)
	obj, err := store.Upload(context.Background(), "notes/a b.txt", "text/plain", []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/notes/a%20b.txt", obj.URL)
	assert.Equal(t, "notes/a b.txt", obj.Pathname)
	assert.Equal(t, int64(5), obj.Size)
	assert.False(t, obj.UploadedAt.IsZero())
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "retry me", string(body))
		_, _ = w.Write([]byte(`{"url":"https://cdn.example/x"}`))
	}))
	defer srv.Close()

	store := NewHTTPStore(Config{BaseURL: srv.URL, Token: "tok", RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond}, nil)
	obj, err := store.Upload(context.Background(), "x", "", []byte("retry me"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "x", obj.Pathname)
	assert.Equal(t, "text/plain; charset=utf-8", obj.ContentType)
}

func TestUploadSurfacesClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"bad token"}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPStore(Config{BaseURL: srv.URL, Token: "tok"}, nil).Upload(context.Background(), "x", "", []byte("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad token")
}

func TestUploadRejectsBeforeNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	store := NewHTTPStore(Config{BaseURL: srv.URL, Token: "tok"}, nil)

	_, err := store.Upload(context.Background(), "big.bin", "", bytes.Repeat([]byte{1}, int(MaxUploadSize)+1))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = store.Upload(context.Background(), "  ", "", []byte("a"))
	assert.ErrorIs(t, err, ErrEmptyFilename)

	_, err = NewHTTPStore(Config{BaseURL: srv.URL}, nil).Upload(context.Background(), "a", "", []byte("a"))
	assert.ErrorIs(t, err, ErrMissingToken)

	assert.Zero(t, atomic.LoadInt32(&calls))
}
