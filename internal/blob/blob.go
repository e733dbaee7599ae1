package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"codevibe-chat/backend/pkg/logger"

	"github.com/hashicorp/go-retryablehttp"
)

// MaxUploadSize is the largest payload accepted for a server-side upload (4.5 MiB)
const MaxUploadSize int64 = 4.5 * 1024 * 1024

var (
	ErrTooLarge      = errors.New("file size exceeds 4.5MB limit for server uploads")
	ErrEmptyFilename = errors.New("filename is required")
	ErrMissingToken  = errors.New("blob store token is not configured")
)

// Object describes a stored blob
type Object struct {
	URL         string    `json:"url"`
	Pathname    string    `json:"pathname"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// Store uploads attachments
type Store interface {
	Upload(ctx context.Context, filename, contentType string, body []byte) (*Object, error)
}

// Config for the HTTP blob client
type Config struct {
	BaseURL      string
	Token        string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// HTTPStore talks to a Vercel-Blob-compatible PUT API
type HTTPStore struct {
	baseURL string
	token   string
	client  *retryablehttp.Client
	now     func() time.Time
}

// NewHTTPStore creates a blob client with retries on 5xx and 429 responses
func NewHTTPStore(cfg Config, log *logger.Logger) *HTTPStore {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	if log != nil {
		client.Logger = log.With("component", "blob").Logger
	} else {
		client.Logger = nil
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
		now:     time.Now,
	}
}

type putResponse struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload stores body under filename with public access
func (s *HTTPStore) Upload(ctx context.Context, filename, contentType string, body []byte) (*Object, error) {
	filename = strings.TrimLeft(path.Clean("/"+strings.TrimSpace(filename)), "/")
	if filename == "" || filename == "." {
		return nil, ErrEmptyFilename
	}
	if int64(len(body)) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	if s.token == "" {
		return nil, ErrMissingToken
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	endpoint := s.baseURL + "/" + (&url.URL{Path: filename}).EscapedPath()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-Content-Type", contentType)
	req.Header.Set("X-Api-Version", "7")
	req.Header.Set("Access", "public")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
			return nil, fmt.Errorf("blob store returned %d: %s", resp.StatusCode, e.Error.Message)
		}
		return nil, fmt.Errorf("blob store returned %d", resp.StatusCode)
	}

	var out putResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if out.ContentType == "" {
		out.ContentType = contentType
	}
	if out.Pathname == "" {
		out.Pathname = filename
	}

	return &Object{
		URL:         out.URL,
		Pathname:    out.Pathname,
		ContentType: out.ContentType,
		Size:        int64(len(body)),
		UploadedAt:  s.now().UTC(),
	}, nil
}
