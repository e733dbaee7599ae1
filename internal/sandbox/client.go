package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig configures the HTTP code-interpreter provider
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Template string
	// Lifetime asks the provider to kill a sandbox that outlives it
	Lifetime time.Duration
	HTTP     *http.Client
}

// Client creates sandboxes on a remote code-interpreter API
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient builds a provider. A missing API key is reported by Create, not here,
// so the service can start without code execution.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Template == "" {
		cfg.Template = "code-interpreter-v1"
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 10 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc}
}

type createRequest struct {
	Template string `json:"templateID"`
	Timeout  int    `json:"timeout"`
}

type createResponse struct {
	SandboxID string `json:"sandboxID"`
}

type executeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type executeResponse struct {
	Stdout []string `json:"stdout"`
	Stderr []string `json:"stderr"`
	Error  *struct {
		Name      string `json:"name"`
		Value     string `json:"value"`
		Traceback string `json:"traceback"`
	} `json:"error"`
}

// Create starts a new sandbox
func (c *Client) Create(ctx context.Context) (Instance, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}

	var out createResponse
	body := createRequest{Template: c.cfg.Template, Timeout: int(c.cfg.Lifetime.Seconds())}
	if err := c.do(ctx, http.MethodPost, "/sandboxes", body, &out); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	if out.SandboxID == "" {
		return nil, fmt.Errorf("create sandbox: empty sandbox id")
	}
	return &remoteInstance{client: c, id: out.SandboxID}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

type remoteInstance struct {
	client *Client
	id     string
}

func (r *remoteInstance) ID() string { return r.id }

// Run executes Python source and joins the streamed output lines
func (r *remoteInstance) Run(ctx context.Context, source string) (Execution, error) {
	var out executeResponse
	path := "/sandboxes/" + url.PathEscape(r.id) + "/execute"
	if err := r.client.do(ctx, http.MethodPost, path, executeRequest{Code: source, Language: "python"}, &out); err != nil {
		return Execution{}, fmt.Errorf("execute in %s: %w", r.id, err)
	}

	exec := Execution{
		Stdout: strings.Join(out.Stdout, ""),
		Stderr: strings.Join(out.Stderr, ""),
	}
	if out.Error != nil {
		exec.Error = strings.TrimSpace(out.Error.Name + ": " + out.Error.Value)
		if out.Error.Traceback != "" && exec.Stderr == "" {
			exec.Stderr = out.Error.Traceback
		}
	}
	return exec, nil
}

func (r *remoteInstance) Close(ctx context.Context) error {
	if err := r.client.do(ctx, http.MethodDelete, "/sandboxes/"+url.PathEscape(r.id), nil, nil); err != nil {
		return fmt.Errorf("kill sandbox %s: %w", r.id, err)
	}
	return nil
}
