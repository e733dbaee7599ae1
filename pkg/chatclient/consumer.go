package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"codevibe-chat/backend/pkg/logger"

	"github.com/google/uuid"
)

// ErrEmptyPrompt is returned by SendMessage for blank prompts
var ErrEmptyPrompt = errors.New("prompt is empty")

// StatusError is a non-2xx answer from the chat endpoint
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat request failed with status %d: %s", e.StatusCode, e.Message)
}

// StreamError is a failure the server reported after the stream started
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("generation failed: %s", e.Message)
}

// Option configures a Consumer
type Option func(*Consumer)

// WithHTTPClient sets the client used for chat requests. It must not set a
// total timeout shorter than the longest expected reply.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Consumer) { c.client = client }
}

// WithLogger sets the logger
func WithLogger(log *logger.Logger) Option {
	return func(c *Consumer) { c.log = log }
}

// WithHistory toggles sending prior turns along with each prompt
func WithHistory(enabled bool) Option {
	return func(c *Consumer) { c.history = enabled }
}

// WithCodeExecution enables or disables the server-side code tool
func WithCodeExecution(enabled bool) Option {
	return func(c *Consumer) { c.codeExecution = &enabled }
}

// WithMessages hydrates the consumer with previously saved messages
func WithMessages(messages []Message) Option {
	return func(c *Consumer) {
		c.messages = cloneMessages(messages)
		for i := range c.messages {
			c.messages[i].Streaming = false
		}
	}
}

// SendOption configures a single SendMessage call
type SendOption func(*sendOptions)

type sendOptions struct {
	sessionID   string
	attachments []Attachment
}

// WithSessionID attaches the request to a persisted session
func WithSessionID(id string) SendOption {
	return func(o *sendOptions) { o.sessionID = id }
}

// WithAttachments references uploaded blobs from the user message
func WithAttachments(attachments ...Attachment) SendOption {
	return func(o *sendOptions) { o.attachments = attachments }
}

type observer struct {
	id int
	fn func(Snapshot)
}

// Consumer owns the message list of one conversation. At most one request is
// active at a time; starting a new one cancels the previous.
type Consumer struct {
	endpoint      string
	client        *http.Client
	log           *logger.Logger
	history       bool
	codeExecution *bool
	newID         func() string
	now           func() time.Time

	// notifyMu serializes a change together with its delivery so observers
	// see snapshots in the order changes were applied
	notifyMu sync.Mutex

	mu        sync.Mutex
	messages  []Message
	state     State
	err       error
	epoch     uint64
	cancel    context.CancelFunc
	observers []observer
	nextObsID int
}

// New returns a consumer posting to the chat endpoint at url
func New(url string, opts ...Option) *Consumer {
	c := &Consumer{
		endpoint: url,
		client:   &http.Client{},
		log:      logger.NewDiscard(),
		history:  true,
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wireHistory struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Prompt        string        `json:"prompt"`
	Messages      []wireHistory `json:"messages,omitempty"`
	SessionID     string        `json:"sessionId,omitempty"`
	Attachments   []Attachment  `json:"attachments,omitempty"`
	CodeExecution *bool         `json:"codeExecution,omitempty"`
}

// SendMessage appends the prompt and a streaming placeholder reply, then
// blocks until the reply is complete, failed or cancelled. Cancellation
// through CancelRequest, ClearMessages, a newer SendMessage or ctx is not an
// error. Failures are also recorded and visible through Err.
func (c *Consumer) SendMessage(ctx context.Context, prompt string, opts ...SendOption) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	var so sendOptions
	for _, opt := range opts {
		opt(&so)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		epoch         uint64
		placeholderID string
		body          wireRequest
	)
	c.update(func() {
		c.abortLocked()
		c.epoch++
		epoch = c.epoch

		body = wireRequest{
			Prompt:        prompt,
			SessionID:     so.sessionID,
			Attachments:   so.attachments,
			CodeExecution: c.codeExecution,
		}
		if c.history {
			body.Messages = c.historyLocked()
		}

		now := c.now()
		placeholderID = "assistant-" + c.newID()
		c.messages = append(c.messages,
			Message{ID: "user-" + c.newID(), Role: RoleUser, Content: prompt, Timestamp: now, Attachments: so.attachments},
			Message{ID: placeholderID, Role: RoleAssistant, Timestamp: now, Streaming: true},
		)
		c.state = StateSending
		c.err = nil
		c.cancel = cancel
	})

	payload, err := json.Marshal(body)
	if err != nil {
		return c.fail(epoch, placeholderID, err)
	}
	return c.stream(ctx, epoch, placeholderID, payload)
}

func (c *Consumer) stream(ctx context.Context, epoch uint64, id string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return c.fail(epoch, id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.finish(epoch, id)
			return nil
		}
		return c.fail(epoch, id, fmt.Errorf("chat request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(epoch, id, statusError(resp))
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		return c.fail(epoch, id, fmt.Errorf("%w: unexpected content type %q", ErrMalformedStream, resp.Header.Get("Content-Type")))
	}

	if !c.apply(epoch, func() { c.state = StateStreaming }) {
		return nil
	}

	dec := NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			c.finish(epoch, id)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				c.finish(epoch, id)
				return nil
			}
			return c.fail(epoch, id, err)
		}

		if ev.Type == EventError {
			serr := &StreamError{Message: "unknown error"}
			if ev.Error != nil {
				serr.Code, serr.Message = ev.Error.Code, ev.Error.Message
			}
			return c.fail(epoch, id, serr)
		}

		var result *ToolResult
		if ev.Type == EventToolResult {
			result = &ToolResult{}
			if err := json.Unmarshal(ev.Result, result); err != nil {
				return c.fail(epoch, id, fmt.Errorf("%w: tool result: %v", ErrMalformedStream, err))
			}
		}

		if !c.apply(epoch, func() { c.applyEventLocked(id, ev, result) }) {
			// superseded or cancelled; later events belong to nobody
			return nil
		}
	}
}

func (c *Consumer) applyEventLocked(id string, ev Event, result *ToolResult) {
	i := c.indexLocked(id)
	if i < 0 {
		return
	}
	msg := &c.messages[i]
	switch ev.Type {
	case EventText:
		msg.Content += ev.Text
	case EventToolCall:
		msg.ToolInvocations = append(msg.ToolInvocations, ToolInvocation{
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Args:       ev.Args,
		})
	case EventToolResult:
		for j := range msg.ToolInvocations {
			if msg.ToolInvocations[j].ToolCallID == ev.ToolCallID {
				msg.ToolInvocations[j].Result = result
				return
			}
		}
		msg.ToolInvocations = append(msg.ToolInvocations, ToolInvocation{
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Result:     result,
		})
	}
}

// finish settles a reply that ended normally or was cancelled by its context
func (c *Consumer) finish(epoch uint64, id string) {
	c.apply(epoch, func() {
		if i := c.indexLocked(id); i >= 0 {
			c.messages[i].Streaming = false
		}
		c.state = StateIdle
		c.cancel = nil
	})
}

// fail swaps the placeholder for the apology message
func (c *Consumer) fail(epoch uint64, id string, err error) error {
	applied := c.apply(epoch, func() {
		if i := c.indexLocked(id); i >= 0 {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
		}
		c.messages = append(c.messages, Message{
			ID:        "error-" + c.newID(),
			Role:      RoleAssistant,
			Content:   Apology,
			Timestamp: c.now(),
		})
		c.err = err
		c.state = StateErrored
		c.cancel = nil
	})
	if !applied {
		return nil
	}
	c.log.Warn("chat request failed", "error", err.Error())
	return err
}

// CancelRequest aborts the active request, keeping whatever part of the reply
// already arrived. It is a no-op when nothing is in flight.
func (c *Consumer) CancelRequest() {
	c.update(c.abortLocked)
}

// ClearMessages cancels any active request and empties the conversation.
// Server-side history is untouched.
func (c *Consumer) ClearMessages() {
	c.update(func() {
		c.abortLocked()
		c.messages = nil
		c.err = nil
		c.state = StateIdle
	})
}

// RemoveMessage deletes one message by id
func (c *Consumer) RemoveMessage(id string) {
	c.update(func() {
		if i := c.indexLocked(id); i >= 0 && !c.messages[i].Streaming {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
		}
	})
}

// Messages returns a copy of the conversation
func (c *Consumer) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMessages(c.messages)
}

// IsLoading reports whether a request is in flight
func (c *Consumer) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingLocked()
}

// Err returns the failure of the last request, if any
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// State returns the current lifecycle state
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a consistent copy of the whole state
func (c *Consumer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to be called after every applied change. Observers
// run one at a time in change order; they may read the consumer but must not
// call methods that modify it. The returned function unsubscribes.
func (c *Consumer) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers = append(c.observers, observer{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// update applies fn unconditionally and notifies observers
func (c *Consumer) update(fn func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	fn()
	snap, observers := c.snapshotLocked(), c.observersLocked()
	c.mu.Unlock()

	notify(observers, snap)
}

// apply runs fn only while epoch is still the current request
func (c *Consumer) apply(epoch uint64, fn func()) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return false
	}
	fn()
	snap, observers := c.snapshotLocked(), c.observersLocked()
	c.mu.Unlock()

	notify(observers, snap)
	return true
}

func notify(observers []observer, snap Snapshot) {
	for _, o := range observers {
		o.fn(snap)
	}
}

// abortLocked cancels the active request and retires its epoch
func (c *Consumer) abortLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.epoch++
	for i := range c.messages {
		c.messages[i].Streaming = false
	}
	c.state = StateIdle
}

func (c *Consumer) historyLocked() []wireHistory {
	var turns []wireHistory
	for _, m := range c.messages {
		if m.Content == "" || strings.HasPrefix(m.ID, "error-") {
			continue
		}
		turns = append(turns, wireHistory{Role: m.Role, Content: m.Content})
	}
	return turns
}

func (c *Consumer) indexLocked(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Consumer) loadingLocked() bool {
	return c.state == StateSending || c.state == StateStreaming
}

func (c *Consumer) snapshotLocked() Snapshot {
	return Snapshot{
		Messages: cloneMessages(c.messages),
		State:    c.state,
		Loading:  c.loadingLocked(),
		Err:      c.err,
	}
}

func (c *Consumer) observersLocked() []observer {
	return append([]observer(nil), c.observers...)
}

// statusError reads the JSON error envelope of a failed response
func statusError(resp *http.Response) error {
	serr := &StatusError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &envelope) == nil {
		serr.Code, serr.Message = envelope.Error.Code, envelope.Error.Message
	}
	return serr
}
