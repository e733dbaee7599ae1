// Package ws carries chat streams over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codevibe-chat/backend/internal/stream"
	"codevibe-chat/backend/pkg/logger"
	"codevibe-chat/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	sendBuffer = 256
)

// Frame types exchanged with the client, besides the stream event types
const (
	TypeChat   = "chat"
	TypeCancel = "cancel"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeDone   = "done"
)

// inbound is a client frame. Chat frames carry the same fields as the HTTP body.
type inbound struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	stream.Request
}

// outbound is a stream event tagged with the stream it belongs to
type outbound struct {
	stream.Event
	StreamID  string `json:"streamId,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Hub tracks live connections and hands their chat frames to the producer
type Hub struct {
	producer *stream.Producer
	log      *logger.Logger
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub. An empty origins list, or one containing "*", accepts any origin.
func NewHub(producer *stream.Producer, log *logger.Logger, origins []string) *Hub {
	if log == nil {
		log = logger.NewDiscard()
	}
	h := &Hub{
		producer:   producer,
		log:        log.With("component", "ws"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      originChecker(origins),
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(allowed) == 0 || origin == "" || allowed[origin]
	}
}

// Run processes registrations until ctx is done, then closes every connection
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client registered", "client_id", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.shutdown()
				h.log.Debug("client unregistered", "client_id", client.ID)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.shutdown()
			}
			h.mu.Unlock()
			return
		}
	}
}

// ActiveConnections reports the number of registered clients
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades GET /ws/chat
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.FromContext(c).LogError(err, "websocket upgrade failed")
			return
		}
		conn.EnableWriteCompression(true)

		client := &Client{
			ID:     uuid.NewString(),
			UserID: c.GetString(middleware.UserIDContextKey),
			conn:   conn,
			hub:    h,
			send:   make(chan []byte, sendBuffer),
			closed: make(chan struct{}),
		}
		select {
		case h.register <- client:
		case <-h.stopped:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// Client is one WebSocket connection. It runs at most one stream at a time.
type Client struct {
	ID     string
	UserID string

	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	active string
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancelActive()
	})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
			c.shutdown()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", "client_id", c.ID, "error", err.Error())
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.write(outbound{Event: stream.Event{Type: stream.EventError, Error: &stream.ErrorPayload{
				Code: "INVALID_FRAME", Message: "Frame is not valid JSON",
			}}})
			continue
		}

		switch msg.Type {
		case TypeChat:
			c.startStream(msg)
		case TypeCancel:
			c.cancelActive()
		case TypePing:
			c.write(outbound{Event: stream.Event{Type: TypePong}})
		default:
			c.write(outbound{Event: stream.Event{Type: stream.EventError, Error: &stream.ErrorPayload{
				Code: "UNKNOWN_FRAME", Message: "Unknown frame type " + msg.Type,
			}}})
		}
	}
}

// startStream cancels any running stream and starts a new one
func (c *Client) startStream(msg inbound) {
	streamID := msg.ID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	req := msg.Request
	req.UserID = c.UserID

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.active = streamID
	c.mu.Unlock()

	go c.runStream(ctx, cancel, streamID, req)
}

func (c *Client) cancelActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.active = ""
	}
}

func (c *Client) runStream(ctx context.Context, cancel context.CancelFunc, streamID string, req stream.Request) {
	defer cancel()

	emit := stream.EmitterFunc(func(ev stream.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.enqueue(ctx, outbound{Event: ev, StreamID: streamID})
	})

	err := c.hub.producer.Handle(ctx, req, emit)
	cancelled := ctx.Err() != nil
	if err != nil && !cancelled {
		c.hub.log.LogError(err, "websocket stream failed", "client_id", c.ID, "stream_id", streamID)
		c.write(outbound{Event: stream.ErrorEvent(err), StreamID: streamID})
	}
	c.write(outbound{Event: stream.Event{Type: TypeDone}, StreamID: streamID, Cancelled: cancelled})

	c.mu.Lock()
	if c.active == streamID {
		c.cancel = nil
		c.active = ""
	}
	c.mu.Unlock()
}

// enqueue waits for room in the send buffer
func (c *Client) enqueue(ctx context.Context, frame outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// write queues a control frame without blocking the reader
func (c *Client) write(frame outbound) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		c.hub.log.Warn("dropping frame for slow client", "client_id", c.ID, "type", frame.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
