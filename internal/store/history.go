package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyMessage is returned when Append gets no payload
var ErrEmptyMessage = errors.New("message is required")

// History keeps a per-session chat log as a redis list under chat:{sessionId}
type History struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// Options for NewRedisClient
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient opens a client; REDIS_URL style "redis://" addresses are accepted
func NewRedisClient(opts Options) (*redis.Client, error) {
	if u, err := redis.ParseURL(opts.Addr); err == nil {
		if opts.Password != "" {
			u.Password = opts.Password
		}
		return redis.NewClient(u), nil
	}
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

// NewHistory creates a history store; ttl <= 0 keeps lists forever
func NewHistory(client redis.UniversalClient, ttl time.Duration) *History {
	return &History{client: client, ttl: ttl, now: time.Now}
}

// Key returns the list key for a session
func Key(sessionID string) string {
	return "chat:" + sessionID
}

// Append stores message with a millisecond "timestamp" field added
func (h *History) Append(ctx context.Context, sessionID string, message map[string]any) error {
	if len(message) == 0 {
		return ErrEmptyMessage
	}

	entry := make(map[string]any, len(message)+1)
	for k, v := range message {
		entry[k] = v
	}
	entry["timestamp"] = h.now().UnixMilli()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	pipe := h.client.TxPipeline()
	pipe.RPush(ctx, Key(sessionID), data)
	if h.ttl > 0 {
		pipe.Expire(ctx, Key(sessionID), h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rpush %s: %w", Key(sessionID), err)
	}
	return nil
}

// List returns every stored message in insertion order
func (h *History) List(ctx context.Context, sessionID string) ([]json.RawMessage, error) {
	items, err := h.client.LRange(ctx, Key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", Key(sessionID), err)
	}

	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if !json.Valid([]byte(item)) {
			continue
		}
		out = append(out, json.RawMessage(item))
	}
	return out, nil
}

// Clear deletes the session's list
func (h *History) Clear(ctx context.Context, sessionID string) error {
	if err := h.client.Del(ctx, Key(sessionID)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", Key(sessionID), err)
	}
	return nil
}
