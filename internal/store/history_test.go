package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHistory(t *testing.T, ttl time.Duration) (*History, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := NewHistory(client, ttl)
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return h, mr
}

func TestAppendListClear(t *testing.T) {
	ctx := context.Background()
	h, mr := newHistory(t, 0)

	require.NoError(t, h.Append(ctx, "s1", map[string]any{"role": "user", "content": "hi"}))
	require.NoError(t, h.Append(ctx, "s1", map[string]any{"role": "assistant", "content": "hello"}))
	mr.RPush("chat:s1", "not json")

	items, err := h.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"role":"user","content":"hi","timestamp":1700000000000}`, string(items[0]))
	assert.JSONEq(t, `{"role":"assistant","content":"hello","timestamp":1700000000000}`, string(items[1]))

	require.NoError(t, h.Clear(ctx, "s1"))
	items, err = h.List(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAppendSetsTTL(t *testing.T) {
	h, mr := newHistory(t, time.Hour)
	require.NoError(t, h.Append(context.Background(), "s", map[string]any{"content": "x"}))
	assert.Equal(t, time.Hour, mr.TTL("chat:s"))
}

func TestAppendRejectsEmpty(t *testing.T) {
	h, _ := newHistory(t, 0)
	assert.ErrorIs(t, h.Append(context.Background(), "s", nil), ErrEmptyMessage)
}

func TestNewRedisClient(t *testing.T) {
	c, err := NewRedisClient(Options{Addr: "redis://:pw@localhost:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	c, err = NewRedisClient(Options{Addr: "localhost:6379", DB: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Options().DB)

	_, err = NewRedisClient(Options{})
	assert.Error(t, err)
}
