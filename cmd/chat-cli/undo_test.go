package main

import (
	"testing"

	"codevibe-chat/backend/pkg/chatclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoLastDropsNewestExchange(t *testing.T) {
	c := chatclient.New("http://chat.invalid/api/chat", chatclient.WithMessages([]chatclient.Message{
		{ID: "user-1", Role: chatclient.RoleUser, Content: "first"},
		{ID: "assistant-1", Role: chatclient.RoleAssistant, Content: "one"},
		{ID: "user-2", Role: chatclient.RoleUser, Content: "second"},
		{ID: "error-2", Role: chatclient.RoleAssistant, Content: chatclient.Apology},
	}))

	assert.Equal(t, 2, undoLast(c))
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "user-1", msgs[0].ID)
	assert.Equal(t, "assistant-1", msgs[1].ID)

	assert.Equal(t, 2, undoLast(c))
	assert.Empty(t, c.Messages())
	assert.Zero(t, undoLast(c))
}
