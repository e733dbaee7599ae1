package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferencesDefaultsWhenMissing(t *testing.T) {
	prefs, err := LoadPreferences(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences(), prefs)
	assert.Equal(t, "dark", prefs.Theme)
	assert.Equal(t, "#52c41a", prefs.PrimaryColor)
	assert.Equal(t, 4096, prefs.MaxTokens)
	assert.InDelta(t, 0.7, prefs.Temperature, 1e-9)
}

func TestPreferencesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("theme = \"light\"\nfont_size = \"huge\"\nmax_tokens = 0\ncompact_mode = true\n"), 0o600))

	prefs, err := LoadPreferences(path)
	require.NoError(t, err)
	assert.Equal(t, "light", prefs.Theme)
	assert.True(t, prefs.CompactMode)
	assert.Equal(t, "medium", prefs.FontSize)
	assert.Equal(t, 4096, prefs.MaxTokens)
	assert.Equal(t, "github-dark", prefs.CodeTheme)
}

func TestPreferencesSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preferences.toml")
	prefs := DefaultPreferences()
	prefs.SidebarCollapsed = true
	prefs.DefaultModel = "llama-3.1-8b-instant"
	require.NoError(t, prefs.Save(path))

	loaded, err := LoadPreferences(path)
	require.NoError(t, err)
	assert.Equal(t, prefs, loaded)
}

func TestPreferencesInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("theme = "), 0o600))

	prefs, err := LoadPreferences(path)
	assert.Error(t, err)
	assert.Equal(t, DefaultPreferences(), prefs)
}

func TestChatStateKeepsLastMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	state := &ChatState{CurrentSessionID: "s-1"}
	for i := 0; i < MaxSavedMessages+10; i++ {
		state.Messages = append(state.Messages, Message{ID: fmt.Sprintf("m-%d", i), Role: RoleUser, Content: "x"})
	}
	state.Messages[len(state.Messages)-1].Streaming = true
	require.NoError(t, state.Save(path))

	loaded, err := LoadChatState(path)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, MaxSavedMessages)
	assert.Equal(t, "m-10", loaded.Messages[0].ID)
	assert.False(t, loaded.Messages[MaxSavedMessages-1].Streaming)
	assert.Equal(t, "s-1", loaded.CurrentSessionID)
	// the in-memory state is untouched
	assert.True(t, state.Messages[len(state.Messages)-1].Streaming)
}

func TestChatStateMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	state, err := LoadChatState(filepath.Join(dir, "none.json"))
	require.NoError(t, err)
	assert.Empty(t, state.Messages)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	state, err = LoadChatState(bad)
	assert.Error(t, err)
	assert.NotNil(t, state)
}

func TestChatStateBindSavesFinishedReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := startSSE(w)
		s.text("saved reply")
		s.done()
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "chat.json")
	c := New(srv.URL)
	state := &ChatState{}
	var saveErr error
	stop := state.Bind(c, path, func(err error) { saveErr = err })
	defer stop()

	require.NoError(t, c.SendMessage(context.Background(), "remember me"))
	require.NoError(t, saveErr)

	loaded, err := LoadChatState(path)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "remember me", loaded.Messages[0].Content)
	assert.Equal(t, "saved reply", loaded.Messages[1].Content)
}

func TestSessionState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	state, err := LoadSessionState(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultUserID, state.UserID)

	first := NewSession(state.UserID)
	second := NewSession(state.UserID)
	assert.True(t, strings.HasPrefix(first.SessionID, "session-"))
	assert.Equal(t, "New Chat", first.Title)

	state.Add(first)
	state.Add(second)
	assert.Equal(t, second.SessionID, state.ActiveSessionID)
	assert.Equal(t, second.SessionID, state.Sessions[0].SessionID)

	state.Touch(second.SessionID, "How do I reverse a linked list in Go?", 2)
	state.Touch(second.SessionID, "a later prompt", 2)
	active, ok := state.Active()
	require.True(t, ok)
	assert.Equal(t, "How do I reverse a linked list...", active.Title)
	assert.Equal(t, 4, active.MessageCount)

	require.NoError(t, state.Save(path))
	loaded, err := LoadSessionState(path)
	require.NoError(t, err)
	require.Len(t, loaded.Sessions, 2)
	assert.Equal(t, second.SessionID, loaded.ActiveSessionID)

	loaded.Delete(second.SessionID)
	assert.Empty(t, loaded.ActiveSessionID)
	require.Len(t, loaded.Sessions, 1)
	assert.Equal(t, first.SessionID, loaded.Sessions[0].SessionID)
}
