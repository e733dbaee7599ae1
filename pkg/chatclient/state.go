package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
)

// MaxSavedMessages is how many trailing messages ChatState keeps on disk
const MaxSavedMessages = 50

const (
	untitled    = "New Chat"
	titleLength = 30
)

// DefaultUserID identifies the local user until one is configured
const DefaultUserID = "default-user"

// Preferences holds user interface and generation settings
type Preferences struct {
	Theme        string `toml:"theme"`
	PrimaryColor string `toml:"primary_color"`

	DefaultModel    string `toml:"default_model"`
	AutoSave        bool   `toml:"auto_save"`
	ShowLineNumbers bool   `toml:"show_line_numbers"`
	CodeTheme       string `toml:"code_theme"`

	SidebarCollapsed bool   `toml:"sidebar_collapsed"`
	CompactMode      bool   `toml:"compact_mode"`
	FontSize         string `toml:"font_size"`

	StreamingEnabled bool    `toml:"streaming_enabled"`
	MaxTokens        int     `toml:"max_tokens"`
	Temperature      float64 `toml:"temperature"`

	AnalyticsEnabled bool `toml:"analytics_enabled"`
	ErrorReporting   bool `toml:"error_reporting"`
}

// DefaultPreferences returns the settings of a fresh install
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:            "dark",
		PrimaryColor:     "#52c41a",
		DefaultModel:     "llama-3.3-70b-versatile",
		AutoSave:         true,
		ShowLineNumbers:  true,
		CodeTheme:        "github-dark",
		SidebarCollapsed: false,
		CompactMode:      false,
		FontSize:         "medium",
		StreamingEnabled: true,
		MaxTokens:        4096,
		Temperature:      0.7,
		AnalyticsEnabled: true,
		ErrorReporting:   false,
	}
}

// LoadPreferences reads preferences from a TOML file. A missing file yields
// the defaults; keys absent from the file keep their default value.
func LoadPreferences(path string) (Preferences, error) {
	prefs := DefaultPreferences()
	if _, err := toml.DecodeFile(path, &prefs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPreferences(), nil
		}
		return DefaultPreferences(), fmt.Errorf("failed to decode preferences: %w", err)
	}
	prefs.normalize()
	return prefs, nil
}

func (p *Preferences) normalize() {
	def := DefaultPreferences()
	switch p.Theme {
	case "light", "dark", "system":
	default:
		p.Theme = def.Theme
	}
	switch p.FontSize {
	case "small", "medium", "large":
	default:
		p.FontSize = def.FontSize
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = def.MaxTokens
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		p.Temperature = def.Temperature
	}
}

// Save writes the preferences as TOML
func (p Preferences) Save(path string) error {
	return writeFileAtomic(path, func(f *os.File) error {
		return toml.NewEncoder(f).Encode(p)
	})
}

// ChatState is the active conversation kept between runs
type ChatState struct {
	Messages         []Message `json:"messages"`
	CurrentSessionID string    `json:"currentSessionId,omitempty"`
}

// LoadChatState reads the saved conversation. A missing file yields an empty
// state.
func LoadChatState(path string) (*ChatState, error) {
	state := &ChatState{}
	if err := readJSON(path, state); err != nil {
		return &ChatState{}, err
	}
	for i := range state.Messages {
		state.Messages[i].Streaming = false
	}
	return state, nil
}

// Save writes the last MaxSavedMessages messages. A reply still streaming is
// saved as finished so a crash never restores a dangling placeholder.
func (s *ChatState) Save(path string) error {
	messages := s.Messages
	if len(messages) > MaxSavedMessages {
		messages = messages[len(messages)-MaxSavedMessages:]
	}
	out := ChatState{
		Messages:         cloneMessages(messages),
		CurrentSessionID: s.CurrentSessionID,
	}
	for i := range out.Messages {
		out.Messages[i].Streaming = false
	}
	return writeJSON(path, out)
}

// Bind saves the consumer's messages to path whenever no reply is streaming.
// The returned function stops saving.
func (s *ChatState) Bind(c *Consumer, path string, onError func(error)) func() {
	return c.Subscribe(func(snap Snapshot) {
		if snap.Loading {
			return
		}
		s.Messages = snap.Messages
		if err := s.Save(path); err != nil && onError != nil {
			onError(err)
		}
	})
}

// SessionSummary is the locally cached view of a persisted session
type SessionSummary struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	UserID       string    `json:"userId"`
}

// NewSession returns an untitled session for userID
func NewSession(userID string) SessionSummary {
	now := time.Now()
	return SessionSummary{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		SessionID: fmt.Sprintf("session-%d-%s", now.UnixMilli(), randomSuffix(9)),
		Title:     untitled,
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    userID,
	}
}

// SessionState is the local session list, newest first
type SessionState struct {
	Sessions        []SessionSummary `json:"sessions"`
	ActiveSessionID string           `json:"activeSessionId,omitempty"`
	UserID          string           `json:"userId"`
}

// LoadSessionState reads the cached session list. A missing file yields an
// empty list for the default user.
func LoadSessionState(path string) (*SessionState, error) {
	state := &SessionState{UserID: DefaultUserID}
	if err := readJSON(path, state); err != nil {
		return &SessionState{UserID: DefaultUserID}, err
	}
	if state.UserID == "" {
		state.UserID = DefaultUserID
	}
	return state, nil
}

// Save writes the session list as JSON
func (s *SessionState) Save(path string) error {
	return writeJSON(path, s)
}

// Add puts a session at the front of the list and makes it active
func (s *SessionState) Add(session SessionSummary) {
	s.Sessions = append([]SessionSummary{session}, s.Sessions...)
	s.ActiveSessionID = session.SessionID
}

// Active returns the active session, if any
func (s *SessionState) Active() (SessionSummary, bool) {
	for _, session := range s.Sessions {
		if session.SessionID == s.ActiveSessionID {
			return session, true
		}
	}
	return SessionSummary{}, false
}

// Touch records new messages on a session. An untitled session is titled
// from prompt; an existing title is never replaced.
func (s *SessionState) Touch(sessionID, prompt string, added int) {
	for i := range s.Sessions {
		if s.Sessions[i].SessionID != sessionID {
			continue
		}
		if s.Sessions[i].Title == untitled && strings.TrimSpace(prompt) != "" {
			s.Sessions[i].Title = deriveTitle(prompt)
		}
		s.Sessions[i].MessageCount += added
		s.Sessions[i].UpdatedAt = time.Now()
		return
	}
}

// Delete removes a session, clearing the active id when it pointed there
func (s *SessionState) Delete(sessionID string) {
	kept := s.Sessions[:0]
	for _, session := range s.Sessions {
		if session.SessionID != sessionID {
			kept = append(kept, session)
		}
	}
	s.Sessions = kept
	if s.ActiveSessionID == sessionID {
		s.ActiveSessionID = ""
	}
}

func deriveTitle(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if utf8.RuneCountInString(prompt) <= titleLength {
		return prompt
	}
	return string([]rune(prompt)[:titleLength]) + "..."
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	return writeFileAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path
func writeFileAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(b)
}
