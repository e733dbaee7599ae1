package stream

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"codevibe-chat/backend/internal/generation"
	"codevibe-chat/backend/internal/models"
)

var (
	// ErrEmptyPrompt is returned when neither a prompt nor a history was sent
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrPromptTooLong is returned when the prompt exceeds the configured limit
	ErrPromptTooLong = errors.New("prompt is too long")
	// ErrInvalidHistory is returned for history entries with an unknown role or no content
	ErrInvalidHistory = errors.New("invalid message history")
)

// HistoryMessage is one prior turn supplied by the client
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one inbound chat request
type Request struct {
	Prompt      string              `json:"prompt"`
	Messages    []HistoryMessage    `json:"messages"`
	SessionID   string              `json:"sessionId"`
	Attachments []models.Attachment `json:"attachments"`
	// CodeExecution defaults to enabled when omitted
	CodeExecution *bool `json:"codeExecution"`
	// UserID is filled from the authenticated identity, never from the body
	UserID string `json:"-"`
}

func (r Request) wantsCodeExecution() bool {
	return r.CodeExecution == nil || *r.CodeExecution
}

// Validate checks the request without side effects
func (r Request) Validate(maxPromptChars int) error {
	if maxPromptChars > 0 && utf8.RuneCountInString(r.Prompt) > maxPromptChars {
		return fmt.Errorf("%w: %d characters allowed", ErrPromptTooLong, maxPromptChars)
	}
	for i, m := range r.Messages {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidHistory, i, m.Role)
		}
		if m.Content == "" {
			return fmt.Errorf("%w: message %d is empty", ErrInvalidHistory, i)
		}
	}
	if strings.TrimSpace(r.Prompt) == "" && userTurn(r.Messages) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Turns builds the model history. Client history is passed through in the
// order received; the prompt, when present, becomes the final user turn.
func (r Request) Turns() []generation.Turn {
	turns := make([]generation.Turn, 0, len(r.Messages)+1)
	for _, m := range r.Messages {
		turns = append(turns, generation.Turn{Role: m.Role, Content: m.Content})
	}
	if strings.TrimSpace(r.Prompt) != "" {
		turns = append(turns, generation.Turn{Role: models.RoleUser, Content: r.Prompt})
	}

	if len(r.Attachments) > 0 {
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Role == models.RoleUser {
				turns[i].Content += describeAttachments(r.Attachments)
				break
			}
		}
	}
	return turns
}

// UserContent is the text of the turn this request adds
func (r Request) UserContent() string {
	if strings.TrimSpace(r.Prompt) != "" {
		return r.Prompt
	}
	return userTurn(r.Messages)
}

func userTurn(history []HistoryMessage) string {
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser {
		return history[n-1].Content
	}
	return ""
}

func describeAttachments(attachments []models.Attachment) string {
	var b strings.Builder
	b.WriteString("\n\nAttached files:")
	for _, a := range attachments {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		fmt.Fprintf(&b, "\n- %s (%s): %s", name, a.Type, a.URL)
	}
	return b.String()
}
