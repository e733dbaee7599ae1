package models

import (
	"encoding/json"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultSessionTitle marks a session that has not been titled yet
const DefaultSessionTitle = "New Chat"

// Attachment references a previously uploaded blob
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ToolResult is the payload returned by the code-execution tool
type ToolResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Error   string `json:"error,omitempty"`
}

// ToolInvocation records one tool call made while generating an assistant reply
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type ChatSession struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	SessionID string    `json:"sessionId" gorm:"size:255;not null;uniqueIndex"`
	UserID    string    `json:"userId,omitempty" gorm:"size:255;index"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ChatMessage struct {
	ID              uint             `json:"id" gorm:"primarykey"`
	SessionID       string           `json:"sessionId" gorm:"size:255;not null;index:idx_chat_messages_session_created,priority:1"`
	Role            string           `json:"role" gorm:"size:50;not null"`
	Content         string           `json:"content" gorm:"not null"`
	Attachments     []Attachment     `json:"attachments,omitempty" gorm:"serializer:json"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty" gorm:"serializer:json"`
	Model           string           `json:"model,omitempty" gorm:"size:100"`
	Tokens          int              `json:"tokens,omitempty"`
	CreatedAt       time.Time        `json:"createdAt" gorm:"index:idx_chat_messages_session_created,priority:2"`
}

// Feedback is a thumbs rating left on an assistant message
type Feedback struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	MessageID string    `json:"messageId" gorm:"size:255;index"`
	Rating    string    `json:"rating" gorm:"size:20;not null"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Feedback ratings
const (
	RatingThumbsUp   = "thumbs_up"
	RatingThumbsDown = "thumbs_down"
)

// SessionStats summarizes the messages of one session
type SessionStats struct {
	TotalMessages     int64 `json:"totalMessages"`
	UserMessages      int64 `json:"userMessages"`
	AssistantMessages int64 `json:"assistantMessages"`
	TotalTokens       int64 `json:"totalTokens"`
}

type CreateSessionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
}

type AddMessageRequest struct {
	SessionID       string           `json:"sessionId" binding:"required"`
	Role            string           `json:"role" binding:"required,oneof=user assistant"`
	Content         string           `json:"content" binding:"required"`
	Attachments     []Attachment     `json:"attachments"`
	ToolInvocations []ToolInvocation `json:"toolInvocations"`
	Model           string           `json:"model"`
}

// AllModels lists the tables owned by the chat history store
func AllModels() []any {
	return []any{&ChatSession{}, &ChatMessage{}, &Feedback{}}
}
