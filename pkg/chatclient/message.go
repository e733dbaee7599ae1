// Package chatclient is the client side of the chat stream: it owns the
// message list of the active conversation and mediates every request to
// the chat endpoint.
package chatclient

import (
	"encoding/json"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Apology replaces the assistant reply when a request fails
const Apology = "Sorry, I encountered an error. Please try again."

// Attachment references a previously uploaded blob
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ToolResult is the outcome of a code execution reported by the server
type ToolResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Error   string `json:"error,omitempty"`
}

// ToolInvocation is one tool call made while generating a reply
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     *ToolResult     `json:"result,omitempty"`
}

// Message is one entry of the conversation as the client sees it
type Message struct {
	ID              string           `json:"id"`
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	Timestamp       time.Time        `json:"timestamp"`
	Streaming       bool             `json:"streaming,omitempty"`
	Attachments     []Attachment     `json:"attachments,omitempty"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

func (m Message) clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ToolInvocations != nil {
		invocations := make([]ToolInvocation, len(m.ToolInvocations))
		for i, inv := range m.ToolInvocations {
			if inv.Result != nil {
				r := *inv.Result
				inv.Result = &r
			}
			invocations[i] = inv
		}
		m.ToolInvocations = invocations
	}
	return m
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.clone()
	}
	return out
}

// State is the lifecycle position of a consumer
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateErrored:
		return "errored"
	default:
		return "idle"
	}
}

// Snapshot is a consistent copy of the consumer state handed to observers
type Snapshot struct {
	Messages []Message
	State    State
	Loading  bool
	Err      error
}
