// Package stream turns one chat request into an ordered stream of events.
package stream

import "encoding/json"

// Event types written to the transport
const (
	EventText       = "text"
	EventToolCall   = "tool-call"
	EventToolResult = "tool-result"
	EventError      = "error"
)

// DoneMarker terminates an SSE stream
const DoneMarker = "[DONE]"

// ErrorPayload describes a failure reported inside the stream
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one element of a response stream
type Event struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *ErrorPayload   `json:"error,omitempty"`
}

// Emitter writes events to a transport as soon as they are produced.
// An error means the client is gone and generation should stop.
type Emitter interface {
	Emit(Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event) error

func (f EmitterFunc) Emit(e Event) error { return f(e) }
