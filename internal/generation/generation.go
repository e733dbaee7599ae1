// Package generation drives the text/code model and the tool-call loop.
package generation

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrUnavailable means the model could not be reached at all
	ErrUnavailable = errors.New("generation backend unavailable")
	// ErrEmptyResponse means the model answered with no choices
	ErrEmptyResponse = errors.New("generation backend returned no choices")
)

// Turn is one history entry handed to the model
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is a capability the model may call mid-generation. Invoke receives the
// model's JSON arguments and returns a JSON result that is fed back to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Invoke      func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Sink receives generation output in order. A returned error stops generation.
type Sink interface {
	Text(fragment string) error
	ToolCall(id, name string, args json.RawMessage) error
	ToolResult(id, name string, result json.RawMessage) error
}

// Backend generates a reply for history, delivering it to sink as it is produced
type Backend interface {
	Generate(ctx context.Context, history []Turn, tools []Tool, sink Sink) error
}

// FailedResult is the tool result reported to the model when a call cannot complete
func FailedResult(msg string) json.RawMessage {
	data, _ := json.Marshal(map[string]any{"success": false, "stdout": "", "stderr": "", "error": msg})
	return data
}
