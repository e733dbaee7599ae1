package chatclient

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Event types sent by the chat endpoint
const (
	EventText       = "text"
	EventToolCall   = "tool-call"
	EventToolResult = "tool-result"
	EventError      = "error"
)

const doneMarker = "[DONE]"

// maxEventSize bounds a single data line
const maxEventSize = 1 << 20

// ErrMalformedStream is returned for bodies that are not a valid event stream
var ErrMalformedStream = errors.New("malformed event stream")

// EventErrorPayload describes a failure reported inside the stream
type EventErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one decoded element of the response stream
type Event struct {
	Type       string             `json:"type"`
	Text       string             `json:"text,omitempty"`
	ToolCallID string             `json:"toolCallId,omitempty"`
	ToolName   string             `json:"toolName,omitempty"`
	Args       json.RawMessage    `json:"args,omitempty"`
	Result     json.RawMessage    `json:"result,omitempty"`
	Error      *EventErrorPayload `json:"error,omitempty"`
}

// Decoder reads events from a text/event-stream body
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
}

// NewDecoder returns a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next event. It returns io.EOF once the end marker has been
// read or the body closed cleanly.
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}

	var data [][]byte
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			if len(data) == 0 {
				continue
			}
			return d.decode(bytes.Join(data, []byte("\n")))
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			// event, id and retry fields carry nothing for this protocol
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		data = append(data, append([]byte(nil), value...))
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}

	d.done = true
	if len(data) > 0 {
		return d.decode(bytes.Join(data, []byte("\n")))
	}
	return Event{}, io.EOF
}

func (d *Decoder) decode(payload []byte) (Event, error) {
	if string(payload) == doneMarker {
		d.done = true
		return Event{}, io.EOF
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}
	switch ev.Type {
	case EventText, EventToolCall, EventToolResult, EventError:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedStream, ev.Type)
	}
}
