package main

import (
	"bytes"
	"testing"

	"codevibe-chat/backend/pkg/chatclient"

	"github.com/stretchr/testify/assert"
)

func TestPrinterWritesOnlyNewText(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	user := chatclient.Message{ID: "user-1", Role: chatclient.RoleUser, Content: "hi"}
	reply := chatclient.Message{ID: "assistant-1", Role: chatclient.RoleAssistant, Streaming: true}

	p.update(chatclient.Snapshot{Messages: []chatclient.Message{user, reply}})
	reply.Content = "Hel"
	p.update(chatclient.Snapshot{Messages: []chatclient.Message{user, reply}})
	reply.ToolInvocations = []chatclient.ToolInvocation{{ToolCallID: "c1", ToolName: "execute_python", Args: []byte(`{"code":"print(2+2)"}`)}}
	p.update(chatclient.Snapshot{Messages: []chatclient.Message{user, reply}})
	reply.ToolInvocations[0].Result = &chatclient.ToolResult{Success: true, Stdout: "4\n"}
	p.update(chatclient.Snapshot{Messages: []chatclient.Message{user, reply}})
	reply.Content = "Hello"
	p.update(chatclient.Snapshot{Messages: []chatclient.Message{user, reply}})

	assert.Equal(t, "Hel\n[execute_python {\"code\":\"print(2+2)\"}]\n[ok]\n4\nlo", out.String())
}

func TestPrinterStartsOverForNewMessage(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	p.update(chatclient.Snapshot{Messages: []chatclient.Message{{ID: "assistant-1", Role: chatclient.RoleAssistant, Content: "partial"}}})
	p.update(chatclient.Snapshot{Messages: []chatclient.Message{{ID: "error-1", Role: chatclient.RoleAssistant, Content: chatclient.Apology}}})

	assert.Equal(t, "partial"+chatclient.Apology, out.String())
}
