package main

import (
	"fmt"
	"io"
	"strings"

	"codevibe-chat/backend/pkg/chatclient"
)

// printer writes the growing assistant reply to the terminal. It only ever
// prints the part of a message it has not printed before.
type printer struct {
	out       io.Writer
	messageID string
	printed   int
	calls     int
	results   int
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) update(snap chatclient.Snapshot) {
	if len(snap.Messages) == 0 {
		p.messageID = ""
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != chatclient.RoleAssistant {
		return
	}
	if last.ID != p.messageID {
		p.messageID, p.printed, p.calls, p.results = last.ID, 0, 0, 0
	}

	for ; p.calls < len(last.ToolInvocations); p.calls++ {
		inv := last.ToolInvocations[p.calls]
		fmt.Fprintf(p.out, "\n[%s %s]\n", inv.ToolName, string(inv.Args))
	}
	results := 0
	for _, inv := range last.ToolInvocations {
		if inv.Result == nil {
			continue
		}
		results++
		if results <= p.results {
			continue
		}
		fmt.Fprint(p.out, formatResult(inv.Result))
	}
	p.results = results

	if len(last.Content) > p.printed {
		fmt.Fprint(p.out, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

func formatResult(r *chatclient.ToolResult) string {
	var b strings.Builder
	if r.Success {
		b.WriteString("[ok]\n")
	} else {
		b.WriteString("[failed]\n")
	}
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
		if !strings.HasSuffix(r.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if r.Stderr != "" {
		fmt.Fprintf(&b, "stderr: %s\n", strings.TrimRight(r.Stderr, "\n"))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", r.Error)
	}
	return b.String()
}

// printTranscript shows a restored conversation
func printTranscript(out io.Writer, messages []chatclient.Message) {
	for _, m := range messages {
		who := "you"
		if m.Role == chatclient.RoleAssistant {
			who = "assistant"
		}
		fmt.Fprintf(out, "%s> %s\n", who, m.Content)
	}
}
