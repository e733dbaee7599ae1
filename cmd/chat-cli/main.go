package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"codevibe-chat/backend/pkg/chatclient"
	"codevibe-chat/backend/pkg/logger"

	"github.com/peterh/liner"
)

const (
	preferencesFile = "preferences.toml"
	chatFile        = "chat.json"
	sessionsFile    = "sessions.json"
	historyFile     = "prompt_history"
)

type repl struct {
	consumer *chatclient.Consumer
	line     *liner.State
	log      *logger.Logger
	dir      string
	prefs    chatclient.Preferences
	chat     *chatclient.ChatState
	sessions *chatclient.SessionState
	stopSave func()
}

func main() {
	endpoint := flag.String("url", "http://localhost:8081/api/chat", "chat endpoint")
	stateDir := flag.String("dir", "", "state directory (default ~/.codevibe)")
	codeExec := flag.Bool("code", true, "allow the assistant to run Python code")
	history := flag.Bool("history", true, "send earlier turns with each prompt")
	flag.Parse()

	log := logger.New(logger.Config{Level: "warn", JSON: false, Output: os.Stderr})

	dir := *stateDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			dir = os.TempDir()
		} else {
			dir = filepath.Join(home, ".codevibe")
		}
	}

	r, err := newREPL(dir, *endpoint, *codeExec, *history, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat-cli: %v\n", err)
		os.Exit(1)
	}
	defer r.close()

	r.run()
}

func newREPL(dir, endpoint string, codeExec, history bool, log *logger.Logger) (*repl, error) {
	prefsPath := filepath.Join(dir, preferencesFile)
	prefs, err := chatclient.LoadPreferences(prefsPath)
	if err != nil {
		log.Warn("using default preferences", "error", err.Error())
	}
	if _, statErr := os.Stat(prefsPath); errors.Is(statErr, os.ErrNotExist) {
		if err := prefs.Save(prefsPath); err != nil {
			return nil, err
		}
	}

	chat, err := chatclient.LoadChatState(filepath.Join(dir, chatFile))
	if err != nil {
		log.Warn("discarding saved conversation", "error", err.Error())
	}
	sessions, err := chatclient.LoadSessionState(filepath.Join(dir, sessionsFile))
	if err != nil {
		log.Warn("discarding saved sessions", "error", err.Error())
	}

	r := &repl{
		consumer: chatclient.New(endpoint,
			chatclient.WithLogger(log),
			chatclient.WithHistory(history),
			chatclient.WithCodeExecution(codeExec),
			chatclient.WithMessages(chat.Messages),
		),
		line:     liner.NewLiner(),
		log:      log,
		dir:      dir,
		prefs:    prefs,
		chat:     chat,
		sessions: sessions,
	}
	r.line.SetCtrlCAborts(true)
	if f, err := os.Open(filepath.Join(dir, historyFile)); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}

	if _, ok := sessions.Active(); !ok {
		r.startSession()
	}
	r.bindChatState()
	r.consumer.Subscribe(newPrinter(os.Stdout).update)
	return r, nil
}

func (r *repl) run() {
	printTranscript(os.Stdout, r.consumer.Messages())
	fmt.Println("Type a message, /new for a new chat, /undo to drop the last exchange, /clear to clear, /autosave to toggle saving, /quit to exit.")

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		// liner owns Ctrl-C at the prompt; a signal only arrives mid-stream
		for range interrupts {
			r.consumer.CancelRequest()
		}
	}()

	for {
		input, err := r.line.Prompt("you> ")
		if err != nil {
			if err != liner.ErrPromptAborted && err != io.EOF {
				r.log.LogError(err, "failed to read input")
			}
			fmt.Println()
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if !r.command(input) {
				return
			}
			continue
		}
		r.send(input)
	}
}

// command handles a slash command and reports whether the loop continues
func (r *repl) command(input string) bool {
	switch strings.Fields(input)[0] {
	case "/quit", "/exit":
		return false
	case "/clear":
		r.consumer.ClearMessages()
		fmt.Println("conversation cleared")
	case "/new":
		r.consumer.ClearMessages()
		r.startSession()
		r.saveChat()
		fmt.Println("started a new chat")
	case "/undo":
		if n := undoLast(r.consumer); n > 0 {
			r.saveChat()
			fmt.Printf("removed %d messages\n", n)
		} else {
			fmt.Println("nothing to undo")
		}
	case "/autosave":
		r.prefs.AutoSave = !r.prefs.AutoSave
		if err := r.prefs.Save(filepath.Join(r.dir, preferencesFile)); err != nil {
			r.log.LogError(err, "failed to save preferences")
		}
		r.bindChatState()
		fmt.Printf("autosave %t\n", r.prefs.AutoSave)
	default:
		fmt.Printf("unknown command %s\n", input)
	}
	return true
}

// undoLast removes the newest prompt and everything after it. Nothing is
// removed while a reply is streaming.
func undoLast(c *chatclient.Consumer) int {
	if c.IsLoading() {
		return 0
	}
	msgs := c.Messages()
	start := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chatclient.RoleUser {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}
	for _, m := range msgs[start:] {
		c.RemoveMessage(m.ID)
	}
	return len(msgs) - start
}

func (r *repl) send(prompt string) {
	session, _ := r.sessions.Active()
	fmt.Print("assistant> ")
	err := r.consumer.SendMessage(context.Background(), prompt, chatclient.WithSessionID(session.SessionID))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}

	r.sessions.Touch(session.SessionID, prompt, 2)
	r.saveSessions()
}

func (r *repl) startSession() {
	session := chatclient.NewSession(r.sessions.UserID)
	r.sessions.Add(session)
	r.chat.CurrentSessionID = session.SessionID
	r.saveSessions()
}

// bindChatState writes the conversation after every finished reply while
// autosave is on
func (r *repl) bindChatState() {
	if r.stopSave != nil {
		r.stopSave()
		r.stopSave = nil
	}
	if !r.prefs.AutoSave {
		return
	}
	r.stopSave = r.chat.Bind(r.consumer, filepath.Join(r.dir, chatFile), func(err error) {
		r.log.LogError(err, "failed to save conversation")
	})
}

func (r *repl) saveChat() {
	if !r.prefs.AutoSave {
		return
	}
	r.chat.Messages = r.consumer.Messages()
	if err := r.chat.Save(filepath.Join(r.dir, chatFile)); err != nil {
		r.log.LogError(err, "failed to save conversation")
	}
}

func (r *repl) saveSessions() {
	if err := r.sessions.Save(filepath.Join(r.dir, sessionsFile)); err != nil {
		r.log.LogError(err, "failed to save sessions")
	}
}

func (r *repl) close() {
	if f, err := os.Create(filepath.Join(r.dir, historyFile)); err == nil {
		r.line.WriteHistory(f)
		f.Close()
	}
	r.line.Close()
}
