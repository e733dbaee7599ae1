package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"codevibe-chat/backend/internal/generation"
	"codevibe-chat/backend/internal/models"
	"codevibe-chat/backend/pkg/logger"
)

// ToolName is the name the model uses to request code execution
const ToolName = "execute_python"

// MaxOutputSize caps stdout and stderr returned to the model, in bytes
const MaxOutputSize = 10000

// DefaultTimeout bounds one code execution
const DefaultTimeout = 30 * time.Second

type toolArgs struct {
	Code string `json:"code"`
}

// CodeExecutionTool exposes the pool to the model as execute_python. The tool
// never fails the generation: every problem is reported as a failed result.
func CodeExecutionTool(pool *Pool, timeout time.Duration, log *logger.Logger) generation.Tool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NewDiscard()
	}

	return generation.Tool{
		Name: ToolName,
		Description: "Execute Python code in a secure sandbox environment. " +
			"Use this to run calculations, analyze data, or demonstrate code.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "The Python code to execute",
				},
			},
			"required": []string{"code"},
		},
		Invoke: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args toolArgs
			if err := json.Unmarshal(raw, &args); err != nil || strings.TrimSpace(args.Code) == "" {
				return encode(models.ToolResult{Error: "code argument is required"}), nil
			}
			return encode(execute(ctx, pool, args.Code, timeout, log)), nil
		},
	}
}

type runOutcome struct {
	exec Execution
	err  error
}

func execute(ctx context.Context, pool *Pool, code string, timeout time.Duration, log *logger.Logger) models.ToolResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lease, err := pool.Acquire(runCtx)
	if err != nil {
		return failure(ctx, err, timeout)
	}

	done := make(chan runOutcome, 1)
	go func() {
		exec, err := lease.Run(runCtx, code)
		done <- runOutcome{exec: exec, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			// the instance may be wedged after a transport failure
			lease.Discard()
			log.Warn("sandbox execution failed", "error", out.err.Error())
			return failure(ctx, out.err, timeout)
		}
		lease.Release()
		return models.ToolResult{
			Success: out.exec.Error == "",
			Stdout:  truncate(out.exec.Stdout),
			Stderr:  truncate(out.exec.Stderr),
			Error:   out.exec.Error,
		}
	case <-runCtx.Done():
		// the submission is still running; the instance cannot be reused
		go func() {
			<-done
			lease.Discard()
		}()
		return failure(ctx, runCtx.Err(), timeout)
	}
}

func failure(parent context.Context, err error, timeout time.Duration) models.ToolResult {
	switch {
	case parent.Err() != nil:
		return models.ToolResult{Error: "execution cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return models.ToolResult{Error: fmt.Sprintf("execution timed out after %s", timeout)}
	case errors.Is(err, ErrMissingCredentials):
		return models.ToolResult{Error: "code execution is not configured"}
	default:
		return models.ToolResult{Error: err.Error()}
	}
}

// truncate cuts s to at most MaxOutputSize bytes without splitting a rune
func truncate(s string) string {
	if len(s) <= MaxOutputSize {
		return s
	}
	cut := MaxOutputSize
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (output truncated)"
}

func encode(r models.ToolResult) json.RawMessage {
	data, _ := json.Marshal(r)
	return data
}
