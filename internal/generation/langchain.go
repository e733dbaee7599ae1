package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"codevibe-chat/backend/pkg/logger"
	"codevibe-chat/backend/pkg/resilience"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultSystemPrompt is prepended to every conversation and never shown to users
const DefaultSystemPrompt = `You are CodeVibe AI, an expert coding assistant.
You can execute Python code to:
- Analyze data and create visualizations
- Solve mathematical problems
- Test and debug code
- Create prototypes and demos

Always explain what the code does before and after execution.`

// Options tunes the langchaingo backend
type Options struct {
	SystemPrompt string
	MaxSteps     int
	Temperature  float64
}

// LangChainBackend runs generation on any langchaingo model
type LangChainBackend struct {
	model   llms.Model
	opts    Options
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

// NewOpenAIModel opens an OpenAI-compatible chat model (Groq by default)
func NewOpenAIModel(baseURL, token, model string) (llms.Model, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", model, err)
	}
	return llm, nil
}

// NewLangChainBackend wraps model. breaker may be nil.
func NewLangChainBackend(model llms.Model, opts Options, breaker *resilience.CircuitBreaker, log *logger.Logger) *LangChainBackend {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 5
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	return &LangChainBackend{model: model, opts: opts, breaker: breaker, log: log}
}

// Generate streams the reply. Tool calls returned by the model are run one at a
// time, in order, and their results are appended before the next step. The
// final step is issued without tools so the model has to answer in text.
func (b *LangChainBackend) Generate(ctx context.Context, history []Turn, tools []Tool, sink Sink) error {
	messages := make([]llms.MessageContent, 0, len(history)+1)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, b.opts.SystemPrompt))
	for _, t := range history {
		messages = append(messages, llms.TextParts(messageType(t.Role), t.Content))
	}

	byName := make(map[string]Tool, len(tools))
	defs := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	for step := 0; step < b.opts.MaxSteps; step++ {
		streamed := false
		var sinkErr error
		callOpts := []llms.CallOption{
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 || isToolCallDelta(chunk) {
					return nil
				}
				streamed = true
				sinkErr = sink.Text(string(chunk))
				return sinkErr
			}),
		}
		if b.opts.Temperature > 0 {
			callOpts = append(callOpts, llms.WithTemperature(b.opts.Temperature))
		}
		if len(defs) > 0 && step < b.opts.MaxSteps-1 {
			callOpts = append(callOpts, llms.WithTools(defs))
		}

		resp, err := b.call(ctx, messages, callOpts, &sinkErr)
		if sinkErr != nil {
			return sinkErr
		}
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			if !streamed && choice.Content != "" {
				return sink.Text(choice.Content)
			}
			return nil
		}

		parts := make([]llms.ContentPart, 0, len(choice.ToolCalls)+1)
		if choice.Content != "" {
			parts = append(parts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			parts = append(parts, tc)
		}
		messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			result, err := b.runTool(ctx, byName, tc, sink)
			if err != nil {
				return err
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    string(result),
				}},
			})
		}
	}

	return nil
}

// call runs one model step through the breaker. A step aborted by the sink or
// by the caller's context is not counted as a backend failure.
func (b *LangChainBackend) call(ctx context.Context, messages []llms.MessageContent, opts []llms.CallOption, sinkErr *error) (*llms.ContentResponse, error) {
	var resp *llms.ContentResponse
	var callErr error
	run := func() error {
		resp, callErr = b.model.GenerateContent(ctx, messages, opts...)
		if *sinkErr != nil || ctx.Err() != nil {
			return nil
		}
		return callErr
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Execute(run)
	} else {
		err = run()
	}

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil:
		return resp, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// runTool reports the call, invokes the tool and reports its result. Tool
// failures become failed results; only sink errors abort.
func (b *LangChainBackend) runTool(ctx context.Context, tools map[string]Tool, tc llms.ToolCall, sink Sink) (json.RawMessage, error) {
	name := tc.FunctionCall.Name
	args := json.RawMessage(tc.FunctionCall.Arguments)
	shown := args
	if !json.Valid(args) {
		shown, _ = json.Marshal(map[string]string{"raw": tc.FunctionCall.Arguments})
	}

	if err := sink.ToolCall(tc.ID, name, shown); err != nil {
		return nil, err
	}

	var result json.RawMessage
	tool, ok := tools[name]
	switch {
	case !ok:
		result = FailedResult(fmt.Sprintf("unknown tool %q", name))
	default:
		out, err := tool.Invoke(ctx, args)
		if err != nil {
			b.log.Warn("tool invocation failed", "tool", name, "error", err.Error())
			out = FailedResult(err.Error())
		}
		if !json.Valid(out) {
			out, _ = json.Marshal(map[string]any{"success": true, "stdout": string(out)})
		}
		result = out
	}

	if err := sink.ToolResult(tc.ID, name, result); err != nil {
		return nil, err
	}
	return result, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case "assistant":
		return llms.ChatMessageTypeAI
	case "system":
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// isToolCallDelta reports whether a streamed chunk is a serialized tool-call
// delta; the openai provider pushes those through the text callback too.
func isToolCallDelta(chunk []byte) bool {
	if len(chunk) < 2 || chunk[0] != '[' {
		return false
	}
	var deltas []map[string]json.RawMessage
	if err := json.Unmarshal(chunk, &deltas); err != nil || len(deltas) == 0 {
		return false
	}
	_, ok := deltas[0]["function"]
	return ok
}
