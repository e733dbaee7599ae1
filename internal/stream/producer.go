package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"codevibe-chat/backend/internal/generation"
	"codevibe-chat/backend/internal/models"
	"codevibe-chat/backend/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "codevibe-chat/backend/internal/stream"

// Recorder persists the turns of a session
type Recorder interface {
	EnsureSession(ctx context.Context, sessionID, userID string) (*models.ChatSession, error)
	AddMessage(ctx context.Context, req models.AddMessageRequest) (*models.ChatMessage, error)
}

// HistoryLoader reads stored turns for a session
type HistoryLoader interface {
	RecentMessages(ctx context.Context, sessionID string, count int) ([]models.ChatMessage, error)
}

// DefaultStoredTurns bounds the stored history replayed for a session
const DefaultStoredTurns = 20

// Config wires the producer's collaborators. Only Backend is required.
type Config struct {
	Backend generation.Backend
	// CodeTool is offered to the model when set and the request allows it
	CodeTool *generation.Tool
	// Recorder persists requests that carry a session id
	Recorder Recorder
	// History supplies earlier turns when a request names a session but
	// sends no messages of its own
	History        HistoryLoader
	StoredTurns    int
	MaxPromptChars int
	Model          string
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Logger         *logger.Logger
}

// Producer handles chat requests
type Producer struct {
	cfg    Config
	tracer trace.Tracer
	log    *logger.Logger

	requests  metric.Int64Counter
	fragments metric.Int64Counter
	toolCalls metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewProducer builds a producer, falling back to no-op telemetry
func NewProducer(cfg Config) (*Producer, error) {
	if cfg.Backend == nil {
		return nil, errors.New("stream: backend is required")
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDiscard()
	}
	if cfg.StoredTurns <= 0 {
		cfg.StoredTurns = DefaultStoredTurns
	}

	meter := cfg.MeterProvider.Meter(instrumentationName)
	p := &Producer{cfg: cfg, tracer: cfg.TracerProvider.Tracer(instrumentationName), log: cfg.Logger}

	var err error
	if p.requests, err = meter.Int64Counter("chat_requests",
		metric.WithDescription("Chat requests by outcome")); err != nil {
		return nil, err
	}
	if p.fragments, err = meter.Int64Counter("chat_fragments",
		metric.WithDescription("Text fragments streamed to clients")); err != nil {
		return nil, err
	}
	if p.toolCalls, err = meter.Int64Counter("chat_tool_invocations",
		metric.WithDescription("Tool invocations by tool and outcome")); err != nil {
		return nil, err
	}
	if p.duration, err = meter.Float64Histogram("chat_request_duration",
		metric.WithDescription("Time to complete a chat stream"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return p, nil
}

// Handle validates req and streams the reply to emit. Validation errors and
// backend failures are returned; the caller decides how to report them based
// on whether anything was already emitted.
func (p *Producer) Handle(ctx context.Context, req Request, emit Emitter) (err error) {
	ctx, span := p.tracer.Start(ctx, "chat.handle", trace.WithAttributes(
		attribute.String("chat.session_id", req.SessionID),
		attribute.Int("chat.history_length", len(req.Messages)),
	))
	start := time.Now()
	log := p.log.WithSessionID(req.SessionID)

	defer func() {
		outcome := outcomeOf(err)
		p.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		p.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := req.Validate(p.cfg.MaxPromptChars); err != nil {
		return err
	}

	var tools []generation.Tool
	if p.cfg.CodeTool != nil && req.wantsCodeExecution() {
		tools = append(tools, *p.cfg.CodeTool)
	}
	span.SetAttributes(attribute.Int("chat.tools", len(tools)))

	if p.cfg.History != nil && req.SessionID != "" && len(req.Messages) == 0 {
		req.Messages = p.storedHistory(ctx, req.SessionID, log)
	}

	persist := p.cfg.Recorder != nil && req.SessionID != ""
	if persist {
		p.recordUserTurn(ctx, req, log)
	}

	sink := &forwarder{ctx: ctx, producer: p, emit: emit}
	if err := p.cfg.Backend.Generate(ctx, req.Turns(), tools, sink); err != nil {
		if ctx.Err() == nil {
			log.LogError(err, "generation failed", "fragments", sink.fragments)
		}
		return err
	}

	if persist {
		p.recordReply(ctx, req, sink, log)
	}
	return nil
}

// storedHistory loads earlier turns of the session. A failed read degrades to
// an empty history.
func (p *Producer) storedHistory(ctx context.Context, sessionID string, log *logger.Logger) []HistoryMessage {
	stored, err := p.cfg.History.RecentMessages(ctx, sessionID, p.cfg.StoredTurns)
	if err != nil {
		log.LogError(err, "failed to load session history")
		return nil
	}
	history := make([]HistoryMessage, 0, len(stored))
	for _, m := range stored {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		history = append(history, HistoryMessage{Role: m.Role, Content: m.Content})
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("chat.stored_history_length", len(history)))
	return history
}

func (p *Producer) recordUserTurn(ctx context.Context, req Request, log *logger.Logger) {
	if _, err := p.cfg.Recorder.EnsureSession(ctx, req.SessionID, req.UserID); err != nil {
		log.LogError(err, "failed to ensure chat session")
		return
	}
	content := req.UserContent()
	if content == "" {
		return
	}
	if _, err := p.cfg.Recorder.AddMessage(ctx, models.AddMessageRequest{
		SessionID:   req.SessionID,
		Role:        models.RoleUser,
		Content:     content,
		Attachments: req.Attachments,
	}); err != nil {
		log.LogError(err, "failed to persist user message")
	}
}

func (p *Producer) recordReply(ctx context.Context, req Request, sink *forwarder, log *logger.Logger) {
	content := sink.text.String()
	if content == "" && len(sink.invocations) == 0 {
		return
	}
	if content == "" {
		content = " "
	}
	// the stream already finished; a cancelled client must not lose the record
	ctx = context.WithoutCancel(ctx)
	if _, err := p.cfg.Recorder.AddMessage(ctx, models.AddMessageRequest{
		SessionID:       req.SessionID,
		Role:            models.RoleAssistant,
		Content:         content,
		ToolInvocations: sink.invocations,
		Model:           p.cfg.Model,
	}); err != nil {
		log.LogError(err, "failed to persist assistant message")
	}
}

// forwarder relays generation output to the emitter and keeps the reply
// for persistence
type forwarder struct {
	ctx      context.Context
	producer *Producer
	emit     Emitter

	text        strings.Builder
	fragments   int
	invocations []models.ToolInvocation
}

func (f *forwarder) Text(fragment string) error {
	if fragment == "" {
		return nil
	}
	if err := f.emit.Emit(Event{Type: EventText, Text: fragment}); err != nil {
		return err
	}
	f.text.WriteString(fragment)
	f.fragments++
	f.producer.fragments.Add(f.ctx, 1)
	return nil
}

func (f *forwarder) ToolCall(id, name string, args json.RawMessage) error {
	f.invocations = append(f.invocations, models.ToolInvocation{ToolCallID: id, ToolName: name, Args: args})
	return f.emit.Emit(Event{Type: EventToolCall, ToolCallID: id, ToolName: name, Args: args})
}

func (f *forwarder) ToolResult(id, name string, result json.RawMessage) error {
	for i := len(f.invocations) - 1; i >= 0; i-- {
		if f.invocations[i].ToolCallID == id {
			f.invocations[i].Result = result
			break
		}
	}

	outcome := "failure"
	var r models.ToolResult
	if json.Unmarshal(result, &r) == nil && r.Success {
		outcome = "success"
	}
	f.producer.toolCalls.Add(f.ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.String("outcome", outcome),
	))
	trace.SpanFromContext(f.ctx).AddEvent("tool.result", trace.WithAttributes(
		attribute.String("tool", name),
		attribute.String("outcome", outcome),
	))

	return f.emit.Emit(Event{Type: EventToolResult, ToolCallID: id, ToolName: name, Result: result})
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, ErrPromptTooLong), errors.Is(err, ErrInvalidHistory):
		return "invalid"
	default:
		return "error"
	}
}
