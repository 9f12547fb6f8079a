package lore

import (
	"context"
	"fmt"
	"log/slog"
)

// nopLogger discards all output. Used wherever a logger was not injected.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// TurnRequest is one user message bound to a conversation, optionally scoped
// to a single document.
type TurnRequest struct {
	ConversationUID string
	Message         string
	DocumentUID     string
}

// TurnResult is the durable outcome of one turn.
type TurnResult struct {
	Answer    string
	Fragments []string
}

// Assistant is the single entry point the transport layer calls. It owns the
// turn lifecycle: load history → build initial state → execute the workflow
// under audited capabilities → persist the turn's messages → return the
// answer.
//
// Callers must serialize turns per conversation UID; concurrent turns on the
// same conversation produce interleaved history. An outer timeout belongs on
// ctx; a cancelled run persists nothing.
type Assistant struct {
	provider      Provider
	tools         ToolInvoker
	conversations ConversationStore
	records       RecordStore

	logger *slog.Logger
	tracer Tracer

	maxIterations   int
	temperature     float64
	topK            int
	maxContextChars int
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithTools registers the tools the engine may invoke.
func WithTools(tools ...Tool) AssistantOption {
	return func(a *Assistant) {
		reg := NewToolRegistry()
		for _, t := range tools {
			reg.Add(t)
		}
		a.tools = reg
	}
}

// WithLogger sets a structured logger (default: discard).
func WithLogger(l *slog.Logger) AssistantOption {
	return func(a *Assistant) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer sets an optional Tracer passed through to the engine.
func WithTracer(t Tracer) AssistantOption {
	return func(a *Assistant) { a.tracer = t }
}

// WithAgentMaxIterations overrides the engine iteration budget.
func WithAgentMaxIterations(n int) AssistantOption {
	return func(a *Assistant) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithAgentTemperature overrides the engine sampling temperature.
func WithAgentTemperature(t float64) AssistantOption {
	return func(a *Assistant) { a.temperature = t }
}

// WithAgentTopK overrides the fallback search fragment count.
func WithAgentTopK(k int) AssistantOption {
	return func(a *Assistant) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithAgentMaxContextChars overrides the grounding context cap.
func WithAgentMaxContextChars(n int) AssistantOption {
	return func(a *Assistant) {
		if n > 0 {
			a.maxContextChars = n
		}
	}
}

// NewAssistant creates an Assistant. records may be nil, which disables
// audit recording entirely; message persistence is unaffected.
func NewAssistant(provider Provider, conversations ConversationStore, records RecordStore, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		provider:        provider,
		tools:           NewToolRegistry(),
		conversations:   conversations,
		records:         records,
		logger:          nopLogger,
		maxIterations:   DefaultMaxIterations,
		temperature:     DefaultTemperature,
		topK:            DefaultTopK,
		maxContextChars: DefaultMaxContextChars,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RunTurn drives one turn to completion. Any unrecovered error means the
// turn failed: no partial answer is persisted or returned. A turn that
// retrieves nothing still succeeds with the fixed insufficient-context
// answer.
func (a *Assistant) RunTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if req.ConversationUID == "" {
		return TurnResult{}, fmt.Errorf("run turn: empty conversation uid")
	}
	if req.Message == "" {
		return TurnResult{}, fmt.Errorf("run turn: empty message")
	}

	conv, err := a.conversations.GetOrCreateConversation(ctx, req.ConversationUID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("get or create conversation: %w", err)
	}
	history, err := a.conversations.History(ctx, conv.UID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load history: %w", err)
	}

	st := NewState(conv.UID, req.DocumentUID, history, req.Message)

	// Audit wrapping happens here, not in the engine: the engine only ever
	// sees the capability interfaces.
	provider, tools := a.provider, a.tools
	if a.records != nil {
		recorder := NewRecorder(a.records, a.logger)
		provider = NewAuditedProvider(provider, recorder, conv.UID)
		tools = NewAuditedTools(tools, recorder, conv.UID)
	}

	engine := NewEngine(provider, tools,
		WithMaxIterations(a.maxIterations),
		WithTemperature(a.temperature),
		WithTopK(a.topK),
		WithMaxContextChars(a.maxContextChars),
		WithEngineTracer(a.tracer),
		WithEngineLogger(a.logger),
	)

	a.logger.Info("turn started", "conversation_uid", conv.UID, "history_len", len(history))
	if err := engine.Run(ctx, st); err != nil {
		return TurnResult{}, fmt.Errorf("run workflow: %w", err)
	}

	// The new tail starts at the user message NewState appended. Appending
	// it as one batch keeps tool-call requests and their results in the same
	// transaction.
	if err := a.conversations.AppendMessages(ctx, conv.UID, st.Messages[len(history):]); err != nil {
		return TurnResult{}, fmt.Errorf("append messages: %w", err)
	}

	a.logger.Info("turn completed",
		"conversation_uid", conv.UID,
		"iterations", st.Iteration,
		"fragments", len(st.Fragments),
		"answer_len", len(st.Answer))

	return TurnResult{Answer: st.Answer, Fragments: st.Fragments}, nil
}

// History returns the conversation's sanitized message history in order.
// Unknown UIDs yield an empty history, not an error.
func (a *Assistant) History(ctx context.Context, conversationUID string) ([]ChatMessage, error) {
	return a.conversations.History(ctx, conversationUID)
}

// ExecutionRecords exposes the audit trail for debugging. Returns nil when
// no record store is configured.
func (a *Assistant) ExecutionRecords(ctx context.Context, conversationUID string) ([]ExecutionRecord, error) {
	if a.records == nil {
		return nil, nil
	}
	return a.records.ExecutionRecords(ctx, conversationUID)
}
