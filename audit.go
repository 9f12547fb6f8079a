package lore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Execution record statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ExecutionError captures a failed capability call for the audit trail.
type ExecutionError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// ExecutionRecord is one append-only audit row, created once per capability
// invocation and never mutated or deleted. The workflow engine never reads
// these back; they exist for observability and debugging.
type ExecutionRecord struct {
	ID              string          `json:"id"`
	ConversationUID string          `json:"conversation_uid"`
	Node            string          `json:"node"`
	Iteration       int             `json:"iteration"`
	Status          string          `json:"status"`
	DurationMS      int64           `json:"duration_ms"`
	Input           json.RawMessage `json:"input,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	Err             *ExecutionError `json:"error,omitempty"`
	CreatedAt       int64           `json:"created_at"`
}

// Recorder is the audit sink used by the audited proxies. Recording is
// best-effort: implementations must never propagate a write failure to the
// caller, so auditing can never break a turn.
type Recorder interface {
	Record(ctx context.Context, rec ExecutionRecord)
}

// StoreRecorder writes execution records through a RecordStore, logging and
// swallowing write failures.
type StoreRecorder struct {
	store  RecordStore
	logger *slog.Logger
}

var _ Recorder = (*StoreRecorder)(nil)

// NewRecorder creates a StoreRecorder. logger may be nil.
func NewRecorder(store RecordStore, logger *slog.Logger) *StoreRecorder {
	if logger == nil {
		logger = nopLogger
	}
	return &StoreRecorder{store: store, logger: logger}
}

// Record fills in ID and CreatedAt when absent and appends the record.
func (r *StoreRecorder) Record(ctx context.Context, rec ExecutionRecord) {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = NowUnix()
	}
	if err := r.store.AppendExecutionRecord(ctx, rec); err != nil {
		r.logger.Warn("audit: record write failed", "node", rec.Node, "conversation_uid", rec.ConversationUID, "error", err)
	}
}

// --- step context ---

// The engine annotates the context with the current node name and iteration
// before each capability call. The audited proxies read it back, which keeps
// them transparent decorators: the engine never sees the recorder, and the
// proxies never see the engine.

type stepContextKey struct{}

type stepInfo struct {
	node      string
	iteration int
}

// WithStep returns a context annotated with the executing node name and
// iteration count.
func WithStep(ctx context.Context, node string, iteration int) context.Context {
	return context.WithValue(ctx, stepContextKey{}, stepInfo{node: node, iteration: iteration})
}

// StepFromContext returns the node name and iteration set by WithStep,
// or ("", 0) when absent.
func StepFromContext(ctx context.Context) (node string, iteration int) {
	if s, ok := ctx.Value(stepContextKey{}).(stepInfo); ok {
		return s.node, s.iteration
	}
	return "", 0
}

// --- audited proxies ---

// AuditedProvider wraps a Provider so every Chat call is recorded. Errors
// are recorded with kind/message/stack and then re-raised unchanged:
// recording never swallows a capability error.
//
// ChatStream passes through unaudited. Streaming responses arrive
// incrementally and are not captured by this design.
type AuditedProvider struct {
	inner           Provider
	recorder        Recorder
	conversationUID string
}

var _ Provider = (*AuditedProvider)(nil)

// NewAuditedProvider wraps inner with audit recording bound to one conversation.
func NewAuditedProvider(inner Provider, recorder Recorder, conversationUID string) *AuditedProvider {
	return &AuditedProvider{inner: inner, recorder: recorder, conversationUID: conversationUID}
}

func (p *AuditedProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	start := time.Now()
	resp, err := p.inner.Chat(ctx, req)

	node, iteration := StepFromContext(ctx)
	rec := ExecutionRecord{
		ConversationUID: p.conversationUID,
		Node:            node,
		Iteration:       iteration,
		Status:          StatusSuccess,
		DurationMS:      time.Since(start).Milliseconds(),
		Input:           marshalPayload(req),
	}
	if err != nil {
		rec.Status = StatusError
		rec.Err = captureError(err)
	} else {
		rec.Output = marshalPayload(resp)
	}
	p.recorder.Record(ctx, rec)
	return resp, err
}

func (p *AuditedProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error) {
	return p.inner.ChatStream(ctx, req, ch)
}

func (p *AuditedProvider) Name() string { return p.inner.Name() }

// AuditedTools wraps a ToolInvoker with the same record-then-reraise
// contract as AuditedProvider.
type AuditedTools struct {
	inner           ToolInvoker
	recorder        Recorder
	conversationUID string
}

var _ ToolInvoker = (*AuditedTools)(nil)

// NewAuditedTools wraps inner with audit recording bound to one conversation.
func NewAuditedTools(inner ToolInvoker, recorder Recorder, conversationUID string) *AuditedTools {
	return &AuditedTools{inner: inner, recorder: recorder, conversationUID: conversationUID}
}

func (t *AuditedTools) AllDefinitions() []ToolDefinition {
	return t.inner.AllDefinitions()
}

func (t *AuditedTools) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	start := time.Now()
	result, err := t.inner.Execute(ctx, name, args)

	node, iteration := StepFromContext(ctx)
	rec := ExecutionRecord{
		ConversationUID: t.conversationUID,
		Node:            node,
		Iteration:       iteration,
		Status:          StatusSuccess,
		DurationMS:      time.Since(start).Milliseconds(),
		Input:           marshalPayload(map[string]any{"tool": name, "args": args}),
	}
	if err != nil {
		rec.Status = StatusError
		rec.Err = captureError(err)
	} else {
		rec.Output = marshalPayload(result)
	}
	t.recorder.Record(ctx, rec)
	return result, err
}

// marshalPayload serializes v for the audit trail. Payloads that cannot be
// marshaled fall back to their text representation so a record write never
// fails on payload shape.
func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return data
}

// captureError formats an error with its dynamic type and the recording
// goroutine's stack.
func captureError(err error) *ExecutionError {
	return &ExecutionError{
		Kind:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Stack:   string(debug.Stack()),
	}
}
