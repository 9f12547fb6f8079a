package lore

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

// SearchToolName is the tool the think node may request to retrieve
// document fragments. Retrieval tools must register under this name for the
// engine to route their results into State.Fragments.
const SearchToolName = "vector_search"

// InsufficientContextAnswer is returned when a turn ends with no usable
// retrieved fragments. Synthesize skips the LLM call entirely in that case
// so the model never produces an ungrounded answer.
const InsufficientContextAnswer = "I could not find relevant information in the indexed documents to answer this question."

// Engine defaults. All are overridable via options.
const (
	DefaultMaxIterations   = 10
	DefaultTemperature     = 0.7
	DefaultTopK            = 5
	DefaultMaxContextChars = 3000

	// maxGroundingFragments caps how many fragments feed the grounding
	// prompt regardless of how many search cycles ran.
	maxGroundingFragments = 5
)

// Node names, used for spans and audit records.
const (
	nodeThink      = "think"
	nodeSearch     = "search"
	nodeJudge      = "judge"
	nodeSynthesize = "synthesize"
)

// Engine drives one conversation turn from an initial State to a terminal
// state carrying Answer. The topology is a four-node loop:
//
//	entry → think
//	think → search (tool call requested) | synthesize (otherwise)
//	search → judge
//	judge → think (continue) | synthesize (iteration budget spent)
//	synthesize → terminal
//
// Tool calls execute only when the LLM explicitly requests them via
// structured arguments. A hard iteration ceiling always terminates the loop:
// Iteration increments once per completed think→search cycle in judge, and
// reaching MaxIterations forces synthesis with whatever was retrieved.
//
// The engine depends only on the Provider and ToolInvoker interfaces. Pass
// audited wrappers to make every capability call observable.
type Engine struct {
	provider Provider
	tools    ToolInvoker

	maxIterations   int
	temperature     float64
	topK            int
	maxContextChars int

	tracer Tracer
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxIterations sets the think→search cycle budget (default 10).
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithTemperature sets the sampling temperature for reasoning and synthesis
// calls (default 0.7).
func WithTemperature(t float64) EngineOption {
	return func(e *Engine) { e.temperature = t }
}

// WithTopK sets the fallback fragment count for searches where the LLM
// omitted top_k (default 5).
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithMaxContextChars caps the grounding context length in runes (default 3000).
func WithMaxContextChars(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxContextChars = n
		}
	}
}

// WithEngineTracer sets an optional Tracer emitting one span per node execution.
func WithEngineTracer(t Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithEngineLogger sets a structured logger (default: discard).
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine over the given capabilities.
func NewEngine(provider Provider, tools ToolInvoker, opts ...EngineOption) *Engine {
	e := &Engine{
		provider:        provider,
		tools:           tools,
		maxIterations:   DefaultMaxIterations,
		temperature:     DefaultTemperature,
		topK:            DefaultTopK,
		maxContextChars: DefaultMaxContextChars,
		logger:          nopLogger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes the workflow to completion, mutating st in place. On return
// without error, st.Answer is set and st.Messages carries the turn's new
// tail (assistant tool-call requests, tool results, final answer) appended
// after the initial history.
//
// LLM errors from think/synthesize propagate uncaught; tool errors inside
// search become textual observations and the loop continues.
func (e *Engine) Run(ctx context.Context, st *State) error {
	node := nodeThink
	for {
		stepCtx, span := e.startNode(ctx, node, st)
		switch node {
		case nodeThink:
			if err := e.think(stepCtx, st); err != nil {
				e.endNode(span, err)
				return err
			}
			if st.Next == ActionSearch {
				node = nodeSearch
			} else {
				node = nodeSynthesize
			}
		case nodeSearch:
			e.search(stepCtx, st)
			node = nodeJudge
		case nodeJudge:
			e.judge(st)
			if st.Next == ActionFinish {
				node = nodeSynthesize
			} else {
				node = nodeThink
			}
		case nodeSynthesize:
			err := e.synthesize(stepCtx, st)
			e.endNode(span, err)
			return err
		}
		e.endNode(span, nil)
	}
}

// startNode opens a span for a node execution and annotates the context with
// the step info the audit proxies read.
func (e *Engine) startNode(ctx context.Context, node string, st *State) (context.Context, Span) {
	ctx = WithStep(ctx, node, st.Iteration)
	if e.tracer == nil {
		return ctx, nil
	}
	ctx, span := e.tracer.Start(ctx, "engine."+node,
		StringAttr("conversation_uid", st.ConversationUID),
		IntAttr("iteration", st.Iteration))
	return ctx, span
}

func (e *Engine) endNode(span Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.Error(err)
	}
	span.End()
}

// think asks the LLM to decide the next step given the full history and the
// schemas of all registered tools. A tool call naming the search tool routes
// to search; anything else routes to synthesis.
func (e *Engine) think(ctx context.Context, st *State) error {
	req := ChatRequest{
		Messages:    st.Messages,
		Tools:       e.tools.AllDefinitions(),
		Temperature: &e.temperature,
	}
	resp, err := e.provider.Chat(ctx, req)
	if err != nil {
		return err
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != SearchToolName {
			continue
		}
		if tc.ID == "" {
			tc.ID = "call_" + tc.Name
		}
		// Single pending call per cycle: only the matched search request is
		// kept on the assistant message so every persisted tool-call request
		// gets exactly one adjacent tool result.
		st.Messages = append(st.Messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: []ToolCall{tc},
		})
		st.Pending = &tc
		st.Next = ActionSearch
		e.logger.Debug("think: search requested", "conversation_uid", st.ConversationUID, "iteration", st.Iteration, "args", string(tc.Args))
		return nil
	}

	st.Working["think"] = resp.Content
	st.Next = ActionFinish
	e.logger.Debug("think: no search requested", "conversation_uid", st.ConversationUID, "iteration", st.Iteration)
	return nil
}

// searchArgs is the argument shape of the vector_search tool call.
type searchArgs struct {
	Query       string `json:"query"`
	TopK        int    `json:"top_k"`
	DocumentUID string `json:"document_uid,omitempty"`
}

// search executes the pending tool call. Missing arguments fall back to the
// last user message text and the configured top_k. A tool failure is never
// fatal: it becomes an error observation in the tool-result message so the
// LLM can see and react to it on the next think.
func (e *Engine) search(ctx context.Context, st *State) {
	tc := st.Pending
	st.Pending = nil
	if tc == nil {
		// Transition table routes here only after think set a pending call.
		return
	}

	var args searchArgs
	if len(tc.Args) > 0 {
		if err := json.Unmarshal(tc.Args, &args); err != nil {
			e.logger.Warn("search: malformed arguments, using fallbacks", "error", err)
		}
	}
	if args.Query == "" {
		args.Query = st.LastUserMessage()
	}
	if args.TopK <= 0 {
		args.TopK = e.topK
	}
	if args.DocumentUID == "" {
		args.DocumentUID = st.DocumentUID
	}
	payload, _ := json.Marshal(args)

	var content string
	result, err := e.tools.Execute(ctx, tc.Name, payload)
	switch {
	case err != nil:
		content = "error: " + err.Error()
		e.logger.Warn("search: tool failed", "conversation_uid", st.ConversationUID, "error", err)
	case result.Error != "":
		content = "error: " + result.Error
		e.logger.Warn("search: tool failed", "conversation_uid", st.ConversationUID, "error", result.Error)
	default:
		st.Fragments = append(st.Fragments, result.Fragments...)
		st.Working["search"] = result
		content = result.Content
		if content == "" {
			content = "no results"
		}
	}
	st.Messages = append(st.Messages, ToolResultMessage(tc.ID, content))
}

// judge closes one think→search cycle. It is the sole runaway guard: once
// the iteration budget is spent the decision is forced to finish, otherwise
// the previously decided action passes through unchanged.
func (e *Engine) judge(st *State) {
	st.Iteration++
	if st.Iteration >= e.maxIterations {
		if st.Next != ActionFinish {
			e.logger.Warn("judge: iteration budget spent, forcing synthesis", "conversation_uid", st.ConversationUID, "iteration", st.Iteration)
		}
		st.Next = ActionFinish
	}
}

// synthesize produces the terminal answer. With usable fragments it asks the
// LLM to answer from that context only; with none it returns the fixed
// insufficient-context answer without calling the LLM at all.
func (e *Engine) synthesize(ctx context.Context, st *State) error {
	frags := make([]string, 0, len(st.Fragments))
	for _, f := range st.Fragments {
		if strings.TrimSpace(f) != "" {
			frags = append(frags, f)
		}
	}
	if len(frags) == 0 {
		st.Answer = InsufficientContextAnswer
		st.Messages = append(st.Messages, AssistantMessage(st.Answer))
		st.Next = ActionFinish
		return nil
	}
	if len(frags) > maxGroundingFragments {
		frags = frags[:maxGroundingFragments]
	}

	contextText := truncateRunes(strings.Join(frags, "\n\n"), e.maxContextChars)
	prompt := "Answer the user's question using ONLY the document content below. " +
		"If the content does not cover the question, say so.\n\n" +
		"Document content:\n" + contextText + "\n\n" +
		"Question: " + st.LastUserMessage()

	// The grounding prompt is ephemeral: it feeds this one LLM call and is
	// never appended to the durable message history.
	msgs := make([]ChatMessage, 0, len(st.Messages)+1)
	msgs = append(msgs, st.Messages...)
	msgs = append(msgs, UserMessage(prompt))

	resp, err := e.provider.Chat(ctx, ChatRequest{Messages: msgs, Temperature: &e.temperature})
	if err != nil {
		return err
	}
	st.Answer = resp.Content
	st.Messages = append(st.Messages, AssistantMessage(resp.Content))
	st.Next = ActionFinish
	return nil
}

// truncateRunes truncates a string to n runes.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
