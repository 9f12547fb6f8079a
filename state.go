package lore

// Action is the engine's next-transition decision, set by node functions and
// consumed by the transition table in Engine.Run.
type Action int

const (
	// ActionFinish routes to synthesize and then terminates the run.
	ActionFinish Action = iota
	// ActionSearch routes to the search node to execute the pending tool call.
	ActionSearch
)

func (a Action) String() string {
	switch a {
	case ActionSearch:
		return "search"
	default:
		return "finish"
	}
}

// State is the mutable working record threaded through the workflow for one
// conversation turn. It is created fresh per incoming user turn from
// persisted history plus the new user message, mutated only by node
// functions, and discarded once the turn completes: the terminal Answer and
// the new tail of Messages are the only durable output.
type State struct {
	// ConversationUID is the stable external conversation identifier.
	ConversationUID string
	// DocumentUID optionally scopes retrieval to a single document.
	DocumentUID string
	// Messages is the ordered history, including messages appended during
	// the run (assistant tool-call requests, tool results, final answer).
	Messages []ChatMessage
	// Iteration counts completed think→search cycles. Incremented once per
	// cycle by the judge node; the sole runaway-loop guard.
	Iteration int
	// Next is the pending transition decision.
	Next Action
	// Pending is the tool call the think node requested, consumed by search.
	Pending *ToolCall
	// Fragments accumulates retrieved document texts across search cycles.
	Fragments []string
	// Working holds raw node outputs for debugging (search results, think
	// content). Never read by the engine's control logic.
	Working map[string]any
	// Answer is the terminal grounded answer set by synthesize.
	Answer string
}

// NewState builds the initial state for one turn from persisted history and
// the new user message. The user message is appended to Messages so the
// durable tail of the run starts with it.
func NewState(conversationUID, documentUID string, history []ChatMessage, userMessage string) *State {
	msgs := make([]ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, UserMessage(userMessage))
	return &State{
		ConversationUID: conversationUID,
		DocumentUID:     documentUID,
		Messages:        msgs,
		Working:         make(map[string]any),
	}
}

// LastUserMessage returns the content of the most recent user message, or ""
// if none exists. Used by the search node as the query fallback when the LLM
// omits arguments.
func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i].Content
		}
	}
	return ""
}
