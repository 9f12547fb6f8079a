package lore

import "log/slog"

// DropOrphanToolResults enforces the adjacency invariant on a loaded
// history: a tool message is only valid when the message immediately before
// it is an assistant message whose tool calls contain a request with a
// matching ID. Any tool message violating this (corrupted or truncated
// storage) is dropped and logged, never reordered. Both store
// implementations call this on load so malformed history can never break a
// subsequent LLM call that requires adjacency.
//
// The check runs against the sanitized sequence, so a run of orphans after a
// dropped message is dropped too.
func DropOrphanToolResults(msgs []ChatMessage, logger *slog.Logger) []ChatMessage {
	if logger == nil {
		logger = nopLogger
	}
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != "tool" {
			out = append(out, m)
			continue
		}
		if len(out) > 0 && matchesToolCall(out[len(out)-1], m.ToolCallID) {
			out = append(out, m)
			continue
		}
		logger.Warn("history: dropping orphaned tool message", "tool_call_id", m.ToolCallID)
	}
	return out
}

// matchesToolCall reports whether prev is an assistant message carrying a
// tool call with the given ID.
func matchesToolCall(prev ChatMessage, callID string) bool {
	if prev.Role != "assistant" || len(prev.ToolCalls) == 0 {
		return false
	}
	for _, tc := range prev.ToolCalls {
		if tc.ID == callID {
			return true
		}
	}
	return false
}
