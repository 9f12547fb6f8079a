package lore

import (
	"encoding/json"
	"testing"
)

func TestDropOrphanToolResultsKeepsValidHistory(t *testing.T) {
	msgs := []ChatMessage{
		UserMessage("q"),
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call-1", Name: SearchToolName, Args: json.RawMessage(`{}`)}}},
		ToolResultMessage("call-1", "fragments"),
		AssistantMessage("answer"),
	}
	got := DropOrphanToolResults(msgs, nil)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4 (nothing dropped)", len(got))
	}
	for i := range msgs {
		if got[i].Role != msgs[i].Role || got[i].Content != msgs[i].Content {
			t.Errorf("message %d changed: %+v", i, got[i])
		}
	}
}

func TestDropOrphanToolResultsDropsOrphan(t *testing.T) {
	// A tool message with no preceding tool-call-bearing assistant message
	// is omitted, and order is preserved.
	msgs := []ChatMessage{
		UserMessage("q"),
		ToolResultMessage("call-ghost", "stale result"),
		AssistantMessage("answer"),
	}
	got := DropOrphanToolResults(msgs, nil)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "assistant" {
		t.Errorf("order disturbed: %+v", got)
	}
}

func TestDropOrphanToolResultsMismatchedCallID(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call-1", Name: SearchToolName}}},
		ToolResultMessage("call-2", "wrong id"),
	}
	got := DropOrphanToolResults(msgs, nil)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (mismatched id dropped)", len(got))
	}
}

func TestDropOrphanToolResultsAssistantWithoutCalls(t *testing.T) {
	msgs := []ChatMessage{
		AssistantMessage("plain assistant"),
		ToolResultMessage("call-1", "orphan"),
	}
	got := DropOrphanToolResults(msgs, nil)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestDropOrphanToolResultsRunOfOrphans(t *testing.T) {
	// Once the anchor assistant message is consumed by the first result,
	// a second result for the same call is itself an orphan (the message at
	// i-1 is then a tool message, not an assistant one).
	msgs := []ChatMessage{
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call-1", Name: SearchToolName}}},
		ToolResultMessage("call-1", "first"),
		ToolResultMessage("call-1", "duplicate"),
	}
	got := DropOrphanToolResults(msgs, nil)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].Content != "first" {
		t.Errorf("kept %q, want the adjacent result", got[1].Content)
	}
}

func TestDropOrphanToolResultsLeadingTool(t *testing.T) {
	msgs := []ChatMessage{ToolResultMessage("call-1", "no history at all")}
	if got := DropOrphanToolResults(msgs, nil); len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}
