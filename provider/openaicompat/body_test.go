package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/nevindra/lore"
)

func TestBuildBody_PlainMessages(t *testing.T) {
	msgs := []lore.ChatMessage{
		lore.SystemMessage("You are a helpful assistant."),
		lore.UserMessage("Hello"),
		lore.AssistantMessage("Hi there"),
	}

	req := BuildBody(msgs, nil, "gpt-4o")

	if req.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", req.Model)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "You are a helpful assistant." {
		t.Errorf("system message wrong: %+v", req.Messages[0])
	}
	if req.Messages[1].Role != "user" || req.Messages[2].Role != "assistant" {
		t.Errorf("roles wrong: %+v", req.Messages)
	}
}

func TestBuildBody_ToolCallAndResult(t *testing.T) {
	msgs := []lore.ChatMessage{
		lore.UserMessage("search it"),
		{Role: "assistant", ToolCalls: []lore.ToolCall{{
			ID: "call_1", Name: "vector_search", Args: json.RawMessage(`{"query":"x"}`),
		}}},
		lore.ToolResultMessage("call_1", "found things"),
	}

	req := BuildBody(msgs, nil, "gpt-4o")

	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}
	asst := req.Messages[1]
	if len(asst.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(asst.ToolCalls))
	}
	tc := asst.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" {
		t.Errorf("tool call wrong: %+v", tc)
	}
	if tc.Function.Name != "vector_search" || tc.Function.Arguments != `{"query":"x"}` {
		t.Errorf("function call wrong: %+v", tc.Function)
	}
	result := req.Messages[2]
	if result.Role != "tool" || result.ToolCallID != "call_1" || result.Content != "found things" {
		t.Errorf("tool result wrong: %+v", result)
	}
}

func TestBuildBody_Options(t *testing.T) {
	req := BuildBody([]lore.ChatMessage{lore.UserMessage("hi")}, nil, "m",
		WithTemperature(0.7), WithTopP(0.9), WithMaxTokens(256), WithStop("END"))

	if req.Temperature == nil || *req.Temperature != 0.7 {
		t.Errorf("temperature: %v", req.Temperature)
	}
	if req.TopP == nil || *req.TopP != 0.9 {
		t.Errorf("top_p: %v", req.TopP)
	}
	if req.MaxTokens != 256 {
		t.Errorf("max_tokens: %d", req.MaxTokens)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "END" {
		t.Errorf("stop: %v", req.Stop)
	}
}

func TestBuildToolDefs_EmptyParameters(t *testing.T) {
	defs := BuildToolDefs([]lore.ToolDefinition{{Name: "noop", Description: "does nothing"}})
	if len(defs) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(defs))
	}
	if defs[0].Type != "function" {
		t.Errorf("expected type function, got %s", defs[0].Type)
	}
	if string(defs[0].Function.Parameters) != `{}` {
		t.Errorf("expected empty object parameters, got %s", defs[0].Function.Parameters)
	}
}
