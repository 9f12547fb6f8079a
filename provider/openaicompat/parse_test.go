package openaicompat

import (
	"testing"
)

func TestParseResponse_Content(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{
		Choices: []Choice{{Message: &ChoiceMessage{Content: "answer"}}},
		Usage:   &Usage{PromptTokens: 7, CompletionTokens: 3},
	})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Content != "answer" {
		t.Errorf("content: %q", resp.Content)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage: %+v", resp.Usage)
	}
}

func TestParseResponse_NoChoices(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{})
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Content != "" || len(resp.ToolCalls) != 0 {
		t.Errorf("expected empty response, got %+v", resp)
	}
}

func TestParseToolCalls_InvalidArgsFallBackToEmptyObject(t *testing.T) {
	out := ParseToolCalls([]ToolCallRequest{{
		ID:       "call_1",
		Function: FunctionCall{Name: "vector_search", Arguments: `{"broken`},
	}})
	if len(out) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(out))
	}
	if string(out[0].Args) != `{}` {
		t.Errorf("expected {} fallback, got %s", out[0].Args)
	}
}

func TestParseToolCalls_Empty(t *testing.T) {
	if out := ParseToolCalls(nil); out != nil {
		t.Errorf("expected nil, got %v", out)
	}
}
