package openaicompat

import (
	"context"
	"strings"
	"testing"
)

func collectStream(t *testing.T, sse string) (string, []string) {
	t.Helper()
	ch := make(chan string, 64)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	var deltas []string
	for d := range ch {
		deltas = append(deltas, d)
	}
	return resp.Content, deltas
}

func TestStreamSSE_TextDeltas(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: [DONE]\n"

	content, deltas := collectStream(t, sse)
	if content != "Hello" {
		t.Errorf("accumulated content: %q", content)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Errorf("deltas: %v", deltas)
	}
}

func TestStreamSSE_ToolCallAccumulation(t *testing.T) {
	// Tool call ID and name arrive first, arguments stream in fragments.
	sse := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"vector_search","arguments":""}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}
data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"warranty\"}"}}]}}]}
data: [DONE]
`
	ch := make(chan string, 8)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	for range ch {
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "vector_search" {
		t.Errorf("tool call: %+v", tc)
	}
	if string(tc.Args) != `{"query":"warranty"}` {
		t.Errorf("args: %s", tc.Args)
	}
}

func TestStreamSSE_UsageOnlyChunk(t *testing.T) {
	sse := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n" +
		"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":11,\"completion_tokens\":4}}\n" +
		"data: [DONE]\n"

	ch := make(chan string, 8)
	resp, err := StreamSSE(context.Background(), strings.NewReader(sse), ch)
	if err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}
	for range ch {
	}

	if resp.Usage.InputTokens != 11 || resp.Usage.OutputTokens != 4 {
		t.Errorf("usage: %+v", resp.Usage)
	}
}

func TestStreamSSE_SkipsMalformedChunks(t *testing.T) {
	sse := "data: not json\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: [DONE]\n"

	content, _ := collectStream(t, sse)
	if content != "ok" {
		t.Errorf("content: %q", content)
	}
}
