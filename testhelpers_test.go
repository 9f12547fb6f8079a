package lore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// mockProvider replays a fixed sequence of responses. Shared across
// engine_test.go, audit_test.go, and assistant_test.go.
type mockProvider struct {
	name      string
	responses []ChatResponse
	err       error
	calls     int
	requests  []ChatRequest
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	if m.calls >= len(m.responses) {
		// Keep replaying the last response so max-iteration tests can loop.
		if len(m.responses) == 0 {
			return ChatResponse{}, nil
		}
		return m.responses[len(m.responses)-1], nil
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

func (m *mockProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error) {
	defer close(ch)
	return m.Chat(ctx, req)
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

// searchCall builds a vector_search tool-call response.
func searchCall(id string, args string) ChatResponse {
	return ChatResponse{ToolCalls: []ToolCall{{ID: id, Name: SearchToolName, Args: json.RawMessage(args)}}}
}

// mockSearchTool returns fixed fragments and records the args it received.
type mockSearchTool struct {
	fragments []string
	err       error
	toolErr   string
	gotArgs   []json.RawMessage
}

func (m *mockSearchTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: SearchToolName, Description: "Search indexed documents"}}
}

func (m *mockSearchTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	m.gotArgs = append(m.gotArgs, args)
	if m.err != nil {
		return ToolResult{}, m.err
	}
	if m.toolErr != "" {
		return ToolResult{Error: m.toolErr}, nil
	}
	content := fmt.Sprintf("%d fragments", len(m.fragments))
	return ToolResult{Content: content, Fragments: m.fragments}, nil
}

func registryWith(tools ...Tool) *ToolRegistry {
	reg := NewToolRegistry()
	for _, t := range tools {
		reg.Add(t)
	}
	return reg
}

// memStore is an in-memory ConversationStore + RecordStore for orchestration
// tests. Append is all-or-nothing like the real stores.
type memStore struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]ChatMessage
	records       []ExecutionRecord
	appendErr     error
	recordErr     error
}

func newMemStore() *memStore {
	return &memStore{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]ChatMessage),
	}
}

func (s *memStore) GetOrCreateConversation(_ context.Context, uid string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[uid]; ok {
		return c, nil
	}
	c := Conversation{ID: NewID(), UID: uid, CreatedAt: NowUnix()}
	s.conversations[uid] = c
	return c, nil
}

func (s *memStore) History(_ context.Context, uid string) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[uid]
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return DropOrphanToolResults(out, nil), nil
}

func (s *memStore) AppendMessages(_ context.Context, uid string, msgs []ChatMessage) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[uid] = append(s.messages[uid], msgs...)
	return nil
}

func (s *memStore) AppendExecutionRecord(_ context.Context, rec ExecutionRecord) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memStore) ExecutionRecords(_ context.Context, uid string) ([]ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ExecutionRecord
	for _, r := range s.records {
		if r.ConversationUID == uid {
			out = append(out, r)
		}
	}
	return out, nil
}
