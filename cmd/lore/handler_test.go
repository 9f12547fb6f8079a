package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	lore "github.com/nevindra/lore"
	"github.com/nevindra/lore/ingest"
)

// mockTurns for handler tests.
type mockTurns struct {
	result lore.TurnResult
	err    error
	gotReq lore.TurnRequest
}

func (m *mockTurns) RunTurn(_ context.Context, req lore.TurnRequest) (lore.TurnResult, error) {
	m.gotReq = req
	return m.result, m.err
}

// mockHistory for handler tests.
type mockHistory struct {
	msgs []lore.ChatMessage
	recs []lore.ExecutionRecord
	err  error
}

func (m *mockHistory) History(_ context.Context, _ string) ([]lore.ChatMessage, error) {
	return m.msgs, m.err
}
func (m *mockHistory) ExecutionRecords(_ context.Context, _ string) ([]lore.ExecutionRecord, error) {
	return m.recs, m.err
}

// mockDocStore records stored documents for ingest handler tests.
type mockDocStore struct {
	doc    lore.Document
	chunks []lore.Chunk
}

func (m *mockDocStore) StoreDocument(_ context.Context, doc lore.Document, chunks []lore.Chunk) error {
	m.doc = doc
	m.chunks = chunks
	return nil
}
func (m *mockDocStore) SearchChunks(_ context.Context, _ []float32, _ int, _ string) ([]lore.ScoredChunk, error) {
	return nil, nil
}

// mockEmbedding returns a fixed vector per input text.
type mockEmbedding struct{}

func (mockEmbedding) Name() string    { return "mock" }
func (mockEmbedding) Dimensions() int { return 3 }
func (mockEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func testServer(turns turnRunner, history historyReader) *server {
	logger := slog.New(slog.DiscardHandler)
	ingestor := ingest.NewIngestor(&mockDocStore{}, mockEmbedding{})
	return newServer(turns, history, ingestor, logger)
}

func TestHandleChat(t *testing.T) {
	turns := &mockTurns{result: lore.TurnResult{
		Answer:    "two years",
		Fragments: []string{"warranty lasts two years"},
	}}
	srv := testServer(turns, &mockHistory{})

	body := `{"conversation_uid":"conv-1","message":"how long is the warranty?","document_uid":"doc-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Answer != "two years" {
		t.Errorf("Answer = %q, want %q", resp.Answer, "two years")
	}
	if len(resp.Fragments) != 1 {
		t.Errorf("Fragments length = %d, want 1", len(resp.Fragments))
	}
	if turns.gotReq.ConversationUID != "conv-1" || turns.gotReq.DocumentUID != "doc-1" {
		t.Errorf("turn request = %+v, fields not forwarded", turns.gotReq)
	}
}

func TestHandleChatValidation(t *testing.T) {
	srv := testServer(&mockTurns{}, &mockHistory{})

	cases := []struct {
		name string
		body string
	}{
		{"missing uid", `{"message":"hi"}`},
		{"missing message", `{"conversation_uid":"c"}`},
		{"invalid json", `{not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleChatTurnError(t *testing.T) {
	srv := testServer(&mockTurns{err: errors.New("provider down")}, &mockHistory{})

	body := `{"conversation_uid":"c","message":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandleIngestText(t *testing.T) {
	srv := testServer(&mockTurns{}, &mockHistory{})

	body := `{"text":"The warranty lasts two years from purchase.","title":"Warranty","source":"manual"}`
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.DocumentUID == "" {
		t.Error("DocumentUID is empty")
	}
	if resp.Title != "Warranty" {
		t.Errorf("Title = %q, want %q", resp.Title, "Warranty")
	}
	if resp.ChunkCount < 1 {
		t.Errorf("ChunkCount = %d, want >= 1", resp.ChunkCount)
	}
}

func TestHandleIngestValidation(t *testing.T) {
	srv := testServer(&mockTurns{}, &mockHistory{})

	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"content without filename", `{"content":"data"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			srv.routes().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleHistory(t *testing.T) {
	history := &mockHistory{msgs: []lore.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}}
	srv := testServer(&mockTurns{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/history", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Messages []lore.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("Messages length = %d, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Role != "user" {
		t.Errorf("first role = %q, want user", resp.Messages[0].Role)
	}
}

func TestHandleHistoryEmptyIsNotError(t *testing.T) {
	srv := testServer(&mockTurns{}, &mockHistory{})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/unknown/history", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Errorf("body = %s, want empty messages array", rec.Body.String())
	}
}

func TestHandleRecords(t *testing.T) {
	history := &mockHistory{recs: []lore.ExecutionRecord{
		{ID: "r1", ConversationUID: "conv-1", Node: "think", Status: "success"},
	}}
	srv := testServer(&mockTurns{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/records", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"node":"think"`) {
		t.Errorf("body = %s, want record with node think", rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	srv := testServer(&mockTurns{}, &mockHistory{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
