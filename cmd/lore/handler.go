package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	lore "github.com/nevindra/lore"
	"github.com/nevindra/lore/ingest"
)

// turnRunner is the chat surface the handlers call. *lore.Assistant and
// observer.ObservedTurns both satisfy it.
type turnRunner interface {
	RunTurn(ctx context.Context, req lore.TurnRequest) (lore.TurnResult, error)
}

// historyReader is the read-only conversation surface. *lore.Assistant
// satisfies it.
type historyReader interface {
	History(ctx context.Context, conversationUID string) ([]lore.ChatMessage, error)
	ExecutionRecords(ctx context.Context, conversationUID string) ([]lore.ExecutionRecord, error)
}

const maxRequestBodyBytes = 32 << 20 // 32MB

type server struct {
	turns    turnRunner
	history  historyReader
	ingestor *ingest.Ingestor
	logger   *slog.Logger
}

func newServer(turns turnRunner, history historyReader, ingestor *ingest.Ingestor, logger *slog.Logger) *server {
	return &server{turns: turns, history: history, ingestor: ingestor, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/documents", s.handleIngest)
	mux.HandleFunc("GET /api/conversations/{uid}/history", s.handleHistory)
	mux.HandleFunc("GET /api/conversations/{uid}/records", s.handleRecords)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// chatRequest is the parsed body of POST /api/chat.
type chatRequest struct {
	ConversationUID string `json:"conversation_uid"`
	Message         string `json:"message"`
	DocumentUID     string `json:"document_uid,omitempty"`
}

// chatResponse is the JSON body returned by POST /api/chat.
type chatResponse struct {
	Answer    string   `json:"answer"`
	Fragments []string `json:"fragments,omitempty"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ConversationUID == "" {
		writeError(w, http.StatusBadRequest, "conversation_uid is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.turns.RunTurn(r.Context(), lore.TurnRequest{
		ConversationUID: req.ConversationUID,
		Message:         req.Message,
		DocumentUID:     req.DocumentUID,
	})
	if err != nil {
		s.logger.Error("turn failed", "conversation_uid", req.ConversationUID, "error", err)
		writeError(w, http.StatusInternalServerError, "turn failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: result.Answer, Fragments: result.Fragments})
}

// ingestRequest is the parsed body of POST /api/documents. Exactly one of
// text, url, or content must be set.
type ingestRequest struct {
	Text    string `json:"text,omitempty"`
	URL     string `json:"url,omitempty"`
	Content []byte `json:"content,omitempty"` // file bytes, base64-encoded in JSON
	Title   string `json:"title,omitempty"`
	Source  string `json:"source,omitempty"`
	Name    string `json:"filename,omitempty"`
}

// ingestResponse is the JSON body returned by POST /api/documents.
type ingestResponse struct {
	DocumentUID string `json:"document_uid"`
	Title       string `json:"title"`
	ChunkCount  int    `json:"chunk_count"`
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		result ingest.Result
		err    error
	)
	switch {
	case req.Text != "":
		result, err = s.ingestor.IngestText(r.Context(), req.Text, req.Source, req.Title)
	case req.URL != "":
		result, err = s.ingestor.IngestURL(r.Context(), req.URL)
	case len(req.Content) > 0:
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "filename is required with content")
			return
		}
		result, err = s.ingestor.IngestFile(r.Context(), req.Content, req.Name)
	default:
		writeError(w, http.StatusBadRequest, "one of text, url, or content is required")
		return
	}
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{
		DocumentUID: result.Document.ID,
		Title:       result.Document.Title,
		ChunkCount:  result.ChunkCount,
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "conversation uid is required")
		return
	}
	msgs, err := s.history.History(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load history: "+err.Error())
		return
	}
	if msgs == nil {
		msgs = []lore.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *server) handleRecords(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "conversation uid is required")
		return
	}
	recs, err := s.history.ExecutionRecords(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load records: "+err.Error())
		return
	}
	if recs == nil {
		recs = []lore.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// decode reads and unmarshals a JSON body, writing the error response itself.
// Returns false when the request was rejected.
func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
