// Package postgres implements lore's persistence interfaces using PostgreSQL
// with pgvector for native vector similarity search over document chunks.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/lore"
)

// Store implements lore.ConversationStore, lore.RecordStore, and
// lore.DocumentStore backed by PostgreSQL with pgvector. Chunk search uses
// HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Higher values improve recall at the cost of latency. Default:
// pgvector's 40. Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ lore.ConversationStore = (*Store)(nil)
var _ lore.RecordStore = (*Store)(nil)
var _ lore.DocumentStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			title TEXT,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB,
			tool_call_id TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, seq)`,

		`CREATE TABLE IF NOT EXISTS execution_records (
			id TEXT PRIMARY KEY,
			conversation_uid TEXT NOT NULL,
			node TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			status TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			input JSONB,
			output JSONB,
			error JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS records_conversation_idx ON execution_records(conversation_uid)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// --- Conversations + messages ---

// GetOrCreateConversation returns the conversation for uid, creating it on
// first reference. Concurrent creation for the same uid is resolved by the
// uid unique constraint: the losing insert is a no-op and the follow-up
// select returns the winner's row.
func (s *Store) GetOrCreateConversation(ctx context.Context, uid string) (lore.Conversation, error) {
	conv, err := s.getConversation(ctx, uid)
	if err == nil {
		return conv, nil
	}
	if err != pgx.ErrNoRows {
		return lore.Conversation{}, fmt.Errorf("postgres: get conversation: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, uid, title, created_at) VALUES ($1, $2, NULL, $3)
		 ON CONFLICT (uid) DO NOTHING`,
		lore.NewID(), uid, lore.NowUnix())
	if err != nil {
		return lore.Conversation{}, fmt.Errorf("postgres: create conversation: %w", err)
	}

	conv, err = s.getConversation(ctx, uid)
	if err != nil {
		return lore.Conversation{}, fmt.Errorf("postgres: get conversation after create: %w", err)
	}
	return conv, nil
}

func (s *Store) getConversation(ctx context.Context, uid string) (lore.Conversation, error) {
	var c lore.Conversation
	var title *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, uid, title, created_at FROM conversations WHERE uid = $1`, uid,
	).Scan(&c.ID, &c.UID, &title, &c.CreatedAt)
	if err != nil {
		return lore.Conversation{}, err
	}
	if title != nil {
		c.Title = *title
	}
	return c, nil
}

// History returns the conversation's messages in insertion order with tool
// linkage reconstructed. Orphaned tool messages are dropped, never surfaced.
func (s *Store) History(ctx context.Context, uid string) ([]lore.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.role, m.content, m.tool_calls, m.tool_call_id
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.uid = $1
		 ORDER BY m.seq`,
		uid)
	if err != nil {
		return nil, fmt.Errorf("postgres: load history: %w", err)
	}
	defer rows.Close()

	var msgs []lore.ChatMessage
	for rows.Next() {
		var m lore.ChatMessage
		var toolCalls []byte
		var toolCallID *string
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		if toolCalls != nil {
			_ = json.Unmarshal(toolCalls, &m.ToolCalls)
		}
		if toolCallID != nil {
			m.ToolCallID = *toolCallID
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}

	return lore.DropOrphanToolResults(msgs, nil), nil
}

// AppendMessages persists the turn's messages inside a single transaction.
// The first append also backfills the conversation title from the first user
// message.
func (s *Store) AppendMessages(ctx context.Context, uid string, msgs []lore.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var convID string
	var title *string
	err = tx.QueryRow(ctx,
		`SELECT id, title FROM conversations WHERE uid = $1`, uid,
	).Scan(&convID, &title)
	if err != nil {
		return fmt.Errorf("postgres: append: conversation %q: %w", uid, err)
	}

	var seq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = $1`, convID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("postgres: append: next seq: %w", err)
	}

	now := lore.NowUnix()
	for _, m := range msgs {
		seq++
		var toolCalls *string
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("postgres: append: marshal tool calls: %w", err)
			}
			v := string(data)
			toolCalls = &v
		}
		var toolCallID *string
		if m.ToolCallID != "" {
			toolCallID = &m.ToolCallID
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, seq, role, content, tool_calls, tool_call_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)`,
			lore.NewID(), convID, seq, m.Role, m.Content, toolCalls, toolCallID, now)
		if err != nil {
			return fmt.Errorf("postgres: append: insert message: %w", err)
		}
	}

	if title == nil || *title == "" {
		if t := titleFrom(msgs); t != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE conversations SET title = $1 WHERE id = $2 AND (title IS NULL OR title = '')`,
				t, convID); err != nil {
				return fmt.Errorf("postgres: append: set title: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit append: %w", err)
	}
	return nil
}

// titleFrom derives a conversation title from the first user message.
func titleFrom(msgs []lore.ChatMessage) string {
	for _, m := range msgs {
		if m.Role == "user" {
			t := strings.TrimSpace(m.Content)
			if r := []rune(t); len(r) > 80 {
				t = string(r[:80])
			}
			return t
		}
	}
	return ""
}

// --- Execution records ---

// AppendExecutionRecord inserts one audit row. Rows are never updated or
// deleted.
func (s *Store) AppendExecutionRecord(ctx context.Context, rec lore.ExecutionRecord) error {
	var errJSON *string
	if rec.Err != nil {
		data, _ := json.Marshal(rec.Err)
		v := string(data)
		errJSON = &v
	}
	var input, output *string
	if len(rec.Input) > 0 {
		v := string(rec.Input)
		input = &v
	}
	if len(rec.Output) > 0 {
		v := string(rec.Output)
		output = &v
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_records (id, conversation_uid, node, iteration, status, duration_ms, input, output, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10)`,
		rec.ID, rec.ConversationUID, rec.Node, rec.Iteration, rec.Status, rec.DurationMS, input, output, errJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append execution record: %w", err)
	}
	return nil
}

// ExecutionRecords returns a conversation's audit rows in creation order.
func (s *Store) ExecutionRecords(ctx context.Context, conversationUID string) ([]lore.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_uid, node, iteration, status, duration_ms, input, output, error, created_at
		 FROM execution_records WHERE conversation_uid = $1
		 ORDER BY created_at, id`,
		conversationUID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load execution records: %w", err)
	}
	defer rows.Close()

	var recs []lore.ExecutionRecord
	for rows.Next() {
		var r lore.ExecutionRecord
		var input, output, errJSON []byte
		if err := rows.Scan(&r.ID, &r.ConversationUID, &r.Node, &r.Iteration, &r.Status, &r.DurationMS, &input, &output, &errJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan execution record: %w", err)
		}
		if input != nil {
			r.Input = json.RawMessage(input)
		}
		if output != nil {
			r.Output = json.RawMessage(output)
		}
		if errJSON != nil {
			r.Err = &lore.ExecutionError{}
			_ = json.Unmarshal(errJSON, r.Err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// --- Documents + chunks ---

// StoreDocument inserts a document and all its chunks in a single
// transaction, replacing any prior version with the same ID.
func (s *Store) StoreDocument(ctx context.Context, doc lore.Document, chunks []lore.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, title, source, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   source = EXCLUDED.source,
		   content = EXCLUDED.content,
		   created_at = EXCLUDED.created_at`,
		doc.ID, doc.Title, doc.Source, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert document: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("postgres: clear chunks: %w", err)
	}

	for _, chunk := range chunks {
		if len(chunk.Embedding) > 0 {
			embStr := serializeEmbedding(chunk.Embedding)
			_, err = tx.Exec(ctx,
				`INSERT INTO chunks (id, document_id, content, chunk_index, embedding)
				 VALUES ($1, $2, $3, $4, $5::vector)`,
				chunk.ID, chunk.DocumentID, chunk.Content, chunk.ChunkIndex, embStr)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO chunks (id, document_id, content, chunk_index, embedding)
				 VALUES ($1, $2, $3, $4, NULL)`,
				chunk.ID, chunk.DocumentID, chunk.Content, chunk.ChunkIndex)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// SearchChunks performs vector similarity search over document chunks using
// pgvector's cosine distance operator with HNSW index, optionally filtered
// to one document.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, topK int, documentUID string) ([]lore.ScoredChunk, error) {
	embStr := serializeEmbedding(embedding)

	q := `SELECT id, document_id, content, chunk_index,
	        1 - (embedding <=> $1::vector) AS score
	 FROM chunks
	 WHERE embedding IS NOT NULL`
	args := []any{embStr, topK}
	if documentUID != "" {
		q += ` AND document_id = $3`
		args = append(args, documentUID)
	}
	q += `
	 ORDER BY embedding <=> $1::vector
	 LIMIT $2`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	defer rows.Close()

	var results []lore.ScoredChunk
	for rows.Next() {
		var c lore.Chunk
		var score float32
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		results = append(results, lore.ScoredChunk{Chunk: c, Score: score})
	}
	return results, rows.Err()
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
