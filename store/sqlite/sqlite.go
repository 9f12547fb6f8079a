// Package sqlite implements lore's persistence interfaces using pure-Go
// SQLite with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nevindra/lore"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements lore.ConversationStore, lore.RecordStore, and
// lore.DocumentStore backed by a local SQLite file. Embeddings are stored as
// JSON text and vector search is done in-process using brute-force cosine
// similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ lore.ConversationStore = (*Store)(nil)
var _ lore.RecordStore = (*Store)(nil)
var _ lore.DocumentStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			title TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_records (
			id TEXT PRIMARY KEY,
			conversation_uid TEXT NOT NULL,
			node TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			embedding TEXT
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_records_conversation ON execution_records(conversation_uid)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Conversations + messages ---

// GetOrCreateConversation returns the conversation for uid, creating it on
// first reference. The uid column's unique constraint resolves concurrent
// duplicate creation: the loser's insert is a no-op and the follow-up select
// returns the winner's row.
func (s *Store) GetOrCreateConversation(ctx context.Context, uid string) (lore.Conversation, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get or create conversation", "uid", uid)

	conv, err := s.getConversation(ctx, uid)
	if err == nil {
		return conv, nil
	}
	if err != sql.ErrNoRows {
		return lore.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, uid, title, created_at) VALUES (?, ?, NULL, ?)
		 ON CONFLICT(uid) DO NOTHING`,
		lore.NewID(), uid, lore.NowUnix(),
	)
	if err != nil {
		return lore.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	conv, err = s.getConversation(ctx, uid)
	if err != nil {
		return lore.Conversation{}, fmt.Errorf("get conversation after create: %w", err)
	}
	s.logger.Info("sqlite: conversation created", "uid", uid, "id", conv.ID, "duration", time.Since(start))
	return conv, nil
}

func (s *Store) getConversation(ctx context.Context, uid string) (lore.Conversation, error) {
	var c lore.Conversation
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uid, title, created_at FROM conversations WHERE uid = ?`, uid,
	).Scan(&c.ID, &c.UID, &title, &c.CreatedAt)
	if err != nil {
		return lore.Conversation{}, err
	}
	if title.Valid {
		c.Title = title.String
	}
	return c, nil
}

// History returns the conversation's messages in insertion order with tool
// linkage reconstructed. Orphaned tool messages are dropped via
// lore.DropOrphanToolResults, never surfaced.
func (s *Store) History(ctx context.Context, uid string) ([]lore.ChatMessage, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load history", "uid", uid)

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.role, m.content, m.tool_calls, m.tool_call_id
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.uid = ?
		 ORDER BY m.seq`,
		uid,
	)
	if err != nil {
		s.logger.Error("sqlite: load history failed", "uid", uid, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []lore.ChatMessage
	for rows.Next() {
		var m lore.ChatMessage
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				s.logger.Warn("sqlite: unreadable tool calls, treating as plain message", "uid", uid, "error", err)
			}
		}
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	msgs = lore.DropOrphanToolResults(msgs, s.logger)
	s.logger.Debug("sqlite: load history ok", "uid", uid, "messages", len(msgs), "duration", time.Since(start))
	return msgs, nil
}

// AppendMessages persists the turn's messages inside one transaction: all
// commit together or none do. The first append also backfills the
// conversation title from the first user message.
func (s *Store) AppendMessages(ctx context.Context, uid string, msgs []lore.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: append messages", "uid", uid, "count", len(msgs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var convID string
	var title sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, title FROM conversations WHERE uid = ?`, uid,
	).Scan(&convID, &title)
	if err != nil {
		return fmt.Errorf("append: conversation %q: %w", uid, err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`, convID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("append: next seq: %w", err)
	}

	now := lore.NowUnix()
	for _, m := range msgs {
		seq++
		var toolCalls *string
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("append: marshal tool calls: %w", err)
			}
			v := string(data)
			toolCalls = &v
		}
		var toolCallID *string
		if m.ToolCallID != "" {
			toolCallID = &m.ToolCallID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, seq, role, content, tool_calls, tool_call_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			lore.NewID(), convID, seq, m.Role, m.Content, toolCalls, toolCallID, now,
		)
		if err != nil {
			return fmt.Errorf("append: insert message: %w", err)
		}
	}

	if !title.Valid || title.String == "" {
		if t := titleFrom(msgs); t != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET title = ? WHERE id = ? AND (title IS NULL OR title = '')`,
				t, convID,
			); err != nil {
				return fmt.Errorf("append: set title: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: append messages failed", "uid", uid, "error", err, "duration", time.Since(start))
		return fmt.Errorf("commit append: %w", err)
	}
	s.logger.Debug("sqlite: append messages ok", "uid", uid, "count", len(msgs), "duration", time.Since(start))
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
	start := time.Now()

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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_records (id, conversation_uid, node, iteration, status, duration_ms, input, output, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationUID, rec.Node, rec.Iteration, rec.Status, rec.DurationMS, input, output, errJSON, rec.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: append execution record failed", "node", rec.Node, "error", err, "duration", time.Since(start))
		return fmt.Errorf("append execution record: %w", err)
	}
	s.logger.Debug("sqlite: append execution record ok", "node", rec.Node, "status", rec.Status, "duration", time.Since(start))
	return nil
}

// ExecutionRecords returns a conversation's audit rows in creation order.
func (s *Store) ExecutionRecords(ctx context.Context, conversationUID string) ([]lore.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_uid, node, iteration, status, duration_ms, input, output, error, created_at
		 FROM execution_records WHERE conversation_uid = ?
		 ORDER BY created_at, id`,
		conversationUID,
	)
	if err != nil {
		return nil, fmt.Errorf("load execution records: %w", err)
	}
	defer rows.Close()

	var recs []lore.ExecutionRecord
	for rows.Next() {
		var r lore.ExecutionRecord
		var input, output, errJSON sql.NullString
		if err := rows.Scan(&r.ID, &r.ConversationUID, &r.Node, &r.Iteration, &r.Status, &r.DurationMS, &input, &output, &errJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		if input.Valid {
			r.Input = json.RawMessage(input.String)
		}
		if output.Valid {
			r.Output = json.RawMessage(output.String)
		}
		if errJSON.Valid {
			r.Err = &lore.ExecutionError{}
			_ = json.Unmarshal([]byte(errJSON.String), r.Err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// --- Documents + chunks ---

// StoreDocument inserts a document and its chunks in one transaction,
// replacing any prior version with the same ID.
func (s *Store) StoreDocument(ctx context.Context, doc lore.Document, chunks []lore.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: store document", "id", doc.ID, "title", doc.Title, "chunks", len(chunks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin store document: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, source, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.Content, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	for _, c := range chunks {
		var embJSON *string
		if len(c.Embedding) > 0 {
			v := serializeEmbedding(c.Embedding)
			embJSON = &v
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, content, chunk_index, embedding) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.Content, c.ChunkIndex, embJSON,
		)
		if err != nil {
			return fmt.Errorf("store chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit store document: %w", err)
	}
	s.logger.Info("sqlite: store document ok", "id", doc.ID, "chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// SearchChunks returns the topK chunks nearest to embedding by cosine
// similarity, optionally filtered to one document. Scores all candidate
// rows in process.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, topK int, documentUID string) ([]lore.ScoredChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search chunks", "top_k", topK, "embedding_dim", len(embedding), "document_uid", documentUID)

	query := `SELECT id, document_id, content, chunk_index, embedding FROM chunks WHERE embedding IS NOT NULL`
	var args []any
	if documentUID != "" {
		query += ` AND document_id = ?`
		args = append(args, documentUID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []lore.ScoredChunk
	scanned := 0
	for rows.Next() {
		var c lore.Chunk
		var embJSON string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &embJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		results = append(results, lore.ScoredChunk{Chunk: c, Score: cosineSimilarity(embedding, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search chunks ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// --- embedding helpers ---

func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
