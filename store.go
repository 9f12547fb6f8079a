package lore

import "context"

// ConversationStore persists and reconstructs ordered conversation history.
// store/sqlite and store/postgres implement it.
type ConversationStore interface {
	// GetOrCreateConversation returns the conversation for uid, creating it
	// on first reference. Idempotent: concurrent duplicate creation resolves
	// via the unique constraint on uid, with the loser re-reading.
	GetOrCreateConversation(ctx context.Context, uid string) (Conversation, error)

	// History returns the conversation's messages in creation order with
	// tool linkage reconstructed, after dropping any orphaned tool messages
	// (see DropOrphanToolResults). Unknown uid yields an empty history.
	History(ctx context.Context, uid string) ([]ChatMessage, error)

	// AppendMessages persists the turn's new messages in order, atomically:
	// all commit together or none do, so a persisted assistant tool-call
	// request can never dangle without its tool result.
	AppendMessages(ctx context.Context, uid string, msgs []ChatMessage) error
}

// RecordStore is the append-only sink for execution audit records.
type RecordStore interface {
	AppendExecutionRecord(ctx context.Context, rec ExecutionRecord) error
	// ExecutionRecords returns a conversation's records in creation order.
	// Debugging surface only; the engine never reads these.
	ExecutionRecords(ctx context.Context, conversationUID string) ([]ExecutionRecord, error)
}

// DocumentStore persists ingested documents and serves vector search over
// their chunks. The retrieval tool and the ingest pipeline depend on it.
type DocumentStore interface {
	StoreDocument(ctx context.Context, doc Document, chunks []Chunk) error
	// SearchChunks returns the topK chunks nearest to embedding by cosine
	// similarity, optionally filtered to one document UID ("" = no filter).
	SearchChunks(ctx context.Context, embedding []float32, topK int, documentUID string) ([]ScoredChunk, error)
}
