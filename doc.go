// Package lore is a grounded document question-answering assistant for Go.
//
// A user message bound to a conversation flows through an agentic execution
// engine that alternates between LLM reasoning and document retrieval, then
// synthesizes an answer constrained to the retrieved fragments. Every node
// execution is recorded for audit, and full conversation history is persisted
// with strict ordering invariants.
//
// # Quick Start
//
//	provider := openaicompat.NewProvider(apiKey, model, baseURL)
//	embedding := openaicompat.NewEmbedding(apiKey, embedModel, baseURL, 1536)
//	store := sqlite.New("lore.db")
//
//	assistant := lore.NewAssistant(provider, store, store,
//		lore.WithTools(retrieval.New(store, embedding)),
//	)
//
//	result, err := assistant.RunTurn(ctx, lore.TurnRequest{
//		ConversationUID: "abc",
//		Message:         "What does the contract say about renewal?",
//	})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider]: LLM backend (chat, tool calling, streaming)
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [Tool]: pluggable capability for LLM function calling
//   - [ConversationStore]: ordered message persistence
//   - [RecordStore]: append-only execution audit records
//   - [Recorder]: best-effort audit sink used by the audited proxies
//   - [Tracer]: optional span emission for the workflow engine
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs).
// Storage: store/sqlite (local, pure Go), store/postgres (pgx + pgvector).
// Tools: tools/retrieval (vector search over ingested documents).
// Ingestion: ingest (text/markdown/PDF/URL extraction and chunking).
// Observability: observer (OTEL traces, metrics, logs).
//
// See the cmd/lore directory for a complete reference server.
package lore
