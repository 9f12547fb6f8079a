package lore

import "context"

// Provider abstracts the LLM backend.
//
// Implementations must honor ctx cancellation and deadlines; the workflow
// engine treats every call as a blocking, potentially slow operation and
// applies no timeout of its own.
type Provider interface {
	// Chat sends a request and returns a complete response. When req.Tools
	// is non-empty, the response may contain ToolCalls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatStream streams text chunks into ch, then returns the final
	// response with usage stats. Streaming calls bypass audit recording.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- string) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "ollama").
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
