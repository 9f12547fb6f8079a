// Package retrieval provides the vector_search tool: semantic search over
// ingested document chunks via an embedding provider and a document store.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/lore"
)

// DefaultTopK is the number of chunks returned when the model does not ask
// for a specific count.
const DefaultTopK = 5

// SearchTool implements lore.Tool for the vector_search function. Execute
// embeds the query, searches the document store, and returns both a textual
// observation for the message history and the raw chunk texts as Fragments
// for answer grounding.
type SearchTool struct {
	store     lore.DocumentStore
	embedding lore.EmbeddingProvider
	topK      int
}

// Option configures a SearchTool.
type Option func(*SearchTool)

// WithTopK sets the default number of results when the call's arguments
// don't specify top_k. Default is 5.
func WithTopK(n int) Option {
	return func(s *SearchTool) { s.topK = n }
}

// New creates a SearchTool over the given store and embedding provider.
func New(store lore.DocumentStore, emb lore.EmbeddingProvider, opts ...Option) *SearchTool {
	s := &SearchTool{store: store, embedding: emb, topK: DefaultTopK}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ lore.Tool = (*SearchTool)(nil)

func (s *SearchTool) Definitions() []lore.ToolDefinition {
	return []lore.ToolDefinition{{
		Name:        "vector_search",
		Description: "Search the ingested documents for passages relevant to a query. Returns the most similar document chunks.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"top_k": {"type": "integer", "description": "Number of chunks to return"},
				"document_uid": {"type": "string", "description": "Restrict search to one document"}
			},
			"required": ["query"]
		}`),
	}}
}

func (s *SearchTool) Execute(ctx context.Context, _ string, args json.RawMessage) (lore.ToolResult, error) {
	var params struct {
		Query       string `json:"query"`
		TopK        int    `json:"top_k"`
		DocumentUID string `json:"document_uid"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return lore.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return lore.ToolResult{Error: "query is required"}, nil
	}
	topK := params.TopK
	if topK <= 0 {
		topK = s.topK
	}

	embs, err := s.embedding.Embed(ctx, []string{params.Query})
	if err != nil {
		return lore.ToolResult{Error: "embedding error: " + err.Error()}, nil
	}
	if len(embs) == 0 {
		return lore.ToolResult{Error: "embedding provider returned no vectors"}, nil
	}

	chunks, err := s.store.SearchChunks(ctx, embs[0], topK, params.DocumentUID)
	if err != nil {
		return lore.ToolResult{Error: "search error: " + err.Error()}, nil
	}
	if len(chunks) == 0 {
		return lore.ToolResult{Content: fmt.Sprintf("No relevant passages found for %q.", params.Query)}, nil
	}

	var out strings.Builder
	fragments := make([]string, 0, len(chunks))
	for i, c := range chunks {
		fmt.Fprintf(&out, "%d. [score %.3f] %s\n", i+1, c.Score, c.Content)
		fragments = append(fragments, c.Content)
	}

	return lore.ToolResult{Content: out.String(), Fragments: fragments}, nil
}
