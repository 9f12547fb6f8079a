package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/lore"
)

// Embedding implements lore.EmbeddingProvider using the OpenAI embeddings
// API ("/embeddings"). All texts are sent in one batched request.
type Embedding struct {
	apiKey  string
	model   string
	baseURL string
	dims    int
	client  *http.Client
	name    string
}

// NewEmbedding creates an OpenAI-compatible embedding provider.
// dims is the embedding dimensionality of the model (e.g. 1536 for
// text-embedding-3-small).
func NewEmbedding(apiKey, model, baseURL string, dims int) *Embedding {
	return &Embedding{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		dims:    dims,
		client:  &http.Client{},
		name:    "openai",
	}
}

// Name returns the provider name.
func (e *Embedding) Name() string { return e.name }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one embedding vector per input text, in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, &lore.ErrLLM{Provider: e.name, Message: fmt.Sprintf("marshal embed request: %v", err)}
	}

	url := e.baseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &lore.ErrLLM{Provider: e.name, Message: fmt.Sprintf("create embed request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &lore.ErrLLM{Provider: e.name, Message: fmt.Sprintf("embed request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &lore.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &lore.ErrLLM{Provider: e.name, Message: fmt.Sprintf("decode embed response: %v", err)}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &lore.ErrLLM{Provider: e.name, Message: fmt.Sprintf("embed returned %d vectors for %d inputs", len(parsed.Data), len(texts))}
	}

	// The API documents data entries in input order but carries an index
	// field; honor it.
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &lore.ErrLLM{Provider: e.name, Message: fmt.Sprintf("embed index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var _ lore.EmbeddingProvider = (*Embedding)(nil)
