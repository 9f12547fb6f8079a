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

// Provider implements lore.Provider for any OpenAI-compatible API.
// It uses the shared helpers in this package (BuildBody, StreamSSE,
// ParseResponse) to handle body building, streaming, and response parsing.
//
// Works with OpenAI, OpenRouter, Groq, Together, Fireworks, DeepSeek, Mistral,
// Ollama, vLLM, LM Studio, Azure OpenAI, and any other provider that
// implements the OpenAI chat completions API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	opts    []Option
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
//
// Provider-level options (via WithOptions) are applied to every request.
// Per-request parameters on lore.ChatRequest override them because they
// are applied last.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// requestOptions returns the provider's base options with the request's own
// generation parameters appended. Per-request values win because options are
// applied in order.
func (p *Provider) requestOptions(req lore.ChatRequest) []Option {
	opts := make([]Option, len(p.opts), len(p.opts)+4)
	copy(opts, p.opts)
	if req.Temperature != nil {
		opts = append(opts, WithTemperature(*req.Temperature))
	}
	if req.TopP != nil {
		opts = append(opts, WithTopP(*req.TopP))
	}
	if req.MaxTokens != nil {
		opts = append(opts, WithMaxTokens(*req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		opts = append(opts, WithStop(req.Stop...))
	}
	return opts
}

// Chat sends a non-streaming chat request and returns the complete response.
// When req.Tools is non-empty, the response may contain ToolCalls.
func (p *Provider) Chat(ctx context.Context, req lore.ChatRequest) (lore.ChatResponse, error) {
	body := BuildBody(req.Messages, req.Tools, p.model, p.requestOptions(req)...)
	return p.doRequest(ctx, body)
}

// ChatStream streams text deltas into ch, then returns the final accumulated
// response. The channel is closed when streaming completes (via StreamSSE)
// or on error.
func (p *Provider) ChatStream(ctx context.Context, req lore.ChatRequest, ch chan<- string) (lore.ChatResponse, error) {
	body := BuildBody(req.Messages, req.Tools, p.model, p.requestOptions(req)...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return lore.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return lore.ChatResponse{}, httpErr(resp)
	}

	// StreamSSE closes ch when done.
	return StreamSSE(ctx, resp.Body, ch)
}

// doRequest sends a non-streaming request and parses the response.
func (p *Provider) doRequest(ctx context.Context, body ChatRequest) (lore.ChatResponse, error) {
	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return lore.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return lore.ChatResponse{}, httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return lore.ChatResponse{}, &lore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}

	return ParseResponse(chatResp)
}

// sendHTTP marshals the request body and sends it to the chat completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &lore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &lore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and returns an ErrHTTP with the status.
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &lore.ErrHTTP{
		Status: resp.StatusCode,
		Body:   string(body),
	}
}

// Compile-time interface check.
var _ lore.Provider = (*Provider)(nil)
