package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// maxFetchBytes caps how much of a remote page is read.
const maxFetchBytes = 1 << 20

// URLFetcher downloads a web page and extracts its readable article text
// with go-readability, so navigation chrome and boilerplate don't end up
// in the document store.
type URLFetcher struct {
	client *http.Client
}

// NewURLFetcher creates a URLFetcher. A nil client uses http.DefaultClient.
func NewURLFetcher(client *http.Client) *URLFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLFetcher{client: client}
}

// Fetch downloads rawURL and returns the page title and readable text.
func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) (title, text string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; LoreBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", "", fmt.Errorf("read error: %w", err)
	}

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}

	title = strings.TrimSpace(article.Title)
	if title == "" {
		title = rawURL
	}
	return title, strings.TrimSpace(article.TextContent), nil
}
