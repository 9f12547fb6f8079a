package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/nevindra/lore"
)

// Result holds the outcome of an ingest operation.
type Result struct {
	DocumentID string
	Document   lore.Document
	ChunkCount int
}

// Ingestor provides end-to-end ingestion: extract, normalize, chunk, embed,
// store.
type Ingestor struct {
	store      lore.DocumentStore
	embedding  lore.EmbeddingProvider
	chunker    Chunker
	extractors map[ContentType]Extractor
	fetcher    *URLFetcher
	batchSize  int
	logger     *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithChunker replaces the default RecursiveChunker.
func WithChunker(c Chunker) Option {
	return func(ing *Ingestor) { ing.chunker = c }
}

// WithExtractor registers or replaces the extractor for a content type.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Ingestor) { ing.extractors[ct] = e }
}

// WithFetcher replaces the default URLFetcher used by IngestURL.
func WithFetcher(f *URLFetcher) Option {
	return func(ing *Ingestor) { ing.fetcher = f }
}

// WithBatchSize sets how many chunks are embedded per provider call.
// Default 64.
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) { ing.batchSize = n }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}

// NewIngestor creates an Ingestor with text, markdown, and PDF extraction
// registered by default.
func NewIngestor(store lore.DocumentStore, emb lore.EmbeddingProvider, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:     store,
		embedding: emb,
		chunker:   NewRecursiveChunker(),
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeMarkdown:  MarkdownExtractor{},
			TypePDF:       PDFExtractor{},
		},
		fetcher:   NewURLFetcher(nil),
		batchSize: 64,
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestText ingests plain text content.
func (ing *Ingestor) IngestText(ctx context.Context, text, source, title string) (Result, error) {
	return ing.ingest(ctx, Normalize(text), source, title)
}

// IngestFile ingests file content, detecting the content type from the
// filename extension.
func (ing *Ingestor) IngestFile(ctx context.Context, content []byte, filename string) (Result, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	ct := ContentTypeFromExtension(ext)

	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}

	text, err := extractor.Extract(content)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", ct, err)
	}

	return ing.ingest(ctx, Normalize(text), filename, filepath.Base(filename))
}

// IngestReader reads all content from r and ingests it, detecting content
// type from filename.
func (ing *Ingestor) IngestReader(ctx context.Context, r io.Reader, filename string) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read: %w", err)
	}
	return ing.IngestFile(ctx, data, filename)
}

// IngestURL downloads a web page, extracts its readable text, and ingests it.
func (ing *Ingestor) IngestURL(ctx context.Context, rawURL string) (Result, error) {
	title, text, err := ing.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Result{}, err
	}
	return ing.ingest(ctx, Normalize(text), rawURL, title)
}

// ingest chunks, embeds, and stores normalized text as one document.
func (ing *Ingestor) ingest(ctx context.Context, text, source, title string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("ingest: no text content in %q", source)
	}

	start := time.Now()
	docID := lore.NewID()
	doc := lore.Document{
		ID:        docID,
		Title:     title,
		Source:    source,
		Content:   text,
		CreatedAt: lore.NowUnix(),
	}

	chunkTexts := ing.chunker.Chunk(text)
	chunks := make([]lore.Chunk, 0, len(chunkTexts))
	for i, ct := range chunkTexts {
		chunks = append(chunks, lore.Chunk{
			ID:         lore.NewID(),
			DocumentID: docID,
			Content:    ct,
			ChunkIndex: i,
		})
	}

	if err := ing.embedChunks(ctx, chunks); err != nil {
		return Result{}, err
	}

	if err := ing.store.StoreDocument(ctx, doc, chunks); err != nil {
		return Result{}, fmt.Errorf("store: %w", err)
	}

	if ing.logger != nil {
		ing.logger.Info("ingest: document stored",
			"id", docID, "source", source, "chunks", len(chunks), "duration", time.Since(start))
	}
	return Result{DocumentID: docID, Document: doc, ChunkCount: len(chunks)}, nil
}

// embedChunks fills in chunk embeddings, batching provider calls.
func (ing *Ingestor) embedChunks(ctx context.Context, chunks []lore.Chunk) error {
	for start := 0; start < len(chunks); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vecs, err := ing.embedding.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("embed returned %d vectors for %d chunks", len(vecs), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
	}
	return nil
}
