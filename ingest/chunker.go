package ingest

import "strings"

// Chunker splits text into pieces suitable for embedding.
type Chunker interface {
	Chunk(text string) []string
}

// RecursiveChunker splits text by paragraphs, then sentences, then words,
// and merges the pieces back into chunks of at most maxChars with a short
// overlap carried between consecutive chunks so context isn't lost at
// boundaries.
type RecursiveChunker struct {
	maxChars     int
	overlapChars int
}

// ChunkerOption configures a RecursiveChunker.
type ChunkerOption func(*RecursiveChunker)

// WithMaxChars sets the maximum characters per chunk. Default 2000.
func WithMaxChars(n int) ChunkerOption {
	return func(c *RecursiveChunker) { c.maxChars = n }
}

// WithOverlapChars sets the overlap carried between chunks. Default 200.
func WithOverlapChars(n int) ChunkerOption {
	return func(c *RecursiveChunker) { c.overlapChars = n }
}

// NewRecursiveChunker creates a RecursiveChunker with the given options.
func NewRecursiveChunker(opts ...ChunkerOption) *RecursiveChunker {
	c := &RecursiveChunker{maxChars: 2000, overlapChars: 200}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Chunker = (*RecursiveChunker)(nil)

// Chunk splits text into overlapping chunks.
func (c *RecursiveChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.maxChars {
		return []string{text}
	}
	return c.merge(c.split(text))
}

// split breaks text into segments no longer than maxChars, preferring
// paragraph boundaries, then sentence boundaries, then word boundaries.
func (c *RecursiveChunker) split(text string) []string {
	var segments []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= c.maxChars {
			segments = append(segments, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if len(sent) <= c.maxChars {
				segments = append(segments, sent)
			} else {
				segments = append(segments, splitWords(sent, c.maxChars)...)
			}
		}
	}
	return segments
}

// merge joins segments into chunks up to maxChars, carrying an overlap
// suffix from each finished chunk into the next.
func (c *RecursiveChunker) merge(segments []string) []string {
	var chunks []string
	var current strings.Builder

	for _, seg := range segments {
		if current.Len() > 0 && current.Len()+1+len(seg) > c.maxChars {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			if overlap := overlapSuffix(chunk, c.overlapChars); overlap != "" && len(overlap)+1+len(seg) <= c.maxChars {
				current.WriteString(overlap)
			}
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(seg)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitSentences splits on sentence-ending punctuation followed by
// whitespace. It is deliberately simple; segments that come out too long
// are split on words afterwards.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		ch := text[i]
		if (ch == '.' || ch == '!' || ch == '?') && (text[i+1] == ' ' || text[i+1] == '\n') {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// splitWords greedily packs words into segments of at most maxChars. A
// single word longer than maxChars is hard-cut.
func splitWords(text string, maxChars int) []string {
	var out []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
		}
	}

	for _, word := range strings.Fields(text) {
		if len(word) > maxChars {
			flush()
			for i := 0; i < len(word); i += maxChars {
				end := i + maxChars
				if end > len(word) {
					end = len(word)
				}
				out = append(out, word[i:end])
			}
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(word) > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()
	return out
}

// overlapSuffix returns up to n trailing characters of text, trimmed to a
// word boundary.
func overlapSuffix(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	suffix := text[len(text)-n:]
	if idx := strings.IndexAny(suffix, " \n"); idx >= 0 {
		suffix = suffix[idx+1:]
	}
	return strings.TrimSpace(suffix)
}
