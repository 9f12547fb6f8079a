package ingest

import (
	"strings"
	"testing"
)

func TestMarkdownExtractStripsFormatting(t *testing.T) {
	md := "# Heading\n\nSome **bold** and *italic* text with a [link](https://example.com).\n\n- item one\n- item two\n"
	got, err := MarkdownExtractor{}.Extract([]byte(md))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"Heading", "Some bold and italic text", "link", "item one", "item two"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	for _, marker := range []string{"#", "**", "](", "- item"} {
		if strings.Contains(got, marker) {
			t.Errorf("marker %q survived: %q", marker, got)
		}
	}
}

func TestMarkdownExtractKeepsCodeBlocks(t *testing.T) {
	md := "Intro\n\n```go\nfunc main() {}\n```\n"
	got, err := MarkdownExtractor{}.Extract([]byte(md))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "func main() {}") {
		t.Errorf("code block content lost: %q", got)
	}
	if strings.Contains(got, "```") {
		t.Errorf("fence markers survived: %q", got)
	}
}

func TestMarkdownExtractTable(t *testing.T) {
	md := "| Name | Value |\n|------|-------|\n| foo  | 42    |\n"
	got, err := MarkdownExtractor{}.Extract([]byte(md))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(got, "foo") || !strings.Contains(got, "42") {
		t.Errorf("table cells lost: %q", got)
	}
}

func TestPDFExtractEmptyContent(t *testing.T) {
	if _, err := (PDFExtractor{}).Extract(nil); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestPDFExtractGarbageContent(t *testing.T) {
	if _, err := (PDFExtractor{}).Extract([]byte("not a pdf at all")); err == nil {
		t.Error("expected error for non-PDF content")
	}
}

func TestContentTypeFromExtension(t *testing.T) {
	cases := map[string]ContentType{
		"md":       TypeMarkdown,
		"MARKDOWN": TypeMarkdown,
		"pdf":      TypePDF,
		"txt":      TypePlainText,
		"":         TypePlainText,
	}
	for ext, want := range cases {
		if got := ContentTypeFromExtension(ext); got != want {
			t.Errorf("ContentTypeFromExtension(%q) = %q, want %q", ext, got, want)
		}
	}
}
