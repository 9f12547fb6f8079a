package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFExtractor implements Extractor for PDF documents. It uses
// ledongthuc/pdf (pure Go, no CGO); pages it cannot read are skipped
// rather than failing the whole document.
type PDFExtractor struct{}

var _ Extractor = PDFExtractor{}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor() PDFExtractor { return PDFExtractor{} }

// Extract extracts plain text from a PDF document, concatenating pages with
// blank lines between them.
func (PDFExtractor) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return strings.TrimSpace(text.String()), nil
}
