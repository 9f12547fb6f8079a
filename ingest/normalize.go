package ingest

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC normalization and collapses whitespace. NFKC folds
// compatibility characters (fullwidth forms, ligatures, odd spaces) into
// their canonical equivalents so that embeddings of visually identical text
// land on the same vectors.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	return collapseWhitespace(text)
}

// collapseWhitespace trims every line and squeezes runs of blank lines down
// to a single blank line.
func collapseWhitespace(text string) string {
	var result strings.Builder
	emptyCount := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if result.Len() > 0 {
				emptyCount++
			}
			continue
		}
		if emptyCount > 0 {
			result.WriteString("\n\n")
		} else if result.Len() > 0 {
			result.WriteByte('\n')
		}
		result.WriteString(strings.Join(strings.Fields(trimmed), " "))
		emptyCount = 0
	}

	return strings.TrimSpace(result.String())
}
