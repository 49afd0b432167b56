package ingest

import (
	"strings"
	"unicode/utf8"
)

const DefaultMaxTextChars = 50000

// NormalizedText is extracted text that is known to be non-blank and at most
// the configured number of characters long.
type NormalizedText struct {
	Text      string
	Kind      Kind
	Truncated bool
	// OriginalChars is the character count before truncation.
	OriginalChars int
}

// Normalize rejects whitespace-only text and truncates the rest to maxChars
// Unicode code points. The text itself is not trimmed or rewritten.
func Normalize(in ExtractedText, maxChars int) (NormalizedText, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxTextChars
	}
	if strings.TrimSpace(in.Text) == "" {
		return NormalizedText{}, ErrEmptyContent
	}

	n := utf8.RuneCountInString(in.Text)
	out := NormalizedText{Text: in.Text, Kind: in.Kind, OriginalChars: n}
	if n > maxChars {
		out.Text = truncateRunes(in.Text, maxChars)
		out.Truncated = true
	}
	return out, nil
}

func truncateRunes(s string, max int) string {
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
