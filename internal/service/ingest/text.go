package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/document/parser"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// extractPlainText decodes content as UTF-8. A leading byte order mark is
// dropped and invalid sequences become U+FFFD.
func extractPlainText(ctx context.Context, content []byte) (string, error) {
	r := transform.NewReader(bytes.NewReader(content), unicode.UTF8BOM.NewDecoder())
	docs, err := parser.TextParser{}.Parse(ctx, r)
	if err != nil {
		return "", fmt.Errorf("parse text: %w", err)
	}
	if len(docs) == 0 || docs[0] == nil {
		return "", nil
	}
	return docs[0].Content, nil
}
