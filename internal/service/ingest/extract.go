package ingest

import (
	"context"
	"fmt"
)

// ExtractedText is the raw text decoded from an admitted upload.
type ExtractedText struct {
	Text string
	Kind Kind
}

// Extract decodes f according to its kind. Any decoder failure, including a
// panic inside a third-party parser, is reported as ErrExtractionFailed.
func Extract(ctx context.Context, f *UploadedFile) (out ExtractedText, err error) {
	if f == nil {
		return ExtractedText{}, fmt.Errorf("%w: no file", ErrExtractionFailed)
	}
	defer func() {
		if r := recover(); r != nil {
			out = ExtractedText{}
			err = fmt.Errorf("%w: %s decoder panic: %v", ErrExtractionFailed, f.Kind, r)
		}
	}()

	var text string
	switch f.Kind {
	case KindPDF:
		text, err = extractPDF(f.Content)
	case KindDOCX:
		text, err = extractDOCX(f.Content)
	case KindPlainText:
		text, err = extractPlainText(ctx, f.Content)
	default:
		return ExtractedText{}, fmt.Errorf("%w: unsupported kind %s", ErrExtractionFailed, f.Kind)
	}
	if err != nil {
		return ExtractedText{}, fmt.Errorf("%w: %s: %v", ErrExtractionFailed, f.Kind, err)
	}
	return ExtractedText{Text: text, Kind: f.Kind}, nil
}
