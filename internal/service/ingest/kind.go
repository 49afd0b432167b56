// Package ingest turns an untrusted upload into bounded plain text: the gate
// checks type, size and signature, the extractor decodes per format and the
// normalizer enforces the emptiness and length policy.
package ingest

import (
	"errors"
	"mime"
	"strings"
)

const (
	MimePDF       = "application/pdf"
	MimeDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePlainText = "text/plain"
)

var (
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrInvalidFile      = errors.New("invalid or corrupt file")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrEmptyContent     = errors.New("empty content")
)

// Kind is the closed set of document formats the pipeline handles. It is
// resolved once by the gate and carried through every later stage.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindDOCX
	KindPlainText
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindDOCX:
		return "docx"
	case KindPlainText:
		return "text"
	default:
		return "unknown"
	}
}

// MIMEType returns the canonical media type for k.
func (k Kind) MIMEType() string {
	switch k {
	case KindPDF:
		return MimePDF
	case KindDOCX:
		return MimeDOCX
	case KindPlainText:
		return MimePlainText
	default:
		return ""
	}
}

// KindFromMIME maps a declared Content-Type to a Kind. Parameters such as
// charset are ignored.
func KindFromMIME(declared string) Kind {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(declared))
	}
	switch mediaType {
	case MimePDF:
		return KindPDF
	case MimeDOCX:
		return KindDOCX
	case MimePlainText:
		return KindPlainText
	default:
		return KindUnknown
	}
}
