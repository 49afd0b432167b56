package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxUploadBytes = 5 << 20 // 5 MiB
	maxFilenameRunes      = 255
	fallbackFilename      = "document"
)

var signatures = map[Kind][]byte{
	KindPDF:  []byte("%PDF"),
	KindDOCX: {0x50, 0x4B, 0x03, 0x04},
}

// UploadedFile is an admitted upload. It lives only for the request that
// produced it.
type UploadedFile struct {
	Kind         Kind
	DeclaredType string
	Filename     string
	Size         int64
	Content      []byte
}

// Gate admits uploads before any parsing happens.
type Gate struct {
	maxBytes int64
}

// NewGate builds a gate rejecting anything above maxBytes.
func NewGate(maxBytes int64) *Gate {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Gate{maxBytes: maxBytes}
}

// MaxBytes reports the admitted size limit.
func (g *Gate) MaxBytes() int64 {
	return g.maxBytes
}

// Admit checks the declared type and size, reads at most maxBytes+1 bytes
// from content and verifies the binary signature of the declared kind.
func (g *Gate) Admit(declaredType, declaredFilename string, sizeBytes int64, content io.Reader) (*UploadedFile, error) {
	kind := KindFromMIME(declaredType)
	if kind == KindUnknown {
		return nil, ErrUnsupportedType
	}
	if sizeBytes > g.maxBytes {
		return nil, ErrFileTooLarge
	}
	if content == nil {
		return nil, ErrInvalidFile
	}

	data, err := io.ReadAll(io.LimitReader(content, g.maxBytes+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("%w: read upload: %v", ErrInvalidFile, err)
	}
	// the declared size is client-controlled
	if int64(len(data)) > g.maxBytes {
		return nil, ErrFileTooLarge
	}
	if !hasSignature(kind, data) {
		return nil, ErrInvalidFile
	}

	return &UploadedFile{
		Kind:         kind,
		DeclaredType: kind.MIMEType(),
		Filename:     displayFilename(declaredFilename),
		Size:         int64(len(data)),
		Content:      data,
	}, nil
}

// hasSignature reports whether data starts with the magic bytes of kind.
// Plain text has no signature.
func hasSignature(kind Kind, data []byte) bool {
	sig, ok := signatures[kind]
	if !ok {
		return true
	}
	return bytes.HasPrefix(data, sig)
}

// displayFilename keeps the base name only; it is never used as a path.
func displayFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	name = strings.ToValidUTF8(name, "")
	if name == "" || name == "." || name == "/" {
		return fallbackFilename
	}
	if utf8.RuneCountInString(name) > maxFilenameRunes {
		name = string([]rune(name)[:maxFilenameRunes])
	}
	return name
}
