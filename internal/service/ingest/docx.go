package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	docxBodyPart        = "word/document.xml"
	maxDocxBodyXMLBytes = 64 << 20
)

var errDocxBodyTooLarge = errors.New("document body exceeds size limit")

// extractDOCX reads the main document part of a WordprocessingML package.
// Only run text (w:t) is kept; tabs and breaks map to whitespace and every
// paragraph ends with a blank line.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("%s not found in archive", docxBodyPart)
	}
	if body.UncompressedSize64 > maxDocxBodyXMLBytes {
		return "", errDocxBodyTooLarge
	}

	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", docxBodyPart, err)
	}
	defer rc.Close()

	// the zip header can lie about the uncompressed size
	limited := &io.LimitedReader{R: rc, N: maxDocxBodyXMLBytes + 1}
	text, err := wordprocessingText(limited)
	if limited.N <= 0 {
		return "", errDocxBodyTooLarge
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func wordprocessingText(r io.Reader) (string, error) {
	var (
		sb     strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", docxBodyPart, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
