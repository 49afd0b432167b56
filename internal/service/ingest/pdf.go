package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

func init() {
	// keep pdfcpu from creating a config directory under $HOME
	api.DisableConfigDir()
}

// extractPDF concatenates the text shown on every page. Pages are separated
// by a blank line.
func extractPDF(content []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(content), conf)
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		page := pageText(pdfCtx, pageNr)
		if page == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page)
	}
	return sb.String(), nil
}

// pageText returns "" for pages without a readable content stream, so an
// image-only document ends up as empty content rather than a decode error.
func pageText(pdfCtx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	var fonts map[string]*fontDecoder
	if _, _, inherited, err := pdfCtx.PageDict(pageNr, false); err == nil && inherited != nil {
		fonts = pageFonts(pdfCtx.XRefTable, inherited.Resources)
	}
	return textFromContentStream(data, fonts)
}

// textFromContentStream collects the string operands of the text showing
// operators (Tj, TJ, ' and ") in a decoded page content stream. Strings are
// decoded with the font selected by the last Tf; fonts missing from the map
// use decodePDFString.
func textFromContentStream(data []byte, fonts map[string]*fontDecoder) string {
	var (
		sb       strings.Builder
		operands [][]byte
		name     string
		font     *fontDecoder
	)
	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case isPDFWhitespace(c):
			i++
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteralString(data[i:])
			operands = append(operands, s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			s, n := readHexString(data[i:])
			operands = append(operands, s)
			i += n
		case c == '[' || c == ']' || c == '{' || c == '}':
			i++
		case c == '/':
			i++
			start := i
			for i < len(data) && !isPDFWhitespace(data[i]) && !isPDFDelimiter(data[i]) {
				i++
			}
			name = string(data[start:i])
		case c == '\'' || c == '"':
			newLine(&sb)
			writeOperands(&sb, operands, font)
			operands = operands[:0]
			i++
		default:
			start := i
			for i < len(data) && !isPDFWhitespace(data[i]) && !isPDFDelimiter(data[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			tok := string(data[start:i])
			if isNumberToken(tok) {
				continue
			}
			switch tok {
			case "Tf":
				font = fonts[name]
			case "Tj", "TJ":
				writeOperands(&sb, operands, font)
			case "T*":
				newLine(&sb)
			case "Td", "TD", "Tm":
				space(&sb)
			case "ET":
				newLine(&sb)
			}
			operands = operands[:0]
		}
	}
	return tidyLines(sb.String())
}

func writeOperands(sb *strings.Builder, operands [][]byte, font *fontDecoder) {
	for _, raw := range operands {
		sb.WriteString(font.decode(raw))
	}
}

func newLine(sb *strings.Builder) {
	if sb.Len() == 0 {
		return
	}
	s := sb.String()
	if s[len(s)-1] != '\n' {
		sb.WriteByte('\n')
	}
}

func space(sb *strings.Builder) {
	if sb.Len() == 0 {
		return
	}
	s := sb.String()
	if last := s[len(s)-1]; last != ' ' && last != '\n' {
		sb.WriteByte(' ')
	}
}

// tidyLines trims every line, collapses inner runs of spaces and drops empty
// lines.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// readLiteralString unescapes a balanced (...) string starting at data[0] and
// returns its bytes and the number of bytes consumed.
func readLiteralString(data []byte) ([]byte, int) {
	var buf []byte
	depth := 0
	i := 0
	for i < len(data) {
		c := data[i]
		switch c {
		case '(':
			if depth > 0 {
				buf = append(buf, c)
			}
			depth++
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return buf, i
			}
			buf = append(buf, c)
		case '\\':
			i++
			if i >= len(data) {
				break
			}
			e := data[i]
			switch e {
			case 'n':
				buf = append(buf, '\n')
				i++
			case 'r':
				buf = append(buf, '\r')
				i++
			case 't':
				buf = append(buf, '\t')
				i++
			case 'b':
				buf = append(buf, '\b')
				i++
			case 'f':
				buf = append(buf, '\f')
				i++
			case '\r':
				i++
				if i < len(data) && data[i] == '\n' {
					i++
				}
			case '\n':
				i++
			default:
				if e >= '0' && e <= '7' {
					v := 0
					for n := 0; n < 3 && i < len(data) && data[i] >= '0' && data[i] <= '7'; n++ {
						v = v*8 + int(data[i]-'0')
						i++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
					i++
				}
			}
		default:
			buf = append(buf, c)
			i++
		}
	}
	return buf, i
}

// readHexString decodes a <...> string starting at data[0].
func readHexString(data []byte) ([]byte, int) {
	var (
		buf  []byte
		hi   byte
		half bool
	)
	i := 1
	for ; i < len(data); i++ {
		c := data[i]
		if c == '>' {
			i++
			break
		}
		v, ok := hexValue(c)
		if !ok {
			continue
		}
		if half {
			buf = append(buf, hi<<4|v)
			half = false
		} else {
			hi = v
			half = true
		}
	}
	if half {
		buf = append(buf, hi<<4)
	}
	return buf, i
}

var utf16BEBOM = []byte{0xFE, 0xFF}

// decodePDFString interprets raw string bytes as UTF-16BE when they carry a
// byte order mark and as Windows-1252 otherwise. Control characters other
// than whitespace are dropped.
func decodePDFString(raw []byte) string {
	var (
		decoded []byte
		err     error
	)
	if bytes.HasPrefix(raw, utf16BEBOM) {
		decoded, err = xunicode.UTF16(xunicode.BigEndian, xunicode.ExpectBOM).NewDecoder().Bytes(raw)
	} else {
		decoded, err = charmap.Windows1252.NewDecoder().Bytes(raw)
	}
	if err != nil {
		return ""
	}
	return printable(string(decoded))
}

func printable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%', '\'', '"':
		return true
	}
	return false
}

func isNumberToken(tok string) bool {
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' {
			return false
		}
	}
	return true
}
