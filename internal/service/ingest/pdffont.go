package ingest

import (
	"encoding/binary"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	xunicode "golang.org/x/text/encoding/unicode"
)

// maxRangeSpan bounds a single bfrange so a hostile CMap cannot blow up the
// lookup table.
const maxRangeSpan = 1 << 16

var utf16BE = xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM)

// fontDecoder turns the character codes of one page font into text.
type fontDecoder struct {
	codeBytes    int
	composite    bool // Type0
	unicodeCodes bool // codes are UTF-16BE already (UCS2 and UTF16 CMaps)
	toUnicode    map[uint32]string
}

// pageFonts resolves every font in a page resource dict by its resource name
// (the operand of Tf). Fonts that cannot be resolved are left out and their
// strings fall back to decodePDFString.
func pageFonts(xRefTable *model.XRefTable, resources types.Dict) map[string]*fontDecoder {
	if resources == nil {
		return nil
	}
	obj, ok := resources.Find("Font")
	if !ok {
		return nil
	}
	fontRes, err := xRefTable.DereferenceDict(obj)
	if err != nil || len(fontRes) == 0 {
		return nil
	}
	fonts := make(map[string]*fontDecoder, len(fontRes))
	for name, ref := range fontRes {
		d, err := xRefTable.DereferenceDict(ref)
		if err != nil || d == nil {
			continue
		}
		fonts[name] = newFontDecoder(xRefTable, d)
	}
	return fonts
}

func newFontDecoder(xRefTable *model.XRefTable, d types.Dict) *fontDecoder {
	fd := &fontDecoder{codeBytes: 1}
	if subtype := d.Subtype(); subtype != nil && *subtype == "Type0" {
		fd.composite = true
		fd.codeBytes = 2
		if enc := d.NameEntry("Encoding"); enc != nil && (strings.Contains(*enc, "UCS2") || strings.Contains(*enc, "UTF16")) {
			fd.unicodeCodes = true
		}
	}

	obj, ok := d.Find("ToUnicode")
	if !ok {
		return fd
	}
	// a name such as /Identity-H carries no mapping
	sd, _, err := xRefTable.DereferenceStreamDict(obj)
	if err != nil || sd == nil {
		return fd
	}
	data, err := sd.DecodeLength(-1)
	if err != nil {
		return fd
	}
	cmap, width := parseToUnicode(data)
	if len(cmap) == 0 {
		return fd
	}
	fd.toUnicode = cmap
	if width > 0 {
		fd.codeBytes = width
	}
	return fd
}

// decode maps raw string bytes through the font. Simple fonts fall back to
// Windows-1252 for unmapped codes; composite fonts drop them, since a glyph
// id says nothing about the character.
func (fd *fontDecoder) decode(raw []byte) string {
	if fd == nil || (fd.toUnicode == nil && !fd.composite) {
		return decodePDFString(raw)
	}
	if fd.toUnicode == nil {
		if !fd.unicodeCodes {
			return ""
		}
		decoded, err := utf16BE.NewDecoder().Bytes(raw)
		if err != nil {
			return ""
		}
		return printable(string(decoded))
	}

	var sb strings.Builder
	for i := 0; i+fd.codeBytes <= len(raw); i += fd.codeBytes {
		code := raw[i : i+fd.codeBytes]
		if s, ok := fd.toUnicode[codeValue(code)]; ok {
			sb.WriteString(s)
			continue
		}
		if !fd.composite {
			sb.WriteString(decodePDFString(code))
		}
	}
	return printable(sb.String())
}

func codeValue(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

type cmapToken struct {
	word    string
	hex     []byte
	array   [][]byte
	isArray bool
}

// parseToUnicode reads the bfchar and bfrange sections of a ToUnicode CMap.
// It also reports the code width from the first codespace range, or 0 when
// the CMap has none.
func parseToUnicode(data []byte) (map[uint32]string, int) {
	toks := cmapTokens(data)
	cmap := make(map[uint32]string)
	width := 0
	for i := 0; i < len(toks); i++ {
		switch toks[i].word {
		case "begincodespacerange":
			i++
			for ; i+1 < len(toks) && toks[i].word != "endcodespacerange"; i += 2 {
				if width == 0 && len(toks[i].hex) > 0 {
					width = len(toks[i].hex)
				}
			}
		case "beginbfchar":
			i++
			for ; i+1 < len(toks) && toks[i].word != "endbfchar"; i += 2 {
				src, dst := toks[i], toks[i+1]
				if src.hex == nil || dst.hex == nil {
					continue
				}
				cmap[codeValue(src.hex)] = utf16Text(dst.hex)
				if width == 0 {
					width = len(src.hex)
				}
			}
		case "beginbfrange":
			i++
			for ; i+2 < len(toks) && toks[i].word != "endbfrange"; i += 3 {
				lo, hi, dst := toks[i], toks[i+1], toks[i+2]
				if lo.hex == nil || hi.hex == nil {
					continue
				}
				if width == 0 {
					width = len(lo.hex)
				}
				addRange(cmap, codeValue(lo.hex), codeValue(hi.hex), dst)
			}
		}
	}
	return cmap, width
}

func addRange(cmap map[uint32]string, lo, hi uint32, dst cmapToken) {
	if hi < lo || hi-lo > maxRangeSpan {
		return
	}
	if dst.isArray {
		for k, h := range dst.array {
			if lo+uint32(k) > hi {
				break
			}
			cmap[lo+uint32(k)] = utf16Text(h)
		}
		return
	}
	if dst.hex == nil {
		return
	}
	for code := lo; code <= hi; code++ {
		cmap[code] = utf16Text(offsetLastUnit(dst.hex, code-lo))
	}
}

// offsetLastUnit adds n to the last UTF-16 unit of base, as bfrange
// destinations do for consecutive codes.
func offsetLastUnit(base []byte, n uint32) []byte {
	b := append([]byte(nil), base...)
	switch {
	case len(b) >= 2:
		last := b[len(b)-2:]
		binary.BigEndian.PutUint16(last, binary.BigEndian.Uint16(last)+uint16(n))
	case len(b) == 1:
		b[0] += byte(n)
	}
	return b
}

func utf16Text(b []byte) string {
	if len(b)%2 == 1 {
		b = append([]byte{0}, b...)
	}
	decoded, err := utf16BE.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// cmapTokens splits a CMap program into hex strings, arrays of hex strings
// and bare words. Names, literal strings and dictionaries are skipped.
func cmapTokens(data []byte) []cmapToken {
	var (
		toks  []cmapToken
		array *cmapToken
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
		case c == '<' && i+1 < len(data) && data[i+1] == '<',
			c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			raw, n := readHexString(data[i:])
			i += n
			if array != nil {
				array.array = append(array.array, raw)
				continue
			}
			toks = append(toks, cmapToken{hex: raw})
		case c == '(':
			_, n := readLiteralString(data[i:])
			i += n
		case c == '[':
			array = &cmapToken{isArray: true}
			i++
		case c == ']':
			if array != nil {
				toks = append(toks, *array)
				array = nil
			}
			i++
		case c == '/':
			i++
			for i < len(data) && !isPDFWhitespace(data[i]) && !isPDFDelimiter(data[i]) {
				i++
			}
		default:
			start := i
			for i < len(data) && !isPDFWhitespace(data[i]) && !isPDFDelimiter(data[i]) {
				i++
			}
			if i == start {
				i++
				continue
			}
			if array == nil {
				toks = append(toks, cmapToken{word: string(data[start:i])})
			}
		}
	}
	return toks
}
