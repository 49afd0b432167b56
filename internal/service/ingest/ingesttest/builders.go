// Package ingesttest builds small but well-formed documents for tests.
package ingesttest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode/utf16"
)

// PDF returns a PDF with one page per entry in pages. Each page shows its
// text with Helvetica, one line per "\n"-separated segment.
func PDF(pages ...string) []byte {
	if len(pages) == 0 {
		pages = []string{""}
	}

	var objects []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range pages {
		objects = append(objects, pageObjects(3, 5+2*i, contentStream(text, literalString))...)
	}
	return writePDF(objects)
}

// PDFType0 is like PDF but sets the text in a Type0 font. Strings are
// two-byte glyph ids under /Identity-H and only the font's ToUnicode CMap
// says which characters they are. ASCII maps through a bfrange using the
// usual TrueType glyph order, anything else through bfchar entries.
func PDFType0(pages ...string) []byte {
	if len(pages) == 0 {
		pages = []string{""}
	}

	extra := map[rune]uint16{}
	var order []rune
	for _, text := range pages {
		for _, r := range text {
			if r >= ' ' && r <= '~' {
				continue
			}
			if _, ok := extra[r]; !ok {
				extra[r] = uint16(0x0100 + len(order))
				order = append(order, r)
			}
		}
	}
	glyphs := func(line string) string {
		var sb strings.Builder
		sb.WriteByte('<')
		for _, r := range line {
			gid, ok := extra[r]
			if !ok {
				gid = uint16(r) - 29
			}
			fmt.Fprintf(&sb, "%04X", gid)
		}
		sb.WriteByte('>')
		return sb.String()
	}

	var cmap strings.Builder
	cmap.WriteString("/CIDInit /ProcSet findresource begin\n12 dict begin\nbegincmap\n")
	cmap.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def\n")
	cmap.WriteString("/CMapName /Adobe-Identity-UCS def\n/CMapType 2 def\n")
	cmap.WriteString("1 begincodespacerange\n<0000> <FFFF>\nendcodespacerange\n")
	cmap.WriteString("1 beginbfrange\n<0003> <0061> <0020>\nendbfrange\n")
	if len(order) > 0 {
		fmt.Fprintf(&cmap, "%d beginbfchar\n", len(order))
		for _, r := range order {
			fmt.Fprintf(&cmap, "<%04X> <%s>\n", extra[r], utf16Hex(r))
		}
		cmap.WriteString("endbfchar\n")
	}
	cmap.WriteString("endcmap\nCMapName currentdict /CMap defineresource pop\nend\nend")

	const first = 7
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", first+2*i)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type0 /BaseFont /NotoSans-Regular /Encoding /Identity-H /DescendantFonts [4 0 R] /ToUnicode 6 0 R >>",
		"<< /Type /Font /Subtype /CIDFontType2 /BaseFont /NotoSans-Regular /CIDSystemInfo << /Registry (Adobe) /Ordering (Identity) /Supplement 0 >> /FontDescriptor 5 0 R /CIDToGIDMap /Identity >>",
		"<< /Type /FontDescriptor /FontName /NotoSans-Regular /Flags 4 /FontBBox [0 0 1000 1000] /ItalicAngle 0 /Ascent 800 /Descent -200 /CapHeight 700 /StemV 80 >>",
		streamObject(cmap.String()),
	}
	for i, text := range pages {
		objects = append(objects, pageObjects(3, first+1+2*i, contentStream(text, glyphs))...)
	}
	return writePDF(objects)
}

func utf16Hex(r rune) string {
	var sb strings.Builder
	for _, u := range utf16.Encode([]rune{r}) {
		fmt.Fprintf(&sb, "%04X", u)
	}
	return sb.String()
}

// pageObjects returns a page showing content with font object fontObj as /F1,
// followed by its content stream, which must be object contentsObj.
func pageObjects(fontObj, contentsObj int, content string) []string {
	return []string{
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, contentsObj),
		streamObject(content),
	}
}

func streamObject(data string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(data), data)
}

// writePDF numbers objects from 1 and appends a matching xref table.
func writePDF(objects []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func contentStream(text string, encode func(line string) string) string {
	var sb strings.Builder
	sb.WriteString("BT\n/F1 12 Tf\n14 TL\n72 720 Td\n")
	if text != "" {
		for _, line := range strings.Split(text, "\n") {
			fmt.Fprintf(&sb, "%s Tj\nT*\n", encode(line))
		}
	}
	sb.WriteString("ET")
	return sb.String()
}

func literalString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return "(" + r.Replace(s) + ")"
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// DOCX returns a Word document with one paragraph per entry.
func DOCX(paragraphs ...string) []byte {
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		_ = xml.EscapeText(&body, []byte(p))
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)
	return Zip(map[string]string{
		"[Content_Types].xml": contentTypesXML,
		"_rels/.rels":         relsXML,
		"word/document.xml":   body.String(),
	})
}

// Zip packs files into an archive. The package parts come first, in the
// order Word writes them.
func Zip(files map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml"} {
		content, ok := files[name]
		if !ok {
			continue
		}
		writeZipEntry(zw, name, content)
	}
	for name, content := range files {
		switch name {
		case "[Content_Types].xml", "_rels/.rels", "word/document.xml":
			continue
		}
		writeZipEntry(zw, name, content)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func writeZipEntry(zw *zip.Writer, name, content string) {
	w, err := zw.Create(name)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		panic(err)
	}
}
