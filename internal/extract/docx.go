package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// wtTag matches <w:t>text</w:t> with any attributes on the opening tag.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// wpTag matches a whole <w:p> paragraph element, attributes included.
var wpTag = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)

// wtblTag matches a whole <w:tbl> table element.
var wtblTag = regexp.MustCompile(`(?s)<w:tbl[^>]*>.*?</w:tbl>`)

// wtrTag matches a table row inside a <w:tbl> element.
var wtrTag = regexp.MustCompile(`(?s)<w:tr[^>]*>.*?</w:tr>`)

// wtcTag matches a table cell inside a <w:tr> element.
var wtcTag = regexp.MustCompile(`(?s)<w:tc[^>]*>.*?</w:tc>`)

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

// xmlUnescaper reverses the predefined XML entities found in w:t text nodes.
var xmlUnescaper = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
)

// findDocxMainDocumentPath finds the main document path from
// [Content_Types].xml. Returns the path without leading slash, or empty
// string if not found.
func findDocxMainDocumentPath(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != contentTypesPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return ""
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return ""
		}
		_ = rc.Close()

		content := buf.String()
		// Try both attribute orders
		if matches := partNameRe.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimPrefix(matches[1], "/")
		}
		if matches := partNameRe2.FindStringSubmatch(content); len(matches) > 1 {
			return strings.TrimPrefix(matches[1], "/")
		}
		return ""
	}
	return ""
}

// extractDOCX extracts paragraphs and tables from .docx bytes. DOCX is a ZIP
// containing word/document.xml (OOXML). Paragraph text is taken from all
// <w:t>...</w:t> text nodes so content survives regardless of paragraph/run
// attributes. DOCX carries no page boundaries, so all text lands on page 1.
func extractDOCX(content []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract: DOCX is not a zip: %w", err)
	}

	// Find main document path from [Content_Types].xml, fall back to default
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract: open %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("extract: read %s: %w", f.Name, err)
		}
		_ = rc.Close()
		docXML = buf.Bytes()
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("extract: %s not found in DOCX", docPath)
	}

	xml := string(docXML)
	doc := &Document{
		Pages:  []PageText{{Text: docxParagraphs(xml), Page: 1}},
		Tables: docxTables(xml),
	}
	return doc, nil
}

// docxParagraphs joins the text nodes of each <w:p> element into one line per
// paragraph, then joins paragraphs with newlines.
func docxParagraphs(xml string) string {
	paragraphs := wpTag.FindAllString(xml, -1)
	if len(paragraphs) == 0 {
		// No paragraph markup at all: fall back to every text node.
		return joinTextNodes(xml, " ")
	}
	var lines []string
	for _, p := range paragraphs {
		if line := joinTextNodes(p, " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// docxTables extracts every <w:tbl> element as a Table, one cell per <w:tc>.
func docxTables(xml string) []Table {
	var tables []Table
	for _, tbl := range wtblTag.FindAllString(xml, -1) {
		var rows [][]string
		for _, tr := range wtrTag.FindAllString(tbl, -1) {
			var cells []string
			for _, tc := range wtcTag.FindAllString(tr, -1) {
				cells = append(cells, joinTextNodes(tc, " "))
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
		if len(rows) > 0 {
			tables = append(tables, Table{Rows: rows, Page: 1})
		}
	}
	return tables
}

// joinTextNodes concatenates all <w:t> inner texts in the fragment with sep,
// unescaping XML entities.
func joinTextNodes(fragment, sep string) string {
	parts := wtTag.FindAllStringSubmatch(fragment, -1)
	var b strings.Builder
	for _, p := range parts {
		text := xmlUnescaper.Replace(p[1])
		if strings.TrimSpace(text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(strings.TrimSpace(text))
	}
	return b.String()
}
