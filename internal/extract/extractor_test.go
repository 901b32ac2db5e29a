package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"
)

// buildDocx assembles a minimal in-memory .docx zip with the given
// word/document.xml body.
func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	ct, err := zw.Create(contentTypesPath)
	if err != nil {
		t.Fatalf("create content types: %v", err)
	}
	_, _ = ct.Write([]byte(`<?xml version="1.0"?><Types><Override PartName="/word/document.xml" ContentType="` + docxMainContentType + `"/></Types>`))

	doc, err := zw.Create(docxDocumentXMLPath)
	if err != nil {
		t.Fatalf("create document.xml: %v", err)
	}
	_, _ = doc.Write([]byte(documentXML))

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func Test_ExtractBytes_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	for _, ext := range []string{".txt", ".md", ".xlsx", ".exe", ""} {
		if _, err := e.ExtractBytes(context.Background(), []byte("data"), ext); !errors.Is(err, ErrUnsupported) {
			t.Errorf("ExtractBytes(%q): expected ErrUnsupported, got %v", ext, err)
		}
	}
}

func Test_SupportedExt(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		".pdf":  true,
		".PDF":  true,
		".docx": true,
		".DOCX": true,
		".doc":  false,
		".txt":  false,
		"":      false,
	}
	for ext, want := range cases {
		if got := SupportedExt(ext); got != want {
			t.Errorf("SupportedExt(%q) = %v, want %v", ext, got, want)
		}
	}
}

func Test_ExtractDOCX_Paragraphs(t *testing.T) {
	t.Parallel()

	xml := `<w:document><w:body>` +
		`<w:p w:rsidR="001"><w:r><w:t>Operating Systems</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t xml:space="preserve">Unit 1 covers </w:t></w:r><w:r><w:t>processes &amp; threads</w:t></w:r></w:p>` +
		`</w:body></w:document>`
	data := buildDocx(t, xml)

	doc, err := NewExtractor().ExtractBytes(context.Background(), data, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if len(doc.Pages) != 1 || doc.Pages[0].Page != 1 {
		t.Fatalf("expected one page numbered 1, got %+v", doc.Pages)
	}
	want := "Operating Systems\nUnit 1 covers processes & threads"
	if doc.Pages[0].Text != want {
		t.Errorf("paragraph text = %q, want %q", doc.Pages[0].Text, want)
	}
}

func Test_ExtractDOCX_Tables(t *testing.T) {
	t.Parallel()

	xml := `<w:document><w:body>` +
		`<w:tbl><w:tblPr/>` +
		`<w:tr><w:tc><w:p><w:r><w:t>Unit</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Title</w:t></w:r></w:p></w:tc></w:tr>` +
		`<w:tr><w:tc><w:p><w:r><w:t>1</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Automata</w:t></w:r></w:p></w:tc></w:tr>` +
		`</w:tbl>` +
		`</w:body></w:document>`
	data := buildDocx(t, xml)

	doc, err := NewExtractor().ExtractBytes(context.Background(), data, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if len(doc.Tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(doc.Tables))
	}
	tbl := doc.Tables[0]
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(tbl.Rows))
	}
	if tbl.Rows[0][0] != "Unit" || tbl.Rows[0][1] != "Title" {
		t.Errorf("header row = %v", tbl.Rows[0])
	}
	if tbl.Rows[1][1] != "Automata" {
		t.Errorf("data row = %v", tbl.Rows[1])
	}
}

func Test_ExtractBytes_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := buildDocx(t, `<w:document><w:body><w:p><w:r><w:t>x</w:t></w:r></w:p></w:body></w:document>`)
	if _, err := NewExtractor().ExtractBytes(ctx, data, ".docx"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func Test_ExtractDOCX_NotAZip(t *testing.T) {
	t.Parallel()

	if _, err := NewExtractor().ExtractBytes(context.Background(), []byte("plainly not a zip"), ".docx"); err == nil {
		t.Error("expected error for non-zip DOCX content")
	}
}

func Test_DetectTables_PipeDelimited(t *testing.T) {
	t.Parallel()

	text := "Syllabus overview\n" +
		"Unit | Title | Contents\n" +
		"1 | Automata | DFA, NFA, regular languages\n" +
		"2 | Grammars | CFG, parse trees\n" +
		"Closing remarks"

	tables := detectTables(text, 3)
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
	if tables[0].Page != 3 {
		t.Errorf("table page = %d, want 3", tables[0].Page)
	}
	if len(tables[0].Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(tables[0].Rows))
	}
	if tables[0].Rows[1][1] != "Automata" {
		t.Errorf("cell = %q, want Automata", tables[0].Rows[1][1])
	}
}

func Test_DetectTables_SingleRowIgnored(t *testing.T) {
	t.Parallel()

	// A lone delimited line is not a table.
	tables := detectTables("just one | delimited | line\nand plain text", 1)
	if len(tables) != 0 {
		t.Errorf("expected no tables, got %d", len(tables))
	}
}

func Test_DetectTables_ColumnCountChangeSplitsTable(t *testing.T) {
	t.Parallel()

	text := "a | b\nc | d\nx | y | z\np | q | r"
	tables := detectTables(text, 1)
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(tables))
	}
	if len(tables[0].Rows[0]) != 2 || len(tables[1].Rows[0]) != 3 {
		t.Errorf("tables split wrongly: %v", tables)
	}
}

func Test_SplitCells(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line string
		want int
	}{
		{"a | b | c", 3},
		{"a\tb", 2},
		{"no delimiters here", 0},
		{"| only-one |", 0},
	}
	for _, tc := range cases {
		got := splitCells(tc.line)
		if len(got) != tc.want {
			t.Errorf("splitCells(%q) = %v, want %d cells", tc.line, got, tc.want)
		}
	}
}
