package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF extracts per-page text from PDF bytes. Pages that fail text
// extraction are kept as empty entries so page numbering stays aligned with
// the source document. Tables are recovered heuristically from delimiter
// layout, since PDF has no structural table markup. The context is checked
// between pages so a huge or malformed PDF respects the caller's deadline.
func extractPDF(ctx context.Context, content []byte) (*Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract: open PDF: %w", err)
	}

	doc := &Document{}
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract: page %d of %d: %w", i, numPages, err)
		}
		page := r.Page(i)
		if page.V.IsNull() {
			doc.Pages = append(doc.Pages, PageText{Page: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single malformed page should not sink the whole document.
			doc.Pages = append(doc.Pages, PageText{Page: i})
			continue
		}
		doc.Pages = append(doc.Pages, PageText{Text: text, Page: i})
		doc.Tables = append(doc.Tables, detectTables(text, i)...)
	}
	return doc, nil
}

// detectTables finds table-like regions in page text: runs of two or more
// consecutive lines that split into the same number (>= 2) of cells on pipe
// or tab delimiters.
func detectTables(text string, page int) []Table {
	lines := strings.Split(text, "\n")

	var tables []Table
	var rows [][]string
	flush := func() {
		if len(rows) >= 2 {
			tables = append(tables, Table{Rows: rows, Page: page})
		}
		rows = nil
	}

	for _, line := range lines {
		cells := splitCells(line)
		if len(cells) < 2 {
			flush()
			continue
		}
		if len(rows) > 0 && len(rows[len(rows)-1]) != len(cells) {
			flush()
		}
		rows = append(rows, cells)
	}
	flush()
	return tables
}

// splitCells splits a line on pipe or tab delimiters and trims the cells.
// Returns nil when the line has no delimiter structure.
func splitCells(line string) []string {
	var raw []string
	switch {
	case strings.Contains(line, "|"):
		raw = strings.Split(line, "|")
	case strings.Contains(line, "\t"):
		raw = strings.Split(line, "\t")
	default:
		return nil
	}

	cells := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c != "" {
			cells = append(cells, c)
		}
	}
	if len(cells) < 2 {
		return nil
	}
	return cells
}
