// Package extract provides text and table extraction from uploaded study
// documents. PDF and DOCX are the supported formats; extraction preserves
// page boundaries so downstream chunks can cite page numbers.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file extensions outside the supported set.
var ErrUnsupported = errors.New("extract: unsupported file format")

// PageText is the plain text of one document page.
type PageText struct {
	// Text is the page's extracted text.
	Text string
	// Page is the 1-based page number.
	Page int
}

// Table is a grid of cell texts found in the document.
type Table struct {
	// Rows holds the cell texts, row-major. Row 0 is usually the header.
	Rows [][]string
	// Page is the 1-based page the table was found on. Zero when the source
	// format has no page concept.
	Page int
}

// Document is the extraction result: page texts plus any detected tables.
type Document struct {
	Pages  []PageText
	Tables []Table
}

// Text joins all page texts with newlines.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

// Extractor extracts text and tables from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// SupportedExt reports whether the extension (with leading dot, any case)
// names a format this extractor can read.
func SupportedExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

// Extract reads the file at path and returns its pages and tables.
// The format is chosen by file extension; unsupported extensions return
// ErrUnsupported. Extraction stops early when ctx is cancelled, so a
// pathological document cannot hold a worker past its deadline.
func (e *Extractor) Extract(ctx context.Context, path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read file: %w", err)
	}
	return e.ExtractBytes(ctx, content, filepath.Ext(path))
}

// ExtractBytes extracts pages and tables from content based on the given
// extension. ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(ctx context.Context, content []byte, ext string) (*Document, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(ctx, content)
	case ".docx":
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		return extractDOCX(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}
