// Package chunker splits extracted document text into bounded, overlapping
// chunks for indexing. Splitting is recursive: paragraph breaks are preferred
// over line breaks, line breaks over sentence ends, sentence ends over word
// boundaries, with a hard character cut as the last resort.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/rag"
)

// Default chunking geometry.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// separators are tried in order; the empty string means a hard character cut.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker cuts page texts into chunks of at most size characters with the
// configured overlap between consecutive chunks.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker with the given geometry. Non-positive size or
// overlap fall back to the defaults; overlap is clamped below size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits every page of doc into chunks carrying the source filename,
// page number and character offsets within the page.
func (c *Chunker) Chunk(doc *extract.Document, source string) []rag.Chunk {
	var out []rag.Chunk
	for _, page := range doc.Pages {
		searchFrom := 0
		for _, piece := range c.SplitText(page.Text) {
			// Every piece is a contiguous substring of the page, so its
			// offset can be recovered by scanning forward.
			start := strings.Index(page.Text[searchFrom:], piece)
			if start < 0 {
				start = 0
			} else {
				start += searchFrom
			}
			searchFrom = start + 1

			out = append(out, rag.Chunk{
				ID:     chunkID(source, page.Page, start, piece),
				Text:   piece,
				Source: source,
				Page:   page.Page,
				Start:  start,
				End:    start + len(piece),
			})
		}
	}
	return out
}

// SplitText splits text into pieces of at most the configured size.
// Whitespace-only pieces are dropped.
func (c *Chunker) SplitText(text string) []string {
	pieces := c.split(text, separators)
	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// split recursively cuts text on the first separator present, falling back
// to finer separators for pieces that still exceed the size limit.
func (c *Chunker) split(text string, seps []string) []string {
	if len(text) <= c.size {
		return []string{text}
	}

	// Pick the coarsest separator that occurs in the text.
	sep := ""
	var rest []string
	for i, cand := range seps {
		if cand == "" {
			break
		}
		if strings.Contains(text, cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return c.hardCut(text)
	}

	// SplitAfter keeps the separator attached, so the concatenation of any
	// run of consecutive pieces is a contiguous substring of text.
	var pieces []string
	for _, p := range strings.SplitAfter(text, sep) {
		if len(p) > c.size {
			pieces = append(pieces, c.split(p, rest)...)
		} else {
			pieces = append(pieces, p)
		}
	}
	return c.merge(pieces)
}

// merge packs consecutive pieces into chunks of at most size characters,
// carrying roughly overlap characters of trailing pieces into the next chunk.
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(window, ""))
	}

	for _, p := range pieces {
		if total+len(p) > c.size && total > 0 {
			flush()
			// Shrink the window to the overlap budget before continuing.
			for total > c.overlap || (total+len(p) > c.size && total > 0) {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += len(p)
	}
	flush()
	return chunks
}

// hardCut slices text into size-length windows stepping by size-overlap.
// Used only when no separator at all is present.
func (c *Chunker) hardCut(text string) []string {
	step := c.size - c.overlap
	if step <= 0 {
		step = c.size
	}
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + c.size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}

// chunkID derives a stable identifier from the chunk's provenance and
// content: re-ingesting the same file yields the same IDs. The digest is
// formatted as a UUID so backends with typed point IDs accept it directly.
func chunkID(source string, page, start int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", source, page, start, text)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])
}
