// Package retrieval turns a question into ranked, deduplicated context for
// the answer generator. It over-queries the vector index (optionally with a
// syllabus-derived variant of the question), merges and deduplicates the
// results, re-ranks them by lexical keyword overlap with the question and
// assembles a bounded, source-labelled context block.
package retrieval

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/studyrag/studyrag-go/internal/rag"
)

// ErrNotFound indicates the index returned no chunks for any query variant.
var ErrNotFound = errors.New("retrieval: no relevant documents found")

// Assembly defaults.
const (
	// DefaultContextDocs is how many chunks make it into the final context.
	DefaultContextDocs = 4
	// DefaultSnippetBudget caps each chunk's contribution in characters.
	DefaultSnippetBudget = 800
	// sourcePreviewLen caps the preview text carried by each SourceRef.
	sourcePreviewLen = 200
	// hintPrefixLen bounds how much of the syllabus hint is folded into the
	// secondary query.
	hintPrefixLen = 100
)

// contextSeparator joins the labelled snippets of the assembled context.
const contextSeparator = "\n\n---\n\n"

// Engine retrieves and ranks context chunks for a question.
type Engine struct {
	// Index is the vector index to query.
	Index rag.VectorIndex

	// Params controls the per-query MMR search.
	Params rag.SearchParams

	// ContextDocs is how many chunks the assembled context holds.
	// Zero means DefaultContextDocs.
	ContextDocs int

	// SnippetBudget caps each chunk's text in the assembled context.
	// Zero means DefaultSnippetBudget.
	SnippetBudget int

	// Log receives structured retrieval events.
	Log *slog.Logger
}

// Result is the retrieval outcome for one question.
type Result struct {
	// Context is the assembled, source-labelled context block.
	Context string
	// Chunks are the selected chunks in final rank order.
	Chunks []rag.Chunk
	// Pages are the distinct page numbers cited, ascending.
	Pages []int
	// Sources are the distinct source filenames cited, in rank order.
	Sources []string
	// Refs carries one citation record per selected chunk, in rank order.
	Refs []SourceRef
}

// SourceRef is a per-chunk citation: the page the chunk came from and a
// short preview of its text.
type SourceRef struct {
	// Page is the source page number, 0 when the document has no pages.
	Page int `json:"page"`
	// Text is the chunk's text truncated to a preview length.
	Text string `json:"text"`
}

// Retrieve queries the index with the question and, when syllabusHint is
// non-empty, a second query variant carrying the hint's prefix. Results are
// deduplicated by content, re-ranked by keyword overlap with the question
// and assembled into a bounded context. Returns ErrNotFound when nothing
// was retrieved.
func (e *Engine) Retrieve(ctx context.Context, question, syllabusHint string) (*Result, error) {
	queries := []string{question}
	if hint := strings.TrimSpace(syllabusHint); hint != "" {
		if len(hint) > hintPrefixLen {
			hint = clipRunes(hint, hintPrefixLen)
		}
		queries = append(queries, question+" "+hint)
	}

	var merged []rag.Chunk
	seen := make(map[[sha256.Size]byte]struct{})
	for _, q := range queries {
		chunks, err := e.Index.Search(ctx, q, e.Params)
		if err != nil {
			return nil, fmt.Errorf("retrieval: %w", err)
		}
		for _, c := range chunks {
			key := contentKey(c.Text)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, c)
		}
	}
	if len(merged) == 0 {
		return nil, ErrNotFound
	}

	// Re-rank by lexical overlap with the question. The sort is stable, so
	// chunks with equal overlap keep their vector-similarity order.
	qk := keywords(question)
	scores := make([]float64, len(merged))
	for i, c := range merged {
		scores[i] = lexicalScore(qk, c.Text)
	}
	order := make([]int, len(merged))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	limit := e.ContextDocs
	if limit <= 0 {
		limit = DefaultContextDocs
	}
	if limit > len(order) {
		limit = len(order)
	}
	selected := make([]rag.Chunk, 0, limit)
	for _, i := range order[:limit] {
		selected = append(selected, merged[i])
	}

	e.Log.Debug("retrieval: selected context",
		slog.Int("queries", len(queries)),
		slog.Int("candidates", len(merged)),
		slog.Int("selected", len(selected)),
	)

	return &Result{
		Context: e.assemble(selected),
		Chunks:  selected,
		Pages:   distinctPages(selected),
		Sources: distinctSources(selected),
		Refs:    sourceRefs(selected),
	}, nil
}

// assemble renders the selected chunks as labelled snippets.
func (e *Engine) assemble(chunks []rag.Chunk) string {
	budget := e.SnippetBudget
	if budget <= 0 {
		budget = DefaultSnippetBudget
	}

	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		text := c.Text
		if len(text) > budget {
			text = clipRunes(text, budget) + "..."
		}
		label := fmt.Sprintf("[Source %d - %s", i+1, c.Source)
		if c.Page > 0 {
			label += fmt.Sprintf(", Page %d", c.Page)
		}
		label += "]"
		parts = append(parts, label+"\n"+text)
	}
	return strings.Join(parts, contextSeparator)
}

// clipRunes truncates s to at most max bytes without splitting a rune, so
// truncated snippets and previews stay valid UTF-8.
func clipRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// contentKey hashes the chunk text after normalization, so chunks differing
// only in whitespace or case deduplicate.
func contentKey(text string) [sha256.Size]byte {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return sha256.Sum256([]byte(normalized))
}

// distinctPages collects the unique positive page numbers, ascending.
func distinctPages(chunks []rag.Chunk) []int {
	seen := make(map[int]struct{})
	var pages []int
	for _, c := range chunks {
		if c.Page <= 0 {
			continue
		}
		if _, ok := seen[c.Page]; ok {
			continue
		}
		seen[c.Page] = struct{}{}
		pages = append(pages, c.Page)
	}
	sort.Ints(pages)
	return pages
}

// sourceRefs builds the per-chunk citation records, preview-truncated.
func sourceRefs(chunks []rag.Chunk) []SourceRef {
	refs := make([]SourceRef, 0, len(chunks))
	for _, c := range chunks {
		text := c.Text
		if len(text) > sourcePreviewLen {
			text = clipRunes(text, sourcePreviewLen) + "..."
		}
		refs = append(refs, SourceRef{Page: c.Page, Text: text})
	}
	return refs
}

// distinctSources collects the unique source filenames in rank order.
func distinctSources(chunks []rag.Chunk) []string {
	seen := make(map[string]struct{})
	var sources []string
	for _, c := range chunks {
		if c.Source == "" {
			continue
		}
		if _, ok := seen[c.Source]; ok {
			continue
		}
		seen[c.Source] = struct{}{}
		sources = append(sources, c.Source)
	}
	return sources
}
