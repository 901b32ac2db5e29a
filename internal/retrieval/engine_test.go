package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/studyrag/studyrag-go/internal/rag"
)

// fakeIndex returns canned chunks and records the queries it received.
type fakeIndex struct {
	results map[string][]rag.Chunk // keyed by query; missing key falls back to all
	all     []rag.Chunk
	queries []string
	err     error
}

func (f *fakeIndex) Search(ctx context.Context, query string, params rag.SearchParams) ([]rag.Chunk, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[query]; ok {
		return r, nil
	}
	return f.all, nil
}

func (f *fakeIndex) AddOrMerge(ctx context.Context, chunks []rag.Chunk) error { return nil }
func (f *fakeIndex) Replace(ctx context.Context, chunks []rag.Chunk) error    { return nil }
func (f *fakeIndex) Len(ctx context.Context) (int, error)                     { return len(f.all), nil }
func (f *fakeIndex) Reset(ctx context.Context) error                          { return nil }
func (f *fakeIndex) Close() error                                             { return nil }

func newEngine(idx rag.VectorIndex) *Engine {
	return &Engine{
		Index:  idx,
		Params: rag.SearchParams{K: 5, FetchK: 15, Lambda: 0.9},
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func Test_Keywords_FiltersShortAndNonAlpha(t *testing.T) {
	t.Parallel()

	got := keywords("What is a DFA? It has 5 states, i.e. q0-q4.")
	for _, want := range []string{"what", "dfa", "has", "states"} {
		if _, ok := got[want]; !ok {
			t.Errorf("expected keyword %q in %v", want, got)
		}
	}
	for _, bad := range []string{"is", "a", "it", "5", "q0"} {
		if _, ok := got[bad]; ok {
			t.Errorf("keyword %q should have been filtered", bad)
		}
	}
}

func Test_LexicalScore(t *testing.T) {
	t.Parallel()

	qk := keywords("virtual memory paging")
	if got := lexicalScore(qk, "Paging divides virtual memory into fixed pages."); got != 1.0 {
		t.Errorf("full overlap score = %v, want 1.0", got)
	}
	if got := lexicalScore(qk, "completely unrelated text"); got != 0 {
		t.Errorf("no overlap score = %v, want 0", got)
	}
	if got := lexicalScore(map[string]struct{}{}, "anything"); got != 0 {
		t.Errorf("empty question score = %v, want 0", got)
	}
}

func Test_Retrieve_EmptyIndexReturnsNotFound(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakeIndex{})
	_, err := e.Retrieve(context.Background(), "what is paging", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func Test_Retrieve_IndexErrorPropagates(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakeIndex{err: errors.New("backend down")})
	_, err := e.Retrieve(context.Background(), "question", "")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func Test_Retrieve_SyllabusHintAddsSecondQuery(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{all: []rag.Chunk{{Text: "automata theory", Source: "s.pdf", Page: 1}}}
	e := newEngine(idx)

	if _, err := e.Retrieve(context.Background(), "explain DFAs", "Unit 1: finite automata"); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(idx.queries) != 2 {
		t.Fatalf("expected 2 queries, got %d: %v", len(idx.queries), idx.queries)
	}
	if idx.queries[0] != "explain DFAs" {
		t.Errorf("first query = %q", idx.queries[0])
	}
	if !strings.Contains(idx.queries[1], "finite automata") {
		t.Errorf("second query missing hint: %q", idx.queries[1])
	}
}

func Test_Retrieve_LongHintIsTruncated(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{all: []rag.Chunk{{Text: "content", Source: "s.pdf"}}}
	e := newEngine(idx)

	hint := strings.Repeat("topic ", 50) // 300 chars
	if _, err := e.Retrieve(context.Background(), "q", hint); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	// "q" + " " + 100-char prefix
	if got := len(idx.queries[1]); got > 2+hintPrefixLen {
		t.Errorf("hint query length %d exceeds prefix budget", got)
	}
}

func Test_Retrieve_DeduplicatesByNormalizedContent(t *testing.T) {
	t.Parallel()

	// Both queries return the same content with different whitespace/case.
	idx := &fakeIndex{
		results: map[string][]rag.Chunk{},
		all: []rag.Chunk{
			{ID: "a", Text: "Paging splits  memory into frames.", Source: "os.pdf", Page: 3},
			{ID: "b", Text: "paging splits memory into frames.", Source: "os.pdf", Page: 3},
			{ID: "c", Text: "Segmentation is different.", Source: "os.pdf", Page: 4},
		},
	}
	e := newEngine(idx)

	res, err := e.Retrieve(context.Background(), "how does paging work", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("expected 2 deduplicated chunks, got %d", len(res.Chunks))
	}
	for _, c := range res.Chunks {
		if c.ID == "b" {
			t.Error("near-duplicate chunk survived dedup")
		}
	}
}

func Test_Retrieve_RanksByKeywordOverlap(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{all: []rag.Chunk{
		{ID: "weak", Text: "This chapter introduces the course.", Source: "s.pdf", Page: 1},
		{ID: "strong", Text: "Deadlock detection uses a resource allocation graph.", Source: "s.pdf", Page: 9},
	}}
	e := newEngine(idx)

	res, err := e.Retrieve(context.Background(), "explain deadlock detection with resource graphs", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Chunks[0].ID != "strong" {
		t.Errorf("expected keyword-rich chunk first, got %s", res.Chunks[0].ID)
	}
}

func Test_Retrieve_TieKeepsVectorOrder(t *testing.T) {
	t.Parallel()

	// No question keyword appears in either chunk: both score 0, so the
	// vector-similarity order must survive the stable re-rank.
	idx := &fakeIndex{all: []rag.Chunk{
		{ID: "first", Text: "alpha content", Source: "s.pdf"},
		{ID: "second", Text: "beta content", Source: "s.pdf"},
	}}
	e := newEngine(idx)

	res, err := e.Retrieve(context.Background(), "zzz qqq", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Chunks[0].ID != "first" || res.Chunks[1].ID != "second" {
		t.Errorf("tie broke vector order: %s, %s", res.Chunks[0].ID, res.Chunks[1].ID)
	}
}

func Test_Retrieve_LimitsContextDocs(t *testing.T) {
	t.Parallel()

	var all []rag.Chunk
	for i := 0; i < 10; i++ {
		all = append(all, rag.Chunk{
			ID:     string(rune('a' + i)),
			Text:   strings.Repeat("distinct content ", i+1),
			Source: "big.pdf",
			Page:   i + 1,
		})
	}
	e := newEngine(&fakeIndex{all: all})

	res, err := e.Retrieve(context.Background(), "anything", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Chunks) != DefaultContextDocs {
		t.Errorf("expected %d chunks, got %d", DefaultContextDocs, len(res.Chunks))
	}
}

func Test_Retrieve_AssemblesLabelledContext(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{all: []rag.Chunk{
		{Text: "Chunk one text.", Source: "os.pdf", Page: 2},
		{Text: "Chunk two text.", Source: "net.pdf", Page: 7},
	}}
	e := newEngine(idx)

	res, err := e.Retrieve(context.Background(), "chunk text", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !strings.Contains(res.Context, "[Source 1 - ") {
		t.Errorf("context missing first source label: %q", res.Context)
	}
	if !strings.Contains(res.Context, ", Page 7]") {
		t.Errorf("context missing page label: %q", res.Context)
	}
	if !strings.Contains(res.Context, contextSeparator) {
		t.Error("context snippets not separated")
	}

	if len(res.Sources) != 2 {
		t.Errorf("sources = %v", res.Sources)
	}
	if len(res.Pages) != 2 || res.Pages[0] != 2 || res.Pages[1] != 7 {
		t.Errorf("pages = %v, want [2 7]", res.Pages)
	}
	if len(res.Refs) != 2 || res.Refs[0].Page == 0 || res.Refs[0].Text == "" {
		t.Errorf("refs = %v", res.Refs)
	}
}

func Test_Retrieve_RefPreviewsAreTruncated(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("paging ", 100) // ~700 chars
	idx := &fakeIndex{all: []rag.Chunk{{Text: long, Source: "os.pdf", Page: 3}}}
	e := newEngine(idx)

	res, err := e.Retrieve(context.Background(), "paging", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got := len(res.Refs[0].Text); got > sourcePreviewLen+3 {
		t.Errorf("preview length %d exceeds budget", got)
	}
	if !strings.HasSuffix(res.Refs[0].Text, "...") {
		t.Error("truncated preview missing ellipsis")
	}
}

func Test_Retrieve_TruncationKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	// Multi-byte text sized so the preview and snippet budgets both land
	// mid-rune if truncation cuts on a raw byte offset.
	long := "paging " + strings.Repeat("é", 500)
	idx := &fakeIndex{all: []rag.Chunk{{Text: long, Source: "os.pdf", Page: 2}}}
	e := newEngine(idx)

	res, err := e.Retrieve(context.Background(), "paging", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !utf8.ValidString(res.Refs[0].Text) {
		t.Error("preview truncation split a rune")
	}
	if !utf8.ValidString(res.Context) {
		t.Error("snippet truncation split a rune")
	}
}

func Test_Retrieve_TruncatesOversizeSnippets(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("deadlock ", 200) // ~1800 chars
	idx := &fakeIndex{all: []rag.Chunk{{Text: long, Source: "s.pdf", Page: 1}}}
	e := newEngine(idx)

	res, err := e.Retrieve(context.Background(), "deadlock", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	body := strings.SplitN(res.Context, "\n", 2)[1]
	if len(body) > DefaultSnippetBudget+3 {
		t.Errorf("snippet length %d exceeds budget", len(body))
	}
	if !strings.HasSuffix(body, "...") {
		t.Error("truncated snippet missing ellipsis")
	}
}
