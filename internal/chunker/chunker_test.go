package chunker

import (
	"strings"
	"testing"

	"github.com/studyrag/studyrag-go/internal/extract"
)

func Test_SplitText_ShortTextIsSingleChunk(t *testing.T) {
	t.Parallel()

	c := New(1000, 200)
	got := c.SplitText("a short paragraph")
	if len(got) != 1 || got[0] != "a short paragraph" {
		t.Errorf("expected single chunk, got %v", got)
	}
}

func Test_SplitText_EmptyAndWhitespace(t *testing.T) {
	t.Parallel()

	c := New(1000, 200)
	if got := c.SplitText(""); len(got) != 0 {
		t.Errorf("expected no chunks for empty text, got %v", got)
	}
	if got := c.SplitText("  \n\n \t "); len(got) != 0 {
		t.Errorf("expected no chunks for whitespace, got %v", got)
	}
}

func Test_SplitText_RespectsSizeLimit(t *testing.T) {
	t.Parallel()

	// Build ~50 sentences of ~60 chars each.
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the river. ")
	}

	c := New(200, 40)
	chunks := c.SplitText(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > 200 {
			t.Errorf("chunk %d exceeds size limit: %d chars", i, len(ch))
		}
	}
}

func Test_SplitText_PrefersParagraphBreaks(t *testing.T) {
	t.Parallel()

	para := strings.Repeat("alpha beta gamma delta. ", 6) // ~144 chars
	text := para + "\n\n" + para + "\n\n" + para

	c := New(200, 40)
	chunks := c.SplitText(text)
	// Each paragraph fits within the limit, so no chunk should straddle a
	// paragraph break by cutting mid-sentence.
	for i, ch := range chunks {
		if len(ch) > 200 {
			t.Errorf("chunk %d exceeds size limit: %d", i, len(ch))
		}
	}
}

func Test_SplitText_OverlapCarriesContext(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Sentence number fragment with some padding words here. ")
	}

	c := New(300, 100)
	chunks := c.SplitText(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// Consecutive chunks must share a suffix/prefix region.
	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		tail := prev[len(prev)-40:]
		if !strings.Contains(cur, tail[:20]) && !strings.Contains(prev, cur[:20]) {
			t.Errorf("chunks %d and %d share no overlap", i-1, i)
		}
	}
}

func Test_SplitText_HardCutWithoutSeparators(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 950)
	c := New(300, 50)
	chunks := c.SplitText(text)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > 300 {
			t.Errorf("chunk %d exceeds size limit: %d", i, len(ch))
		}
	}
}

func Test_Chunk_PropagatesMetadata(t *testing.T) {
	t.Parallel()

	doc := &extract.Document{
		Pages: []extract.PageText{
			{Text: "First page content about automata theory.", Page: 1},
			{Text: "Second page content about grammars.", Page: 2},
		},
	}

	chunks := New(1000, 200).Chunk(doc, "toc.pdf")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.Source != "toc.pdf" {
			t.Errorf("chunk source = %q", ch.Source)
		}
		if ch.ID == "" {
			t.Error("chunk has empty ID")
		}
	}
	if chunks[0].Page != 1 || chunks[1].Page != 2 {
		t.Errorf("page numbers lost: %d, %d", chunks[0].Page, chunks[1].Page)
	}
}

func Test_Chunk_OffsetsAddressPageText(t *testing.T) {
	t.Parallel()

	page := strings.Repeat("one two three four five six seven eight nine ten. ", 20)
	doc := &extract.Document{Pages: []extract.PageText{{Text: page, Page: 1}}}

	chunks := New(200, 40).Chunk(doc, "doc.pdf")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.End > len(page) || ch.Start < 0 || ch.Start >= ch.End {
			t.Fatalf("chunk %d has bad offsets [%d,%d)", i, ch.Start, ch.End)
		}
		if page[ch.Start:ch.End] != ch.Text {
			t.Errorf("chunk %d offsets do not address its text", i)
		}
	}
}

func Test_ChunkID_DeterministicAndUUIDShaped(t *testing.T) {
	t.Parallel()

	a := chunkID("f.pdf", 1, 0, "same content")
	b := chunkID("f.pdf", 1, 0, "same content")
	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a, b)
	}
	if c := chunkID("f.pdf", 2, 0, "same content"); c == a {
		t.Error("different page produced identical ID")
	}

	parts := strings.Split(a, "-")
	if len(parts) != 5 {
		t.Fatalf("ID %q is not UUID-shaped", a)
	}
	for i, want := range []int{8, 4, 4, 4, 12} {
		if len(parts[i]) != want {
			t.Errorf("ID group %d has length %d, want %d", i, len(parts[i]), want)
		}
	}
}

func Test_New_ClampsBadGeometry(t *testing.T) {
	t.Parallel()

	c := New(0, -1)
	if c.size != DefaultSize || c.overlap != DefaultOverlap {
		t.Errorf("defaults not applied: size=%d overlap=%d", c.size, c.overlap)
	}

	c = New(100, 100)
	if c.overlap >= c.size {
		t.Errorf("overlap %d not clamped below size %d", c.overlap, c.size)
	}
}
