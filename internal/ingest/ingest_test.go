package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/studyrag/studyrag-go/internal/chunker"
	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/rag"
)

// fakeIndex records index mutations and optionally fails or blocks.
type fakeIndex struct {
	mu       sync.Mutex
	added    [][]rag.Chunk
	replaced [][]rag.Chunk
	resets   int
	err      error
	block    chan struct{} // when non-nil, AddOrMerge waits for it
}

func (f *fakeIndex) AddOrMerge(ctx context.Context, chunks []rag.Chunk) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, chunks)
	return nil
}

func (f *fakeIndex) Replace(ctx context.Context, chunks []rag.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.replaced = append(f.replaced, chunks)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, query string, params rag.SearchParams) ([]rag.Chunk, error) {
	return nil, nil
}

func (f *fakeIndex) Len(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeIndex) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeIndex) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeDocx drops a minimal .docx with one paragraph into dir.
func writeDocx(t *testing.T, dir, name, text string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	ct, _ := zw.Create("[Content_Types].xml")
	_, _ = ct.Write([]byte(`<Types><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`))
	doc, _ := zw.Create("word/document.xml")
	_, _ = doc.Write([]byte(`<w:document><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write docx: %v", err)
	}
	return path
}

func newTestPipeline(idx rag.VectorIndex) *Pipeline {
	return &Pipeline{
		Extractor: extract.NewExtractor(),
		Chunker:   chunker.New(1000, 200),
		Index:     idx,
		Tracker:   NewTracker(),
		IndexMu:   &sync.Mutex{},
		Log:       discardLogger(),
	}
}

func Test_Tracker_StartProcessing_WinsOnceWhileProcessing(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.SetPending("a.pdf")

	if !tr.StartProcessing("a.pdf") {
		t.Fatal("first StartProcessing should win")
	}
	if tr.StartProcessing("a.pdf") {
		t.Error("second StartProcessing while processing should lose")
	}

	tr.Complete("a.pdf", 1, 3)
	if !tr.StartProcessing("a.pdf") {
		t.Error("StartProcessing after completion should win again")
	}
}

func Test_Tracker_Lifecycle(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.SetPending("doc.pdf")
	r, ok := tr.Get("doc.pdf")
	if !ok || r.Status != StatusPending {
		t.Fatalf("expected pending record, got %+v ok=%v", r, ok)
	}

	tr.Fail("doc.pdf", "boom")
	r, _ = tr.Get("doc.pdf")
	if r.Status != StatusFailed || r.Error != "boom" {
		t.Errorf("expected failed record with message, got %+v", r)
	}

	tr.Complete("doc.pdf", 4, 7)
	r, _ = tr.Get("doc.pdf")
	if r.Status != StatusCompleted || r.Pages != 4 || r.Chunks != 7 {
		t.Errorf("expected completed record with page and chunk counts, got %+v", r)
	}

	tr.Delete("doc.pdf")
	if _, ok := tr.Get("doc.pdf"); ok {
		t.Error("record survived Delete")
	}
	tr.Delete("doc.pdf") // no-op

	tr.SetPending("x.pdf")
	tr.SetPending("y.pdf")
	if got := len(tr.Snapshot()); got != 2 {
		t.Errorf("Snapshot returned %d records, want 2", got)
	}
	tr.Clear()
	if got := len(tr.Snapshot()); got != 0 {
		t.Errorf("Snapshot after Clear returned %d records", got)
	}
}

func Test_Pipeline_Ingest_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeDocx(t, dir, "notes.docx", "Processes and threads share an address space.")

	idx := &fakeIndex{}
	p := newTestPipeline(idx)
	if err := p.Ingest(context.Background(), path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	r, ok := p.Tracker.Get("notes.docx")
	if !ok || r.Status != StatusCompleted {
		t.Fatalf("expected completed record, got %+v", r)
	}
	if r.Chunks == 0 {
		t.Error("completed record has zero chunks")
	}
	if r.Pages != 1 {
		t.Errorf("completed record pages = %d, want 1", r.Pages)
	}
	if len(idx.added) != 1 {
		t.Fatalf("expected one AddOrMerge call, got %d", len(idx.added))
	}
	if idx.added[0][0].Source != "notes.docx" {
		t.Errorf("chunk source = %q", idx.added[0][0].Source)
	}
}

func Test_Pipeline_Ingest_ExtractFailureMarksFailed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.docx")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := &fakeIndex{}
	p := newTestPipeline(idx)
	if err := p.Ingest(context.Background(), path); err == nil {
		t.Fatal("expected error for corrupt document")
	}

	r, _ := p.Tracker.Get("broken.docx")
	if r.Status != StatusFailed || r.Error == "" {
		t.Errorf("expected failed record with message, got %+v", r)
	}
	if len(idx.added) != 0 {
		t.Error("index mutated despite extraction failure")
	}
}

func Test_Pipeline_Ingest_SkipsAlreadyProcessing(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	p := newTestPipeline(idx)
	p.Tracker.StartProcessing("busy.docx")

	// Path does not even need to exist: the skip happens first.
	if err := p.Ingest(context.Background(), filepath.Join(t.TempDir(), "busy.docx")); err != nil {
		t.Fatalf("expected idempotent skip, got %v", err)
	}
	if len(idx.added) != 0 {
		t.Error("index mutated by skipped ingestion")
	}
}

func Test_Pipeline_Ingest_CancelledContextFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeDocx(t, dir, "slow.docx", "Content that never gets indexed.")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := &fakeIndex{}
	p := newTestPipeline(idx)
	if err := p.Ingest(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	r, _ := p.Tracker.Get("slow.docx")
	if r.Status != StatusFailed {
		t.Errorf("expected failed record, got %+v", r)
	}
	if len(idx.added) != 0 {
		t.Error("index mutated despite cancelled ingestion")
	}
}

func Test_Pipeline_Ingest_IndexErrorMarksFailed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeDocx(t, dir, "doc.docx", "Some indexable content.")

	idx := &fakeIndex{err: errors.New("embedding provider down")}
	p := newTestPipeline(idx)
	if err := p.Ingest(context.Background(), path); err == nil {
		t.Fatal("expected index error to propagate")
	}

	r, _ := p.Tracker.Get("doc.docx")
	if r.Status != StatusFailed {
		t.Errorf("expected failed record, got %+v", r)
	}
}

func Test_Pool_Submit_Backpressure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeDocx(t, dir, "a.docx", "first")
	b := writeDocx(t, dir, "b.docx", "second")
	c := writeDocx(t, dir, "c.docx", "third")

	idx := &fakeIndex{block: make(chan struct{})}
	p := newTestPipeline(idx)
	pool := NewPool(p, 1, 1, discardLogger())

	if err := pool.Submit(a); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// Give the single worker a moment to pick up the first job so the
	// queue slot frees for the second.
	waitForStatus(t, p.Tracker, "a.docx", StatusProcessing)

	if err := pool.Submit(b); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if err := pool.Submit(c); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if _, ok := p.Tracker.Get("c.docx"); ok {
		t.Error("rejected submission left a pending record")
	}

	close(idx.block)
	pool.Close()

	if err := pool.Submit(a); err == nil {
		t.Error("Submit after Close should fail")
	}
}

func waitForStatus(t *testing.T, tr *Tracker, filename string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := tr.Get(filename); ok && r.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never reached status %s", filename, want)
}

func Test_Rebuilder_Rebuild_ReplacesIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDocx(t, dir, "one.docx", "Alpha content for the first document.")
	writeDocx(t, dir, "two.docx", "Beta content for the second document.")
	// Unsupported files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := &fakeIndex{}
	r := &Rebuilder{
		UploadDir: dir,
		Extractor: extract.NewExtractor(),
		Chunker:   chunker.New(1000, 200),
		Index:     idx,
		Tracker:   NewTracker(),
		IndexMu:   &sync.Mutex{},
		Log:       discardLogger(),
	}

	n, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 files indexed, got %d", n)
	}
	if len(idx.replaced) != 1 {
		t.Fatalf("expected one Replace call, got %d", len(idx.replaced))
	}
	if len(idx.added) != 0 {
		t.Error("rebuild must use Replace, not AddOrMerge")
	}

	rec, _ := r.Tracker.Get("one.docx")
	if rec.Status != StatusCompleted {
		t.Errorf("expected completed record for one.docx, got %+v", rec)
	}
	if rec.Pages != 1 || rec.Chunks == 0 {
		t.Errorf("expected page and chunk counts on record, got %+v", rec)
	}
}

func Test_Rebuilder_Rebuild_EmptyDirResetsIndex(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	r := &Rebuilder{
		UploadDir: t.TempDir(),
		Extractor: extract.NewExtractor(),
		Chunker:   chunker.New(1000, 200),
		Index:     idx,
		Tracker:   NewTracker(),
		IndexMu:   &sync.Mutex{},
		Log:       discardLogger(),
	}

	n, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 files, got %d", n)
	}
	if idx.resets != 1 {
		t.Errorf("expected index reset, got %d resets", idx.resets)
	}
}

func Test_Rebuilder_Rebuild_CorruptFileSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDocx(t, dir, "good.docx", "Usable content.")
	if err := os.WriteFile(filepath.Join(dir, "bad.docx"), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx := &fakeIndex{}
	r := &Rebuilder{
		UploadDir: dir,
		Extractor: extract.NewExtractor(),
		Chunker:   chunker.New(1000, 200),
		Index:     idx,
		Tracker:   NewTracker(),
		IndexMu:   &sync.Mutex{},
		Log:       discardLogger(),
	}

	n, err := r.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 file indexed, got %d", n)
	}
	rec, _ := r.Tracker.Get("bad.docx")
	if rec.Status != StatusFailed {
		t.Errorf("expected failed record for bad.docx, got %+v", rec)
	}
}
