package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/studyrag/studyrag-go/internal/chunker"
	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/rag"
)

// DefaultTimeout bounds a single document's ingestion end to end.
const DefaultTimeout = 300 * time.Second

// Pipeline ingests one uploaded document: extract, chunk, embed and merge
// into the vector index. Index mutations take the shared IndexMu so they
// never interleave with a rebuild.
type Pipeline struct {
	// Extractor reads pages and tables out of uploaded files.
	Extractor *extract.Extractor

	// Chunker cuts page texts into indexable chunks.
	Chunker *chunker.Chunker

	// Index receives the chunks.
	Index rag.VectorIndex

	// Tracker records per-document lifecycle state.
	Tracker *Tracker

	// IndexMu is the process-wide index-mutation lock, shared with the
	// Rebuilder.
	IndexMu *sync.Mutex

	// Timeout bounds one document's ingestion. Zero means DefaultTimeout.
	Timeout time.Duration

	// Log receives structured progress events.
	Log *slog.Logger
}

// Ingest processes the uploaded file at path. It returns nil without doing
// work when the file is already being processed by another worker. Failures
// are recorded on the tracker and returned.
func (p *Pipeline) Ingest(ctx context.Context, path string) error {
	filename := filepath.Base(path)

	if !p.Tracker.StartProcessing(filename) {
		p.Log.Info("ingest: already processing, skipping",
			slog.String("file", filename),
		)
		return nil
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	pages, chunks, err := p.ingest(ctx, path, filename)
	if err != nil {
		p.Tracker.Fail(filename, err.Error())
		p.Log.Error("ingest: failed",
			slog.String("file", filename),
			slog.String("error", err.Error()),
		)
		return err
	}

	p.Tracker.Complete(filename, pages, chunks)
	p.Log.Info("ingest: completed",
		slog.String("file", filename),
		slog.Int("pages", pages),
		slog.Int("chunks", chunks),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// ingest runs the extract-chunk-index sequence and returns the page and
// chunk counts.
func (p *Pipeline) ingest(ctx context.Context, path, filename string) (int, int, error) {
	doc, err := p.Extractor.Extract(ctx, path)
	if err != nil {
		return 0, 0, fmt.Errorf("ingest %s: %w", filename, err)
	}

	chunks := p.Chunker.Chunk(doc, filename)
	if len(chunks) == 0 {
		return 0, 0, fmt.Errorf("ingest %s: document produced no text", filename)
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, fmt.Errorf("ingest %s: %w", filename, err)
	}

	p.IndexMu.Lock()
	defer p.IndexMu.Unlock()
	if err := p.Index.AddOrMerge(ctx, chunks); err != nil {
		return 0, 0, fmt.Errorf("ingest %s: %w", filename, err)
	}
	return len(doc.Pages), len(chunks), nil
}
