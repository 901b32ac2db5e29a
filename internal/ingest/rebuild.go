package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/studyrag/studyrag-go/internal/chunker"
	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/rag"
)

// Rebuilder reconstructs the whole index from the files currently in the
// upload directory. Deleting an uploaded document only removes the file;
// its chunks leave the index on the next rebuild.
type Rebuilder struct {
	// UploadDir is the directory holding the uploaded source documents.
	UploadDir string

	// Extractor reads pages out of the uploaded files.
	Extractor *extract.Extractor

	// Chunker cuts page texts into indexable chunks.
	Chunker *chunker.Chunker

	// Index is rebuilt via Replace.
	Index rag.VectorIndex

	// Tracker is updated with per-file outcomes during the rebuild.
	Tracker *Tracker

	// IndexMu is the process-wide index-mutation lock, shared with the
	// Pipeline.
	IndexMu *sync.Mutex

	// Log receives structured progress events.
	Log *slog.Logger
}

// Rebuild re-extracts every supported file in the upload directory and
// replaces the index with the result. Files that fail extraction are marked
// failed and skipped; the rebuild proceeds with the rest. Returns the number
// of files indexed. An empty upload directory resets the index.
func (r *Rebuilder) Rebuild(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.UploadDir)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("rebuild: read upload dir: %w", err)
	}

	var all []rag.Chunk
	indexed := 0
	for _, entry := range entries {
		if entry.IsDir() || !extract.SupportedExt(filepath.Ext(entry.Name())) {
			continue
		}
		filename := entry.Name()

		doc, err := r.Extractor.Extract(ctx, filepath.Join(r.UploadDir, filename))
		if err != nil {
			r.Tracker.Fail(filename, err.Error())
			r.Log.Warn("rebuild: skipping file",
				slog.String("file", filename),
				slog.String("error", err.Error()),
			)
			continue
		}
		chunks := r.Chunker.Chunk(doc, filename)
		if len(chunks) == 0 {
			r.Tracker.Fail(filename, "document produced no text")
			continue
		}
		all = append(all, chunks...)
		r.Tracker.Complete(filename, len(doc.Pages), len(chunks))
		indexed++
	}

	r.IndexMu.Lock()
	defer r.IndexMu.Unlock()
	if len(all) == 0 {
		if err := r.Index.Reset(ctx); err != nil {
			return 0, fmt.Errorf("rebuild: %w", err)
		}
		r.Log.Info("rebuild: no documents, index reset")
		return 0, nil
	}
	if err := r.Index.Replace(ctx, all); err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}

	r.Log.Info("rebuild: index replaced",
		slog.Int("files", indexed),
		slog.Int("chunks", len(all)),
	)
	return indexed, nil
}
