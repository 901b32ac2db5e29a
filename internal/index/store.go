package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/studyrag/studyrag-go/internal/rag"
)

// embedBatchSize bounds how many chunk texts are sent to the embedding
// provider per request.
const embedBatchSize = 64

// FlatStore is the default vector index backend: an exact-similarity flat
// index held in memory and persisted as a single JSON blob on disk.
//
// Persistence is atomic. Mutations build the complete new state, write it to
// a temp file in the same directory and rename it over the old blob, then
// swap the in-memory index. A crash mid-write leaves the previous blob
// intact. An absent blob is a valid empty index, not an error.
type FlatStore struct {
	embedder rag.Embedder
	path     string
	log      *slog.Logger

	mu  sync.RWMutex
	idx *flatIndex // nil until loaded or first mutation
}

// NewFlatStore constructs a FlatStore persisting to path and loads the
// existing blob if one is present.
func NewFlatStore(embedder rag.Embedder, path string, log *slog.Logger) (*FlatStore, error) {
	s := &FlatStore{
		embedder: embedder,
		path:     path,
		log:      log,
		idx:      &flatIndex{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the persisted blob into memory. A missing file leaves the
// index empty.
func (s *FlatStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Debug("index: no persisted blob, starting empty", slog.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: read %s: %w", s.path, err)
	}
	var idx flatIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("index: decode %s: %w", s.path, err)
	}
	s.idx = &idx
	s.log.Info("index: loaded persisted blob",
		slog.String("path", s.path),
		slog.Int("chunks", len(idx.Chunks)),
	)
	return nil
}

// persist writes idx to the configured path atomically. The temp file is
// created in the destination directory so the rename never crosses
// filesystems.
func (s *FlatStore) persist(idx *flatIndex) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: create dir %s: %w", dir, err)
	}

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("index: encode: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("index: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("index: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("index: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("index: rename temp file: %w", err)
	}
	return nil
}

// embed converts chunk texts to vectors in batches and builds a flatIndex.
// Embedding failures are wrapped in ErrUnavailable.
func (s *FlatStore) embed(ctx context.Context, chunks []rag.Chunk) (*flatIndex, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: embed batch %d-%d: %v", ErrUnavailable, start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return newFlatIndex(append([]rag.Chunk(nil), chunks...), vectors)
}

// AddOrMerge embeds the chunks and merges them into the index. The merged
// state is persisted before the in-memory index is swapped, so a failure at
// any step leaves both the blob and the live index unchanged.
func (s *FlatStore) AddOrMerge(ctx context.Context, chunks []rag.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	fresh, err := s.embed(ctx, chunks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.idx.clone()
	if err := merged.merge(fresh); err != nil {
		return err
	}
	if err := s.persist(merged); err != nil {
		return err
	}
	s.idx = merged
	s.log.Info("index: merged chunks",
		slog.Int("added", len(chunks)),
		slog.Int("total", len(merged.Chunks)),
	)
	return nil
}

// Replace embeds the chunks and swaps the entire index for the new state.
// All-or-nothing: if embedding or persisting fails, the previous index
// stays live.
func (s *FlatStore) Replace(ctx context.Context, chunks []rag.Chunk) error {
	fresh, err := s.embed(ctx, chunks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(fresh); err != nil {
		return err
	}
	s.idx = fresh
	s.log.Info("index: replaced", slog.Int("chunks", len(fresh.Chunks)))
	return nil
}

// Search embeds the query and returns up to params.K chunks selected by MMR.
// An empty index returns no chunks and no error.
func (s *FlatStore) Search(ctx context.Context, query string, params rag.SearchParams) ([]rag.Chunk, error) {
	s.mu.RLock()
	idx := s.idx
	s.mu.RUnlock()

	if len(idx.Chunks) == 0 {
		return nil, nil
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("index: expected 1 query embedding, got %d", len(vecs))
	}
	return idx.search(vecs[0], params), nil
}

// Len returns the number of indexed chunks.
func (s *FlatStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idx.Chunks), nil
}

// Reset clears the index and removes the persisted blob.
func (s *FlatStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("index: remove %s: %w", s.path, err)
	}
	s.idx = &flatIndex{}
	s.log.Info("index: reset", slog.String("path", s.path))
	return nil
}

// Close releases resources. The flat store holds none beyond memory.
func (s *FlatStore) Close() error { return nil }
