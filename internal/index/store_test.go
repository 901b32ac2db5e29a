package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/studyrag/studyrag-go/internal/rag"
)

// hashEmbedder is a deterministic fake embedder: each text maps to a fixed
// 4-dimensional vector derived from its bytes. Identical texts always embed
// identically, which is all the flat store needs for round-trip tests.
type hashEmbedder struct {
	err error
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if h.err != nil {
		return nil, h.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 4)
		for j, b := range []byte(t) {
			v[j%4] += float32(b) / 255
		}
		out[i] = v
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*FlatStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.json")
	s, err := NewFlatStore(&hashEmbedder{}, path, discardLogger())
	if err != nil {
		t.Fatalf("NewFlatStore: %v", err)
	}
	return s, path
}

func Test_FlatStore_AddOrMerge_PersistsAndReloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, path := newTestStore(t)
	chunks := []rag.Chunk{
		{ID: "c1", Text: "operating systems use virtual memory", Source: "os.pdf", Page: 1},
		{ID: "c2", Text: "paging splits memory into frames", Source: "os.pdf", Page: 2},
	}
	if err := s.AddOrMerge(ctx, chunks); err != nil {
		t.Fatalf("AddOrMerge: %v", err)
	}

	n, err := s.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 chunks, got %d", n)
	}

	// A fresh store at the same path must observe the persisted state.
	reloaded, err := NewFlatStore(&hashEmbedder{}, path, discardLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	n, _ = reloaded.Len(ctx)
	if n != 2 {
		t.Errorf("expected 2 chunks after reload, got %d", n)
	}

	got, err := reloaded.Search(ctx, "virtual memory", rag.SearchParams{K: 1, FetchK: 2, Lambda: 1.0})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if got[0].Source != "os.pdf" || got[0].Page == 0 {
		t.Errorf("chunk metadata lost across persistence: %+v", got[0])
	}
}

func Test_FlatStore_AddOrMerge_GrowsExistingIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newTestStore(t)
	if err := s.AddOrMerge(ctx, []rag.Chunk{{ID: "a", Text: "first document"}}); err != nil {
		t.Fatalf("first AddOrMerge: %v", err)
	}
	if err := s.AddOrMerge(ctx, []rag.Chunk{{ID: "b", Text: "second document"}}); err != nil {
		t.Fatalf("second AddOrMerge: %v", err)
	}

	n, _ := s.Len(ctx)
	if n != 2 {
		t.Errorf("expected 2 chunks after two merges, got %d", n)
	}
}

func Test_FlatStore_Replace_SupersedesPrevious(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := newTestStore(t)
	if err := s.AddOrMerge(ctx, []rag.Chunk{
		{ID: "old1", Text: "stale content"},
		{ID: "old2", Text: "more stale content"},
	}); err != nil {
		t.Fatalf("AddOrMerge: %v", err)
	}

	if err := s.Replace(ctx, []rag.Chunk{{ID: "new1", Text: "rebuilt content"}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	n, _ := s.Len(ctx)
	if n != 1 {
		t.Errorf("expected 1 chunk after replace, got %d", n)
	}
	got, err := s.Search(ctx, "content", rag.SearchParams{K: 5, FetchK: 5, Lambda: 1.0})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, c := range got {
		if c.ID == "old1" || c.ID == "old2" {
			t.Errorf("replaced chunk %s still retrievable", c.ID)
		}
	}
}

func Test_FlatStore_Search_EmptyIndexReturnsEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	got, err := s.Search(context.Background(), "anything", rag.SearchParams{K: 5, FetchK: 15, Lambda: 0.9})
	if err != nil {
		t.Fatalf("Search on empty index: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func Test_FlatStore_AbsentBlobIsValidEmptyState(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "never-written.json")
	s, err := NewFlatStore(&hashEmbedder{}, path, discardLogger())
	if err != nil {
		t.Fatalf("NewFlatStore with absent blob: %v", err)
	}
	n, err := s.Len(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected empty index, got n=%d err=%v", n, err)
	}
}

func Test_FlatStore_Reset_RemovesBlob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, path := newTestStore(t)
	if err := s.AddOrMerge(ctx, []rag.Chunk{{ID: "a", Text: "doomed"}}); err != nil {
		t.Fatalf("AddOrMerge: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	n, _ := s.Len(ctx)
	if n != 0 {
		t.Errorf("expected empty index after reset, got %d", n)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected blob removed after reset, stat err = %v", err)
	}

	// Resetting again is a no-op.
	if err := s.Reset(ctx); err != nil {
		t.Errorf("second Reset: %v", err)
	}
}

func Test_FlatStore_EmbedFailureLeavesIndexUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "index.json")
	s, err := NewFlatStore(&hashEmbedder{}, path, discardLogger())
	if err != nil {
		t.Fatalf("NewFlatStore: %v", err)
	}
	if err := s.AddOrMerge(ctx, []rag.Chunk{{ID: "keep", Text: "existing"}}); err != nil {
		t.Fatalf("AddOrMerge: %v", err)
	}

	s.embedder = &hashEmbedder{err: fmt.Errorf("provider down")}
	err = s.AddOrMerge(ctx, []rag.Chunk{{ID: "lost", Text: "never indexed"}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	n, _ := s.Len(ctx)
	if n != 1 {
		t.Errorf("failed merge must not change the index, got %d chunks", n)
	}

	// The persisted blob must still reflect the pre-failure state.
	reloaded, err := NewFlatStore(&hashEmbedder{}, path, discardLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	n, _ = reloaded.Len(ctx)
	if n != 1 {
		t.Errorf("persisted blob changed by failed merge, got %d chunks", n)
	}
}
