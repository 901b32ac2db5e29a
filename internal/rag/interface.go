// Package rag defines the shared types and narrow interfaces for the
// retrieval-augmented generation core: document chunks, embedding, and the
// vector index contract. Concrete implementations (flat on-disk index, Qdrant)
// satisfy these interfaces so the retrieval and ingestion layers never depend
// on a specific backend.
package rag

import (
	"context"
)

// Chunk is a bounded span of document text with page/source metadata.
// It is the unit of indexing and retrieval. Chunks are immutable once created.
type Chunk struct {
	// ID is the unique identifier for this chunk, derived from its source
	// document and sequence position.
	ID string

	// Text is the raw text content of the chunk.
	Text string

	// Source is the originating document identifier (the uploaded filename).
	Source string

	// Page is the 1-based page number the chunk was cut from. Zero when the
	// source format has no page concept.
	Page int

	// Start and End are the character offsets of the chunk within its page.
	Start int
	End   int

	// Score is the similarity score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
//
// An index must only ever hold vectors produced by a single embedder —
// mixing providers silently corrupts similarity semantics, so callers must
// never merge indexes built with different embedders.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchParams controls a Max-Marginal-Relevance search against a VectorIndex.
type SearchParams struct {
	// K is the number of chunks to return.
	K int
	// FetchK is the number of nearest neighbours to over-fetch before MMR
	// selection. Must be >= K; implementations clamp it when smaller.
	FetchK int
	// Lambda trades relevance against diversity: 1.0 selects purely by
	// relevance, 0.0 purely by diversity. Values outside [0,1] are clamped.
	Lambda float32
}

// VectorIndex is the mutable vector index contract. Exactly one writer may
// mutate the index at a time — callers serialize AddOrMerge/Replace/Reset
// behind a single process-wide lock. Search is safe concurrently with
// mutation: it observes either the pre- or post-mutation index, never a torn
// one, because persistence is atomic.
type VectorIndex interface {
	// AddOrMerge embeds chunks and incorporates them into the index, creating
	// it if absent. A failed merge must leave the previously persisted index
	// untouched.
	AddOrMerge(ctx context.Context, chunks []Chunk) error

	// Replace discards the existing index and rebuilds it from chunks.
	// All-or-nothing: on failure the previous index remains in effect.
	Replace(ctx context.Context, chunks []Chunk) error

	// Search embeds the query and returns up to params.K chunks selected by
	// Max-Marginal-Relevance. An absent or empty index yields an empty slice,
	// not an error.
	Search(ctx context.Context, query string, params SearchParams) ([]Chunk, error)

	// Len reports the number of chunks currently indexed. Zero for an absent
	// index.
	Len(ctx context.Context) (int, error)

	// Reset removes the index entirely. Resetting an absent index is a no-op.
	Reset(ctx context.Context) error

	// Close releases any resources held by the index.
	Close() error
}
