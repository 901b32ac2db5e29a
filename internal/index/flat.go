// Package index implements the vector index backends: a flat, locally
// persisted exact-similarity index (the default) and a Qdrant-backed index.
// Both satisfy rag.VectorIndex, so the rest of the system never depends on
// the backend choice.
package index

import (
	"errors"
	"math"
	"sort"

	"github.com/studyrag/studyrag-go/internal/rag"
)

// ErrUnavailable indicates the embedding provider or index backend could not
// be reached. Callers record it on the ingestion status rather than retrying.
var ErrUnavailable = errors.New("index unavailable")

// flatIndex is an in-memory dense-vector index searched by exact cosine
// similarity. Vectors[i] is the embedding of Chunks[i].
type flatIndex struct {
	// Dim is the embedding dimensionality. All vectors must match.
	Dim int `json:"dim"`
	// Chunks holds the indexed chunks in insertion order.
	Chunks []rag.Chunk `json:"chunks"`
	// Vectors holds the embedding for each chunk, parallel to Chunks.
	Vectors [][]float32 `json:"vectors"`
}

// newFlatIndex builds a flatIndex from parallel chunk/vector slices.
func newFlatIndex(chunks []rag.Chunk, vectors [][]float32) (*flatIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, errors.New("index: chunks and vectors length mismatch")
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != dim {
			return nil, errors.New("index: inconsistent vector dimensions")
		}
	}
	return &flatIndex{Dim: dim, Chunks: chunks, Vectors: vectors}, nil
}

// merge appends other's chunks and vectors to idx. Both indexes must have
// been built with the same embedder; dimensions are checked as a proxy.
func (idx *flatIndex) merge(other *flatIndex) error {
	if len(other.Chunks) == 0 {
		return nil
	}
	if len(idx.Chunks) > 0 && idx.Dim != other.Dim {
		return errors.New("index: cannot merge indexes with different dimensions")
	}
	if len(idx.Chunks) == 0 {
		idx.Dim = other.Dim
	}
	idx.Chunks = append(idx.Chunks, other.Chunks...)
	idx.Vectors = append(idx.Vectors, other.Vectors...)
	return nil
}

// clone returns a deep-enough copy of idx: the chunk and vector slices are
// copied so a failed merge never mutates the original.
func (idx *flatIndex) clone() *flatIndex {
	c := &flatIndex{
		Dim:     idx.Dim,
		Chunks:  make([]rag.Chunk, len(idx.Chunks)),
		Vectors: make([][]float32, len(idx.Vectors)),
	}
	copy(c.Chunks, idx.Chunks)
	copy(c.Vectors, idx.Vectors)
	return c
}

// search returns up to params.K chunks selected by Max-Marginal-Relevance:
// the fetchK nearest neighbours by cosine similarity are over-fetched, then
// K of them are picked iteratively maximizing
//
//	lambda*relevance - (1-lambda)*max_similarity_to_already_selected.
//
// Each returned chunk carries its query relevance in Score.
func (idx *flatIndex) search(query []float32, params rag.SearchParams) []rag.Chunk {
	if len(idx.Chunks) == 0 || len(query) == 0 {
		return nil
	}

	k := params.K
	if k <= 0 {
		k = 5
	}
	fetchK := params.FetchK
	if fetchK < k {
		fetchK = k
	}
	lambda := params.Lambda
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	// Relevance of every indexed vector to the query.
	relevance := make([]float32, len(idx.Vectors))
	for i, v := range idx.Vectors {
		relevance[i] = cosine(query, v)
	}

	// Over-fetch the fetchK most relevant candidates.
	candidates := topIndices(relevance, fetchK)

	// Iteratively select k candidates by MMR.
	selected := make([]int, 0, k)
	remaining := append([]int(nil), candidates...)
	for len(selected) < k && len(remaining) > 0 {
		bestPos := 0
		bestScore := float32(math.Inf(-1))
		for pos, cand := range remaining {
			diversity := float32(0)
			for _, sel := range selected {
				if sim := cosine(idx.Vectors[cand], idx.Vectors[sel]); sim > diversity {
					diversity = sim
				}
			}
			score := lambda*relevance[cand] - (1-lambda)*diversity
			if score > bestScore {
				bestScore = score
				bestPos = pos
			}
		}
		selected = append(selected, remaining[bestPos])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	out := make([]rag.Chunk, 0, len(selected))
	for _, i := range selected {
		c := idx.Chunks[i]
		c.Score = relevance[i]
		out = append(out, c)
	}
	return out
}

// topIndices returns the indices of the n largest scores, ordered by
// descending score. Ties keep the lower index first.
func topIndices(scores []float32, n int) []int {
	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		return scores[idxs[a]] > scores[idxs[b]]
	})
	if n < len(idxs) {
		idxs = idxs[:n]
	}
	return idxs
}

// cosine returns the cosine similarity of a and b, or 0 when either has zero
// magnitude or the lengths differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
