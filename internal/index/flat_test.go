package index

import (
	"math"
	"testing"

	"github.com/studyrag/studyrag-go/internal/rag"
)

func Test_Cosine_KnownValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 0}, b: []float32{1, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cosine(tc.a, tc.b)
			if math.Abs(float64(got-tc.want)) > 1e-6 {
				t.Errorf("cosine(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func Test_FlatIndex_Search_RanksByRelevance(t *testing.T) {
	t.Parallel()

	idx, err := newFlatIndex(
		[]rag.Chunk{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		[][]float32{
			{1, 0, 0},
			{0.9, 0.1, 0},
			{0, 0, 1},
		},
	)
	if err != nil {
		t.Fatalf("newFlatIndex: %v", err)
	}

	// Lambda 1.0 selects purely by relevance.
	got := idx.search([]float32{1, 0, 0}, rag.SearchParams{K: 2, FetchK: 3, Lambda: 1.0})
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected [a b], got [%s %s]", got[0].ID, got[1].ID)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("results not ordered by score: %v < %v", got[0].Score, got[1].Score)
	}
}

func Test_FlatIndex_Search_MMRPrefersDiversity(t *testing.T) {
	t.Parallel()

	// "a" and "b" are near-duplicates aligned with the query; "c" is less
	// relevant but orthogonal to both.
	idx, err := newFlatIndex(
		[]rag.Chunk{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		[][]float32{
			{1, 0, 0},
			{0.99, 0.01, 0},
			{0.3, 0, 0.95},
		},
	)
	if err != nil {
		t.Fatalf("newFlatIndex: %v", err)
	}

	// With a strong diversity weight the second pick must skip the
	// near-duplicate "b" in favour of "c".
	got := idx.search([]float32{1, 0, 0}, rag.SearchParams{K: 2, FetchK: 3, Lambda: 0.1})
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("expected most relevant chunk first, got %s", got[0].ID)
	}
	if got[1].ID != "c" {
		t.Errorf("expected diverse chunk second, got %s", got[1].ID)
	}
}

func Test_FlatIndex_Search_EmptyIndex(t *testing.T) {
	t.Parallel()

	idx := &flatIndex{}
	got := idx.search([]float32{1, 0}, rag.SearchParams{K: 5, FetchK: 15, Lambda: 0.9})
	if len(got) != 0 {
		t.Errorf("expected no results from empty index, got %d", len(got))
	}
}

func Test_FlatIndex_Search_KLargerThanIndex(t *testing.T) {
	t.Parallel()

	idx, err := newFlatIndex(
		[]rag.Chunk{{ID: "a"}, {ID: "b"}},
		[][]float32{{1, 0}, {0, 1}},
	)
	if err != nil {
		t.Fatalf("newFlatIndex: %v", err)
	}

	got := idx.search([]float32{1, 0}, rag.SearchParams{K: 10, FetchK: 20, Lambda: 0.9})
	if len(got) != 2 {
		t.Errorf("expected all 2 chunks when K exceeds index size, got %d", len(got))
	}
}

func Test_FlatIndex_Merge(t *testing.T) {
	t.Parallel()

	a, _ := newFlatIndex([]rag.Chunk{{ID: "a"}}, [][]float32{{1, 0}})
	b, _ := newFlatIndex([]rag.Chunk{{ID: "b"}}, [][]float32{{0, 1}})

	if err := a.merge(b); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(a.Chunks) != 2 {
		t.Errorf("expected 2 chunks after merge, got %d", len(a.Chunks))
	}
}

func Test_FlatIndex_Merge_DimensionMismatch(t *testing.T) {
	t.Parallel()

	a, _ := newFlatIndex([]rag.Chunk{{ID: "a"}}, [][]float32{{1, 0}})
	b, _ := newFlatIndex([]rag.Chunk{{ID: "b"}}, [][]float32{{0, 1, 0}})

	if err := a.merge(b); err == nil {
		t.Error("expected error merging indexes with different dimensions")
	}
	if len(a.Chunks) != 1 {
		t.Errorf("failed merge must not grow the index, got %d chunks", len(a.Chunks))
	}
}

func Test_FlatIndex_Merge_IntoEmpty(t *testing.T) {
	t.Parallel()

	a := &flatIndex{}
	b, _ := newFlatIndex([]rag.Chunk{{ID: "b"}}, [][]float32{{0, 1, 0}})

	if err := a.merge(b); err != nil {
		t.Fatalf("merge into empty: %v", err)
	}
	if a.Dim != 3 {
		t.Errorf("expected merged dim 3, got %d", a.Dim)
	}
}
