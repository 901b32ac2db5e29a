package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/studyrag/studyrag-go/internal/rag"
)

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection. Must match the configured embedder's output size.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements rag.VectorIndex backed by a Qdrant collection.
// Nearest-neighbour retrieval runs server-side; the MMR selection over the
// over-fetched candidates runs client-side on the returned vectors, so
// search semantics match the flat backend exactly.
type QdrantIndex struct {
	client *qdrant.Client
	cfg    *QdrantConfig
	log    *slog.Logger

	// mu serializes Replace's drop-and-recreate window against concurrent
	// searches, which would otherwise observe a missing collection.
	mu sync.RWMutex
}

// NewQdrantIndex connects to Qdrant, ensures the target collection exists
// and returns a ready-to-use index.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig, log *slog.Logger) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create qdrant client: %v", ErrUnavailable, err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg, log: log}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: check collection existence: %v", ErrUnavailable, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", q.cfg.Collection, err)
	}
	q.log.Info("qdrant: created collection", slog.String("collection", q.cfg.Collection))
	return nil
}

// upsert embeds the chunks and writes them as points. Chunk IDs double as
// point IDs, so re-ingesting a document overwrites its previous points.
func (q *QdrantIndex) upsert(ctx context.Context, embedder rag.Embedder, chunks []rag.Chunk) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, 0, len(batch))
		for _, c := range batch {
			texts = append(texts, c.Text)
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embed batch %d-%d: %v", ErrUnavailable, start, end, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("qdrant: expected %d embeddings, got %d", len(batch), len(vectors))
		}

		points := make([]*qdrant.PointStruct, 0, len(batch))
		for i, c := range batch {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(c.ID),
				Vectors: qdrant.NewVectors(vectors[i]...),
				Payload: qdrant.NewValueMap(map[string]interface{}{
					"text":   c.Text,
					"source": c.Source,
					"page":   int64(c.Page),
					"start":  int64(c.Start),
					"end":    int64(c.End),
				}),
			})
		}

		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.cfg.Collection,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert failed: %w", err)
		}
	}
	return nil
}

// QdrantStore pairs a QdrantIndex with the embedder that produced its
// vectors, completing the rag.VectorIndex contract.
type QdrantStore struct {
	idx      *QdrantIndex
	embedder rag.Embedder
}

// NewQdrantStore connects to Qdrant and binds the embedder all vectors in
// the collection were (and will be) produced with.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig, embedder rag.Embedder, log *slog.Logger) (*QdrantStore, error) {
	idx, err := NewQdrantIndex(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &QdrantStore{idx: idx, embedder: embedder}, nil
}

// AddOrMerge embeds the chunks and upserts them into the collection.
// Upserts are idempotent per chunk ID, so a retried ingest never duplicates
// points.
func (s *QdrantStore) AddOrMerge(ctx context.Context, chunks []rag.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.idx.mu.RLock()
	defer s.idx.mu.RUnlock()
	return s.idx.upsert(ctx, s.embedder, chunks)
}

// Replace drops the collection, recreates it and upserts the new chunks.
// Searches are blocked for the duration so none observes the empty window.
func (s *QdrantStore) Replace(ctx context.Context, chunks []rag.Chunk) error {
	s.idx.mu.Lock()
	defer s.idx.mu.Unlock()

	if err := s.idx.client.DeleteCollection(ctx, s.idx.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: drop collection %q: %w", s.idx.cfg.Collection, err)
	}
	if err := s.idx.ensureCollection(ctx); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return s.idx.upsert(ctx, s.embedder, chunks)
}

// Search embeds the query, over-fetches params.FetchK candidates with their
// vectors from Qdrant and applies MMR selection client-side.
func (s *QdrantStore) Search(ctx context.Context, query string, params rag.SearchParams) ([]rag.Chunk, error) {
	s.idx.mu.RLock()
	defer s.idx.mu.RUnlock()

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrUnavailable, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("qdrant: expected 1 query embedding, got %d", len(vecs))
	}
	queryVec := vecs[0]

	fetchK := params.FetchK
	if fetchK < params.K {
		fetchK = params.K
	}
	if fetchK <= 0 {
		fetchK = 15
	}
	limit := uint64(fetchK)

	results, err := s.idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.idx.cfg.Collection,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", ErrUnavailable, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Rebuild a candidate set with vectors and run the same MMR selection
	// the flat backend uses.
	chunks := make([]rag.Chunk, 0, len(results))
	vectors := make([][]float32, 0, len(results))
	for _, r := range results {
		c := rag.Chunk{ID: r.Id.GetUuid(), Score: r.Score}
		if p := r.Payload; p != nil {
			if v, ok := p["text"]; ok {
				c.Text = v.GetStringValue()
			}
			if v, ok := p["source"]; ok {
				c.Source = v.GetStringValue()
			}
			if v, ok := p["page"]; ok {
				c.Page = int(v.GetIntegerValue())
			}
			if v, ok := p["start"]; ok {
				c.Start = int(v.GetIntegerValue())
			}
			if v, ok := p["end"]; ok {
				c.End = int(v.GetIntegerValue())
			}
		}
		var vec []float32
		if out := r.Vectors; out != nil {
			if v := out.GetVector(); v != nil {
				vec = v.GetData()
			}
		}
		if len(vec) == 0 {
			continue
		}
		chunks = append(chunks, c)
		vectors = append(vectors, vec)
	}

	cand, err := newFlatIndex(chunks, vectors)
	if err != nil {
		return nil, err
	}
	local := params
	local.FetchK = len(chunks)
	return cand.search(queryVec, local), nil
}

// Len reports the point count of the collection. A missing collection counts
// as an empty index.
func (s *QdrantStore) Len(ctx context.Context) (int, error) {
	s.idx.mu.RLock()
	defer s.idx.mu.RUnlock()

	exists, err := s.idx.client.CollectionExists(ctx, s.idx.cfg.Collection)
	if err != nil {
		return 0, fmt.Errorf("%w: check collection existence: %v", ErrUnavailable, err)
	}
	if !exists {
		return 0, nil
	}
	n, err := s.idx.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.idx.cfg.Collection,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count points: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Reset drops and recreates the collection, leaving it empty.
func (s *QdrantStore) Reset(ctx context.Context) error {
	return s.Replace(ctx, nil)
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.idx.client.Close()
}

// Client exposes the underlying Qdrant client so callers can wire health
// probes against the same connection.
func (s *QdrantStore) Client() *qdrant.Client {
	return s.idx.client
}
