package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/studyrag/studyrag-go/internal/chunker"
	"github.com/studyrag/studyrag-go/internal/embedder"
	"github.com/studyrag/studyrag-go/internal/index"
	"github.com/studyrag/studyrag-go/internal/rag"
	"github.com/studyrag/studyrag-go/internal/retrieval"
)

// buildIndex constructs the vector index selected by INDEX_BACKEND: "flat"
// (default, JSON blob on disk) or "qdrant". The returned close function
// must be called on shutdown.
func buildIndex(ctx context.Context, emb rag.Embedder, log *slog.Logger) (rag.VectorIndex, func(), error) {
	backend := getEnvOrDefault("INDEX_BACKEND", "flat")

	switch backend {
	case "flat":
		path := os.Getenv("INDEX_PATH")
		if path == "" {
			var err error
			path, err = defaultIndexPath()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve index path: %w", err)
			}
		}
		idx, err := index.NewFlatStore(emb, path, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open flat index at %s: %w", path, err)
		}
		log.Info("flat index ready", slog.String("path", path))
		return idx, func() { _ = idx.Close() }, nil

	case "qdrant":
		embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
		cfg := &index.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "studyrag-docs"),
			VectorSize: uint64(embedder.DefaultDimensions(embBackend)), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}
		idx, err := index.NewQdrantStore(ctx, cfg, emb, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Info("qdrant index ready",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
		)
		return idx, func() { _ = idx.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown INDEX_BACKEND %q (expected flat or qdrant)", backend)
	}
}

// buildEngine constructs the retrieval engine with the MMR and context
// assembly parameters from the environment.
func buildEngine(idx rag.VectorIndex, log *slog.Logger) *retrieval.Engine {
	return &retrieval.Engine{
		Index: idx,
		Params: rag.SearchParams{
			K:      getEnvInt("TOP_K", 5),
			FetchK: getEnvInt("FETCH_K", 15),
			Lambda: getEnvFloat32("MMR_LAMBDA", 0.9),
		},
		ContextDocs: getEnvInt("CONTEXT_DOCS", 0),
		Log:         log,
	}
}

// buildChunker constructs the text chunker with CHUNK_SIZE/CHUNK_OVERLAP
// overrides applied.
func buildChunker() *chunker.Chunker {
	return chunker.New(
		getEnvInt("CHUNK_SIZE", chunker.DefaultSize),
		getEnvInt("CHUNK_OVERLAP", chunker.DefaultOverlap),
	)
}

// defaultIndexPath resolves ~/.studyrag/index.json, creating the directory
// if needed.
func defaultIndexPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".studyrag")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, "index.json"), nil
}

// resolveUploadDir returns UPLOAD_DIR or the default ~/.studyrag/uploads,
// creating it if needed.
func resolveUploadDir() (string, error) {
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0o755)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".studyrag", "uploads")
	return dir, os.MkdirAll(dir, 0o755)
}

// getEnvOrDefault returns the env var value or fallback when unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or
// unparsable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat32 returns the env var parsed as float32, or fallback when
// unset or unparsable.
func getEnvFloat32(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}
