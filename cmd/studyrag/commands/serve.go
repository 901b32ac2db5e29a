package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/studyrag/studyrag-go/internal/answer"
	"github.com/studyrag/studyrag-go/internal/embedder"
	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/index"
	"github.com/studyrag/studyrag-go/internal/ingest"
	"github.com/studyrag/studyrag-go/internal/logging"
	"github.com/studyrag/studyrag-go/internal/provider"
	"github.com/studyrag/studyrag-go/internal/server"
	"github.com/studyrag/studyrag-go/internal/store"
	"github.com/studyrag/studyrag-go/internal/syllabus"
	"github.com/studyrag/studyrag-go/internal/tracing"
)

// NewServeCmd constructs the `studyrag serve` command, which starts the
// HTTP server exposing the document QA API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the studyrag HTTP server",
		Long: `Start the studyrag HTTP server on localhost.

The server exposes document upload and ingestion, retrieval-backed question
answering with page/source citations, and syllabus parsing.

Examples:
  studyrag serve
  studyrag serve --port 9090
  MODEL_PROVIDER=ollama INDEX_BACKEND=qdrant studyrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flags win over config-file/env values.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			idx, closeIndex, err := buildIndex(ctx, emb, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeIndex()

			uploadDir, err := resolveUploadDir()
			if err != nil {
				return fmt.Errorf("serve: resolve upload dir: %w", err)
			}

			// One process-wide lock serializes all index mutations. The
			// pipeline (uploads) and the rebuilder (delete/reset) share it.
			var indexMu sync.Mutex
			extractor := extract.NewExtractor()
			chk := buildChunker()
			tracker := ingest.NewTracker()

			pipeline := &ingest.Pipeline{
				Extractor: extractor,
				Chunker:   chk,
				Index:     idx,
				Tracker:   tracker,
				IndexMu:   &indexMu,
				Timeout:   time.Duration(getEnvInt("INGEST_TIMEOUT_SECONDS", 0)) * time.Second,
				Log:       log,
			}
			pool := ingest.NewPool(pipeline,
				getEnvInt("INGEST_WORKERS", ingest.DefaultWorkers),
				getEnvInt("INGEST_QUEUE", ingest.DefaultQueueSize),
				log,
			)
			defer pool.Close()

			rebuilder := &ingest.Rebuilder{
				UploadDir: uploadDir,
				Extractor: extractor,
				Chunker:   chk,
				Index:     idx,
				Tracker:   tracker,
				IndexMu:   &indexMu,
				Log:       log,
			}

			// Open conversation history store. STUDYRAG_HISTORY_DB overrides
			// the default path (~/.studyrag/history.db). Set to "disabled"
			// to turn history off.
			var historyStore store.ConversationStore
			dbPath := os.Getenv("STUDYRAG_HISTORY_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					hs, hsErr := store.Open(dbPath)
					if hsErr != nil {
						log.Warn("history: failed to open store, disabling", slog.Any("error", hsErr))
					} else {
						historyStore = hs
						defer func() { _ = hs.Close() }()
						log.Info("history: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("history: disabled via STUDYRAG_HISTORY_DB=disabled")
			}

			engine := buildEngine(idx, log)
			generator := &answer.Generator{Model: chatModel, Log: log}

			pingers := []server.Pinger{
				server.NewEmbedderPinger(emb, getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))),
				server.NewIndexPinger(idx),
			}
			if os.Getenv("READY_PROBE_MODEL") == "true" {
				// Off by default: the probe burns tokens on paid backends.
				pingers = append(pingers, server.NewModelPinger(chatModel, getEnvOrDefault("MODEL_PROVIDER", "ollama")))
			}
			if qs, isQdrant := idx.(*index.QdrantStore); isQdrant {
				pingers = append(pingers, server.NewQdrantPinger(qs.Client()))
			}

			srv, err := server.New(server.Services{
				Pool:      pool,
				Tracker:   tracker,
				Rebuilder: rebuilder,
				Retriever: engine,
				Answerer:  generator,
				Parser:    syllabus.NewParser(),
				Docs:      extractor,
				History:   historyStore,
			}, &server.Config{
				Host:           host,
				Port:           port,
				UploadDir:      uploadDir,
				MaxUploadBytes: int64(getEnvInt("MAX_FILE_MB", 0)) << 20,
				Logger:         log,
				Pingers:        pingers,
				APIKey:         os.Getenv("STUDYRAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			// Re-index any uploads retained from a previous run so the index
			// reflects what is on disk before the first request lands.
			if n, err := rebuilder.Rebuild(ctx); err != nil {
				log.Warn("serve: startup rebuild failed", slog.Any("error", err))
			} else if n > 0 {
				log.Info("serve: startup rebuild complete", slog.Int("documents", n))
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
