// Package server implements the HTTP server that exposes document ingestion,
// retrieval-backed question answering, and syllabus parsing as a REST API.
// The server is started by the `studyrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studyrag/studyrag-go/internal/answer"
	"github.com/studyrag/studyrag-go/internal/index"
	"github.com/studyrag/studyrag-go/internal/logging"
	"github.com/studyrag/studyrag-go/internal/retrieval"
	"github.com/studyrag/studyrag-go/internal/store"
)

// defaultMaxUploadBytes caps a single uploaded document at 50 MiB.
const defaultMaxUploadBytes = 50 << 20

// New constructs a Server from the provided services and config.
func New(svc Services, cfg *Config) (*Server, error) {
	if svc.Tracker == nil {
		return nil, fmt.Errorf("server: tracker must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full generation round-trip.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		svc:      svc,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.Registry),
		registry: cfg.Registry,
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		s.log.Warn("server: STUDYRAG_API_KEY not set, API authentication disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest", s.handleUpload)
	mux.HandleFunc("GET /api/ingest/status", s.handleStatus)
	mux.HandleFunc("DELETE /api/ingest/delete/{filename}", s.handleDelete)
	mux.HandleFunc("DELETE /api/ingest/reset", s.handleReset)
	mux.HandleFunc("POST /api/qa", s.handleQA)
	mux.HandleFunc("POST /api/syllabus/upload", s.handleSyllabusUpload)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Health, readiness, and metrics stay reachable without a token so
	// probes and scrapers keep working when auth is enabled.
	protected := authMiddleware(cfg.APIKey, mux)
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) {
			mux.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
	handler = rl.middleware(handler)
	handler = s.instrument(handler)
	handler = requestLogger(s.log, handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// publicPath reports whether the path is exempt from authentication.
func publicPath(p string) bool {
	switch p {
	case "/api/health", "/api/ready", "/metrics":
		return true
	}
	return false
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQA handles POST /api/qa. It retrieves context for the question,
// generates an answer, and persists the exchange to the session history.
// Retrieval misses and generation failures return 200 with error:true so
// clients always get a renderable body.
func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req qaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeJSONError(w, "question is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	topic := req.Topic
	if topic == "" {
		topic = s.matchSyllabusTopic(req.Question)
	}
	hint := joinHints(req.Subject, req.Unit, topic)

	result, err := s.svc.Retriever.Retrieve(r.Context(), req.Question, hint)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrNotFound):
			s.metrics.qaRequestsTotal.WithLabelValues("not_found").Inc()
			writeJSON(w, http.StatusOK, qaResponse{
				Answer: fmt.Sprintf("I couldn't find relevant information about '%s' in the uploaded documents.", req.Question),
				Topic:  topic,
				Error:  true,
			})
		case errors.Is(err, index.ErrUnavailable):
			s.metrics.qaRequestsTotal.WithLabelValues("unavailable").Inc()
			log.Error("qa: index unavailable", slog.Any("error", err))
			writeJSONError(w, "search backend unavailable", http.StatusServiceUnavailable)
		default:
			s.metrics.qaRequestsTotal.WithLabelValues("error").Inc()
			log.Error("qa: retrieval failed", slog.Any("error", err))
			writeJSONError(w, "retrieval failed", http.StatusInternalServerError)
		}
		return
	}

	history := req.History
	if len(history) == 0 {
		history = s.loadHistory(r.Context(), req.Session)
	}

	text, err := s.svc.Answerer.Answer(r.Context(), &answer.Request{
		Question:      req.Question,
		Context:       result.Context,
		SyllabusTopic: hint,
		Marks:         req.Marks,
		History:       history,
	})

	resp := qaResponse{
		Answer:  text,
		Pages:   pageStrings(result.Pages),
		Sources: result.Refs,
		Topic:   topic,
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, answer.ErrTruncatedResponse):
		// Partial answer is still worth returning.
		resp.Error = true
		outcome = "truncated"
	default:
		log.Error("qa: generation failed", slog.Any("error", err))
		resp.Answer = "An error occurred while generating the answer. Please try again."
		resp.Error = true
		outcome = "error"
	}

	if outcome != "error" {
		s.appendHistory(r.Context(), req.Session, req.Question, text)
	}

	s.metrics.qaRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.qaDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	log.Info("qa: answered",
		slog.String("topic", topic),
		slog.Int("sources", len(resp.Sources)),
		slog.Duration("duration", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// joinHints folds the optional structuring hints into one retrieval hint,
// skipping the empty ones.
func joinHints(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// pageStrings renders the cited page numbers for the response body.
func pageStrings(pages []int) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return out
}

// matchSyllabusTopic maps the question onto the active syllabus, if one has
// been uploaded. Returns "" when no syllabus is loaded or nothing matches.
func (s *Server) matchSyllabusTopic(question string) string {
	s.sylMu.RLock()
	defer s.sylMu.RUnlock()
	if s.syl == nil {
		return ""
	}
	return s.syl.MatchTopic(question)
}

// loadHistory fetches the recent turns for the session. History is best
// effort: failures are logged and the question proceeds without it.
func (s *Server) loadHistory(ctx context.Context, session string) []answer.Turn {
	if s.svc.History == nil || session == "" {
		return nil
	}
	msgs, err := s.svc.History.Recent(ctx, session, answer.DefaultHistoryDepth*2)
	if err != nil {
		s.log.Warn("qa: history load failed", slog.Any("error", err))
		return nil
	}
	turns := make([]answer.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := string(schema.User)
		if m.Role == store.RoleAssistant {
			role = string(schema.Assistant)
		}
		turns = append(turns, answer.Turn{Role: role, Content: m.Content})
	}
	return turns
}

// appendHistory persists the exchange. Best effort, same as loadHistory.
func (s *Server) appendHistory(ctx context.Context, session, question, answerText string) {
	if s.svc.History == nil || session == "" || answerText == "" {
		return
	}
	if err := s.svc.History.Append(ctx, session, store.RoleUser, question); err != nil {
		s.log.Warn("qa: history append failed", slog.Any("error", err))
		return
	}
	if err := s.svc.History.Append(ctx, session, store.RoleAssistant, answerText); err != nil {
		s.log.Warn("qa: history append failed", slog.Any("error", err))
	}
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("server: response encode error", slog.Any("error", err))
	}
}

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
