package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/studyrag/studyrag-go/internal/answer"
	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/ingest"
	"github.com/studyrag/studyrag-go/internal/retrieval"
	"github.com/studyrag/studyrag-go/internal/store"
	"github.com/studyrag/studyrag-go/internal/syllabus"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	// Uploads can be large, so the default is generous.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must cover a full LLM generation round-trip.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// UploadDir is the directory uploaded documents are stored in.
	UploadDir string
	// MaxUploadBytes caps the size of a single uploaded document.
	// Defaults to 50 MiB if zero.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics. If nil a private
	// registry is created, which keeps unit tests hermetic.
	Registry *prometheus.Registry
}

// Services bundles the application components the handlers delegate to.
// Production wiring passes the concrete types; tests pass fakes through the
// narrow interfaces below.
type Services struct {
	// Pool enqueues background ingestion jobs for uploaded documents.
	Pool submitter
	// Tracker reports per-document ingestion state.
	Tracker *ingest.Tracker
	// Rebuilder re-indexes the retained uploads after a delete or reset.
	Rebuilder rebuilder
	// Retriever selects and assembles context for a question.
	Retriever retriever
	// Answerer generates the final answer from retrieved context.
	Answerer answerer
	// Parser parses uploaded syllabus documents.
	Parser *syllabus.Parser
	// Docs extracts text from uploaded syllabus files.
	Docs extractor
	// History persists QA turns per session. Nil disables history.
	History store.ConversationStore
}

// submitter enqueues a stored upload for background ingestion.
// *ingest.Pool satisfies it; tests inject a fake.
type submitter interface {
	Submit(path string) error
}

// rebuilder re-indexes every retained upload from scratch.
// *ingest.Rebuilder satisfies it; tests inject a fake.
type rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// retriever runs the retrieval pipeline for one question.
// *retrieval.Engine satisfies it; tests inject a fake.
type retriever interface {
	Retrieve(ctx context.Context, question, syllabusHint string) (*retrieval.Result, error)
}

// answerer produces an answer from an assembled request.
// *answer.Generator satisfies it; tests inject a fake.
type answerer interface {
	Answer(ctx context.Context, req *answer.Request) (string, error)
}

// extractor converts raw uploaded bytes into a structured document.
// *extract.Extractor satisfies it; tests inject a fake.
type extractor interface {
	ExtractBytes(ctx context.Context, content []byte, ext string) (*extract.Document, error)
}

// Server is the HTTP server exposing the document QA API.
type Server struct {
	// svc holds the application components the handlers call into.
	svc Services
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// registry is the Prometheus registry served by GET /metrics.
	registry *prometheus.Registry
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()

	// sylMu guards syl. The active syllabus is replaced wholesale on upload
	// and read on every QA request.
	sylMu sync.RWMutex
	// syl is the currently active syllabus, nil until one is uploaded.
	syl *syllabus.Syllabus
}

// qaRequest is the JSON body for POST /api/qa.
type qaRequest struct {
	// Question is the student's question.
	Question string `json:"question"`
	// Subject optionally names the course, folded into the retrieval hint.
	Subject string `json:"subject,omitempty"`
	// Unit optionally names the syllabus unit the question falls under.
	Unit string `json:"unit,omitempty"`
	// Topic optionally pins the syllabus topic instead of auto-matching.
	Topic string `json:"topic,omitempty"`
	// Marks optionally carries the exam weight of the question.
	Marks int `json:"marks,omitempty"`
	// Session identifies the conversation for history purposes.
	Session string `json:"session,omitempty"`
	// History optionally carries prior turns supplied by the client. When
	// present it is used instead of the stored session history.
	History []answer.Turn `json:"history,omitempty"`
}

// qaResponse is the JSON response for POST /api/qa.
type qaResponse struct {
	// Answer is the generated answer text. On a degraded response it
	// carries an explanation instead, so clients always have something to
	// render.
	Answer string `json:"answer"`
	// Pages lists the distinct source pages cited, ascending.
	Pages []string `json:"pages,omitempty"`
	// Sources carries one citation per context chunk, in rank order.
	Sources []retrieval.SourceRef `json:"sources,omitempty"`
	// Topic is the syllabus topic the question was matched to, if any.
	Topic string `json:"topic,omitempty"`
	// Error is true when the answer is degraded (nothing retrieved,
	// generation failed, or the response was cut off).
	Error bool `json:"error,omitempty"`
}

// uploadResponse is the JSON response for POST /api/ingest.
type uploadResponse struct {
	// Status is "accepted" once the document is queued.
	Status string `json:"status"`
	// Filename is the stored base name of the upload.
	Filename string `json:"filename"`
	// Message describes what happens next.
	Message string `json:"message"`
}

// statusResponse is the JSON response for GET /api/ingest/status.
type statusResponse struct {
	// Documents holds one record per tracked upload.
	Documents []ingest.Record `json:"documents"`
}

// deleteResponse is the JSON response for DELETE /api/ingest/delete/{filename}.
type deleteResponse struct {
	// Status is "deleted" on success.
	Status string `json:"status"`
	// Filename is the removed document's base name.
	Filename string `json:"filename"`
}

// resetResponse is the JSON response for DELETE /api/ingest/reset.
type resetResponse struct {
	// Status is "reset" on success.
	Status string `json:"status"`
	// Removed is the number of uploaded files that were deleted.
	Removed int `json:"removed"`
}

// syllabusResponse is the JSON response for POST /api/syllabus/upload.
type syllabusResponse struct {
	// Subject is the detected course label, e.g. "IC-812 Theory of Computation".
	Subject string `json:"subject"`
	// Units holds the parsed syllabus units in document order. Each unit
	// carries its own answer-length format.
	Units []syllabus.Unit `json:"units"`
}
