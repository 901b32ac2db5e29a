// Package server — ingest.go contains the document upload, status, delete,
// and reset HTTP handlers.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/ingest"
	"github.com/studyrag/studyrag-go/internal/logging"
)

// handleUpload handles POST /api/ingest multipart uploads. The file is
// stored under UploadDir and queued for background ingestion; the response
// returns immediately with status "accepted". Progress is observed by
// polling GET /api/ingest/status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	name, path, ok := s.saveUpload(w, r)
	if !ok {
		return
	}

	if err := s.svc.Pool.Submit(path); err != nil {
		// The stored file is removed so a later retry starts clean.
		_ = os.Remove(path)
		if errors.Is(err, ingest.ErrQueueFull) {
			s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
			w.Header().Set("Retry-After", "5")
			writeJSONError(w, "ingestion queue is full, retry shortly", http.StatusTooManyRequests)
			return
		}
		s.metrics.uploadsTotal.WithLabelValues("error").Inc()
		log.Error("ingest: submit failed", slog.String("filename", name), slog.Any("error", err))
		writeJSONError(w, "failed to queue document", http.StatusInternalServerError)
		return
	}

	s.metrics.uploadsTotal.WithLabelValues("accepted").Inc()
	log.Info("ingest: upload accepted", slog.String("filename", name))
	writeJSON(w, http.StatusAccepted, uploadResponse{
		Status:   "accepted",
		Filename: name,
		Message:  "document queued for indexing, poll /api/ingest/status for progress",
	})
}

// saveUpload validates the multipart upload and writes it into UploadDir.
// On failure it writes the error response itself and returns ok=false.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (name, path string, ok bool) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "file exceeds the upload size limit", http.StatusRequestEntityTooLarge)
			return "", "", false
		}
		writeJSONError(w, "multipart form field 'file' is required", http.StatusBadRequest)
		return "", "", false
	}
	defer file.Close()

	// Base-name the upload so client-supplied paths cannot escape UploadDir.
	name = filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		writeJSONError(w, "filename is required", http.StatusBadRequest)
		return "", "", false
	}
	if !extract.SupportedExt(strings.ToLower(filepath.Ext(name))) {
		writeJSONError(w, "only .pdf and .docx files are supported", http.StatusBadRequest)
		return "", "", false
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		log.Error("ingest: upload dir create failed", slog.Any("error", err))
		writeJSONError(w, "failed to store document", http.StatusInternalServerError)
		return "", "", false
	}

	path = filepath.Join(s.cfg.UploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		log.Error("ingest: store failed", slog.String("filename", name), slog.Any("error", err))
		writeJSONError(w, "failed to store document", http.StatusInternalServerError)
		return "", "", false
	}
	_, err = io.Copy(dst, file)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "file exceeds the upload size limit", http.StatusRequestEntityTooLarge)
			return "", "", false
		}
		log.Error("ingest: store failed", slog.String("filename", name), slog.Any("error", err))
		writeJSONError(w, "failed to store document", http.StatusInternalServerError)
		return "", "", false
	}

	return name, path, true
}

// handleStatus handles GET /api/ingest/status[?filename=]. Without a
// filename it returns the full tracker snapshot; with one it returns that
// single record or 404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("filename"); name != "" {
		rec, ok := s.svc.Tracker.Get(filepath.Base(name))
		if !ok {
			writeJSONError(w, "document not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	docs := s.svc.Tracker.Snapshot()
	if docs == nil {
		docs = []ingest.Record{}
	}
	writeJSON(w, http.StatusOK, statusResponse{Documents: docs})
}

// handleDelete handles DELETE /api/ingest/delete/{filename}. The stored
// file and its tracker record are removed and the response returns
// immediately; the index rebuild from the remaining uploads runs in the
// background. A rebuild failure is logged, not surfaced — the response has
// already been sent. An ingest of the same file already in flight may
// briefly re-register a record until the rebuild lands.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	name := filepath.Base(r.PathValue("filename"))
	if name == "" || name == "." {
		writeJSONError(w, "filename is required", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.cfg.UploadDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, tracked := s.svc.Tracker.Get(name); !tracked {
			writeJSONError(w, "document not found", http.StatusNotFound)
			return
		}
	} else if err := os.Remove(path); err != nil {
		log.Error("ingest: delete failed", slog.String("filename", name), slog.Any("error", err))
		writeJSONError(w, "failed to delete document", http.StatusInternalServerError)
		return
	}
	s.svc.Tracker.Delete(name)

	// The request context dies when the response is written, so the rebuild
	// runs detached on its own context.
	go func() {
		indexed, err := s.svc.Rebuilder.Rebuild(context.Background())
		if err != nil {
			s.log.Error("ingest: rebuild after delete failed",
				slog.String("filename", name),
				slog.Any("error", err),
			)
			return
		}
		s.log.Info("ingest: rebuild after delete complete",
			slog.String("filename", name),
			slog.Int("indexed", indexed),
		)
	}()

	log.Info("ingest: document deleted", slog.String("filename", name))
	writeJSON(w, http.StatusOK, deleteResponse{Status: "deleted", Filename: name})
}

// handleReset handles DELETE /api/ingest/reset. All uploads, tracker
// records, and the index itself are cleared.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	removed := 0
	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil && !os.IsNotExist(err) {
		log.Error("ingest: reset read dir failed", slog.Any("error", err))
		writeJSONError(w, "failed to clear uploads", http.StatusInternalServerError)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.UploadDir, entry.Name())); err != nil {
			log.Warn("ingest: reset remove failed",
				slog.String("filename", entry.Name()),
				slog.Any("error", err),
			)
			continue
		}
		removed++
	}

	s.svc.Tracker.Clear()

	if _, err := s.svc.Rebuilder.Rebuild(r.Context()); err != nil {
		log.Error("ingest: reset rebuild failed", slog.Any("error", err))
		writeJSONError(w, "uploads cleared but index reset failed", http.StatusInternalServerError)
		return
	}

	log.Info("ingest: reset complete", slog.Int("removed", removed))
	writeJSON(w, http.StatusOK, resetResponse{Status: "reset", Removed: removed})
}
