package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/studyrag/studyrag-go/internal/extract"
	"github.com/studyrag/studyrag-go/internal/logging"
	"github.com/studyrag/studyrag-go/internal/syllabus"
)

// handleSyllabusUpload handles POST /api/syllabus/upload. The document is
// parsed in-line (syllabi are small) and becomes the active syllabus used
// to steer retrieval for subsequent QA requests. The previous syllabus, if
// any, is replaced.
func (s *Server) handleSyllabusUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "file exceeds the upload size limit", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "multipart form field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !extract.SupportedExt(ext) {
		writeJSONError(w, "only .pdf and .docx files are supported", http.StatusBadRequest)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		log.Error("syllabus: read failed", slog.Any("error", err))
		writeJSONError(w, "failed to read upload", http.StatusInternalServerError)
		return
	}

	doc, err := s.svc.Docs.ExtractBytes(r.Context(), content, ext)
	if err != nil {
		log.Warn("syllabus: extraction failed",
			slog.String("filename", header.Filename),
			slog.Any("error", err),
		)
		writeJSONError(w, "could not extract text from the document", http.StatusUnprocessableEntity)
		return
	}

	parsed, err := s.svc.Parser.Parse(doc)
	if err != nil {
		if errors.Is(err, syllabus.ErrNoContent) {
			writeJSONError(w, "document contains no readable syllabus text", http.StatusUnprocessableEntity)
			return
		}
		log.Error("syllabus: parse failed", slog.Any("error", err))
		writeJSONError(w, "failed to parse syllabus", http.StatusInternalServerError)
		return
	}

	s.sylMu.Lock()
	s.syl = parsed
	s.sylMu.Unlock()

	log.Info("syllabus: loaded",
		slog.String("subject", parsed.Subject),
		slog.Int("units", len(parsed.Units)),
	)
	writeJSON(w, http.StatusOK, syllabusResponse{
		Subject: parsed.Subject,
		Units:   parsed.Units,
	})
}
