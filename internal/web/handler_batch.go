package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vbonduro/aptinv/internal/service"
	"github.com/vbonduro/aptinv/internal/upload"
)

const maxBatchFiles = 50

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUpload*maxBatchFiles + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: failed to parse form: %v", upload.ErrInvalidInput, err))
		return
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) > maxBatchFiles {
		s.writeError(w, r, fmt.Errorf("%w: at most %d images per batch", upload.ErrInvalidInput, maxBatchFiles))
		return
	}
	uploads := make([]service.Upload, 0, len(headers))
	for _, h := range headers {
		file, err := h.Open()
		if err != nil {
			s.writeError(w, r, fmt.Errorf("failed to open %s: %w", h.Filename, err))
			return
		}
		img, err := upload.Read(h.Filename, file, s.maxUpload)
		closeWithLog(file, "batch file", s.logger)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		uploads = append(uploads, service.Upload{Name: img.Name, Data: img.Data})
	}

	status, err := s.sessions.CreateBatch(uploads...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, status)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.BatchStatus(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleProcessBatch starts processing in the background and returns the
// current status; clients poll GET /batches/{id}. With ?wait=true it runs to
// completion and returns the run summary instead.
func (s *Server) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := s.sessions.BatchStatus(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		sum, err := s.sessions.ProcessBatch(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, sum)
		return
	}

	// Use a detached context so that processing runs to completion even if
	// the client disconnects.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		sum, err := s.sessions.ProcessBatch(ctx, id)
		if err != nil {
			s.logger.Error("batch processing failed", "job_id", id, "error", err)
			return
		}
		s.logger.Info("batch processing finished", "job_id", id,
			"succeeded", sum.Succeeded, "failed", sum.Failed, "dropped", sum.Dropped)
	}()
	s.writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleRetryFile(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.RetryFile(r.PathValue("id"), r.PathValue("fid")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.RemoveFile(r.PathValue("id"), r.PathValue("fid")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscardBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DiscardBatch(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
