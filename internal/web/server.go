package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/batch"
	"github.com/vbonduro/aptinv/internal/editor"
	"github.com/vbonduro/aptinv/internal/inventory"
	"github.com/vbonduro/aptinv/internal/photostore"
	"github.com/vbonduro/aptinv/internal/service"
	"github.com/vbonduro/aptinv/internal/upload"
	"github.com/vbonduro/aptinv/internal/vision"
)

type Server struct {
	sessions  *service.Service
	inventory *inventory.Service
	maxUpload int64
	mux       *http.ServeMux
	logger    *slog.Logger
}

func NewServer(sessions *service.Service, inv *inventory.Service, maxUpload int64, logger *slog.Logger) *Server {
	if maxUpload <= 0 {
		maxUpload = upload.DefaultMaxBytes
	}
	s := &Server{
		sessions:  sessions,
		inventory: inv,
		maxUpload: maxUpload,
		mux:       http.NewServeMux(),
		logger:    logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /sessions", s.handleOpenSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDiscardSession)
	s.mux.HandleFunc("GET /sessions/{id}/image", s.handleSessionImage)
	s.mux.HandleFunc("POST /sessions/{id}/detect", s.handleDetect)
	s.mux.HandleFunc("PUT /sessions/{id}/view", s.handleSetView)
	s.mux.HandleFunc("PUT /sessions/{id}/mode", s.handleSetMode)
	s.mux.HandleFunc("POST /sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("POST /sessions/{id}/regions/{rid}/select", s.handleToggleSelect)
	s.mux.HandleFunc("DELETE /sessions/{id}/selection", s.handleClearSelection)
	s.mux.HandleFunc("POST /sessions/{id}/regions/{rid}/reject", s.handleReject)
	s.mux.HandleFunc("PATCH /sessions/{id}/regions/{rid}", s.handleRelabel)
	s.mux.HandleFunc("GET /sessions/{id}/regions/{rid}/crop", s.handleCrop)
	s.mux.HandleFunc("POST /sessions/{id}/commit", s.handleCommit)

	s.mux.HandleFunc("POST /batches", s.handleCreateBatch)
	s.mux.HandleFunc("GET /batches/{id}", s.handleGetBatch)
	s.mux.HandleFunc("DELETE /batches/{id}", s.handleDiscardBatch)
	s.mux.HandleFunc("POST /batches/{id}/process", s.handleProcessBatch)
	s.mux.HandleFunc("POST /batches/{id}/files/{fid}/retry", s.handleRetryFile)
	s.mux.HandleFunc("DELETE /batches/{id}/files/{fid}", s.handleRemoveFile)

	s.mux.HandleFunc("GET /items", s.handleListItems)
	s.mux.HandleFunc("GET /items/{id}", s.handleGetItem)
	s.mux.HandleFunc("GET /items/{id}/photo", s.handleItemPhoto)
	s.mux.HandleFunc("DELETE /items/{id}", s.handleDeleteItem)
}

// securityHeaders sets the security response headers for the JSON API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err onto a status code. Server-side failures are logged and
// reported with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, upload.ErrInvalidInput),
		errors.Is(err, annotation.ErrEmptyLabel),
		errors.Is(err, editor.ErrUnknownEvent):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrBatchNotFound),
		errors.Is(err, annotation.ErrRegionNotFound),
		errors.Is(err, batch.ErrFileNotFound),
		errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, photostore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, annotation.ErrStale),
		errors.Is(err, annotation.ErrRejected),
		errors.Is(err, batch.ErrNotSettled),
		errors.Is(err, batch.ErrRunning),
		errors.Is(err, batch.ErrDiscarded):
		return http.StatusConflict
	case errors.Is(err, vision.ErrUnreadableImage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vision.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a small JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Join(upload.ErrInvalidInput, err)
	}
	return nil
}

// parseID extracts the {id} path variable and returns it as int64.
func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.Join(upload.ErrInvalidInput, err)
	}
	return id, nil
}

func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
