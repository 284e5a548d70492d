package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/editor"
	"github.com/vbonduro/aptinv/internal/geometry"
	"github.com/vbonduro/aptinv/internal/service"
	"github.com/vbonduro/aptinv/internal/upload"
)

// multipartOverhead is headroom for form boundaries and other fields.
const multipartOverhead = 1 << 20

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUpload + multipartOverhead); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: failed to parse form: %v", upload.ErrInvalidInput, err))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: image file required", upload.ErrInvalidInput))
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	img, err := upload.Read(header.Filename, file, s.maxUpload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.sessions.OpenSession(r.Context(), img.Name, img.Data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.Session(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DiscardSession(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionImage(w http.ResponseWriter, r *http.Request) {
	src, err := s.sessions.SessionImage(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", src.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(src.Data)))
	if _, err := w.Write(src.Data); err != nil {
		s.logger.Error("failed to write session image", "session_id", r.PathValue("id"), "error", err)
	}
}

type detectRequest struct {
	Hint string `json:"hint"`
}

// handleDetect runs detection synchronously. An empty body means no hint.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	snap, err := s.sessions.Detect(r.Context(), r.PathValue("id"), req.Hint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type viewRequest struct {
	Zoom      float64        `json:"zoom"`
	PanX      float64        `json:"panX"`
	PanY      float64        `json:"panY"`
	Container *geometry.Rect `json:"container,omitempty"`
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.sessions.SetView(r.PathValue("id"), service.ViewUpdate{
		View:      geometry.View{Zoom: req.Zoom, PanX: req.PanX, PanY: req.PanY},
		Container: req.Container,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type modeRequest struct {
	Mode          editor.Mode              `json:"mode"`
	SelectionMode annotation.SelectionMode `json:"selectionMode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	switch req.SelectionMode {
	case "", annotation.SelectSingle, annotation.SelectMulti:
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown selection mode %q", upload.ErrInvalidInput, req.SelectionMode))
		return
	}
	snap, err := s.sessions.SetMode(r.PathValue("id"), req.Mode, req.SelectionMode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

type eventsRequest struct {
	Events []editor.Event `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req eventsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Events) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: no events", upload.ErrInvalidInput))
		return
	}
	res, err := s.sessions.HandleEvents(r.PathValue("id"), req.Events...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToggleSelect(w http.ResponseWriter, r *http.Request) {
	selected, err := s.sessions.ToggleSelection(r.PathValue("id"), r.PathValue("rid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"selected": selected})
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.ClearSelection(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reject(r.PathValue("id"), r.PathValue("rid")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type relabelRequest struct {
	Label    string `json:"label"`
	Category string `json:"category"`
}

func (s *Server) handleRelabel(w http.ResponseWriter, r *http.Request) {
	var req relabelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	region, err := s.sessions.Relabel(r.PathValue("id"), r.PathValue("rid"), req.Label, req.Category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, region)
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := s.sessions.CropRegion(r.Context(), r.PathValue("id"), r.PathValue("rid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write crop", "session_id", r.PathValue("id"), "error", err)
	}
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	report, err := s.sessions.Commit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
