package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/batch"
	"github.com/vbonduro/aptinv/internal/commit"
	"github.com/vbonduro/aptinv/internal/editor"
	"github.com/vbonduro/aptinv/internal/geometry"
	"github.com/vbonduro/aptinv/internal/notify"
	"github.com/vbonduro/aptinv/internal/upload"
	"github.com/vbonduro/aptinv/internal/vision"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBatchNotFound   = errors.New("batch not found")
)

// committer is the subset of commit.Workflow that Service requires.
type committer interface {
	Commit(ctx context.Context, s *annotation.Session) commit.Report
	Forget(sessionID string)
}

// cropper is the subset of crop.Cropper that Service requires.
type cropper interface {
	Crop(ctx context.Context, src []byte, box geometry.Box) ([]byte, error)
}

type Config struct {
	MaxUploadBytes int64
	SelectionMode  annotation.SelectionMode
	CropMimeType   string
	// DrawLabel names regions drawn by hand. Empty keeps the editor default.
	DrawLabel string
	// HandleTolerance is the resize handle hit radius in container pixels.
	HandleTolerance float64
}

// openSession is one live annotation session with its editor. mu serializes
// editor events, since the editor holds gesture state between them.
type openSession struct {
	session *annotation.Session
	jobID   string
	fileID  string

	mu     sync.Mutex
	editor *editor.Editor
}

// Service owns every open annotation session and batch job. Each session is
// the single owner of its image's state; nothing is shared between sessions.
type Service struct {
	detector     vision.Detector
	workflow     committer
	cropper      cropper
	orchestrator *batch.Orchestrator
	notifier     notify.Notifier
	logger       *slog.Logger
	cfg          Config

	mu       sync.RWMutex
	sessions map[string]*openSession
	jobs     map[string]*batch.Job
	byFile   map[string]string // batch file ID -> session ID
}

func NewService(detector vision.Detector, workflow committer, crp cropper, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = upload.DefaultMaxBytes
	}
	if cfg.SelectionMode == "" {
		cfg.SelectionMode = annotation.SelectMulti
	}
	if cfg.CropMimeType == "" {
		cfg.CropMimeType = "image/jpeg"
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	s := &Service{
		detector: detector,
		workflow: workflow,
		cropper:  crp,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[string]*openSession),
		jobs:     make(map[string]*batch.Job),
		byFile:   make(map[string]string),
	}
	s.orchestrator = batch.NewOrchestrator(detector, logger,
		batch.WithNotifier(notifier),
		batch.WithOnSettled(s.openFromBatch),
	)
	return s
}

// OpenSession validates an uploaded image and starts an annotation session
// for it. Invalid input is rejected with upload.ErrInvalidInput before any
// collaborator is called.
func (s *Service) OpenSession(ctx context.Context, name string, data []byte) (annotation.Snapshot, error) {
	img, err := upload.Validate(name, data, s.cfg.MaxUploadBytes)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	sess, err := s.newSession(img)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	s.register(&openSession{session: sess, editor: s.newEditor(sess)})
	s.logger.Info("session opened", "session_id", sess.ID(), "name", name, "width", sess.Source().Width, "height", sess.Source().Height)
	return sess.Snapshot(), nil
}

func (s *Service) newSession(img upload.Image) (*annotation.Session, error) {
	// Dimensions are taken after EXIF orientation so they match what the
	// crop pipeline sees.
	decoded, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s cannot be decoded: %v", upload.ErrInvalidInput, img.Name, err)
	}
	b := decoded.Bounds()
	return annotation.NewSession(annotation.SourceImage{
		Name:     img.Name,
		MimeType: img.MimeType,
		Data:     img.Data,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, s.cfg.SelectionMode), nil
}

func (s *Service) newEditor(sess *annotation.Session) *editor.Editor {
	src := sess.Source()
	container := geometry.Rect{Width: float64(src.Width), Height: float64(src.Height)}
	opts := []editor.Option{editor.WithOnChange(func(r annotation.Region) {
		s.logger.Debug("region updated", "session_id", sess.ID(), "region_id", r.ID, "status", r.Status)
	})}
	if s.cfg.DrawLabel != "" {
		opts = append(opts, editor.WithDrawLabel(s.cfg.DrawLabel))
	}
	if s.cfg.HandleTolerance > 0 {
		opts = append(opts, editor.WithHandleTolerance(s.cfg.HandleTolerance))
	}
	return editor.New(sess, container, opts...)
}

func (s *Service) register(o *openSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[o.session.ID()] = o
	if o.fileID != "" {
		s.byFile[o.fileID] = o.session.ID()
	}
}

func (s *Service) get(id string) (*openSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return o, nil
}

func (s *Service) Session(id string) (annotation.Snapshot, error) {
	o, err := s.get(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	return o.session.Snapshot(), nil
}

// SessionImage returns the source image of a session.
func (s *Service) SessionImage(id string) (annotation.SourceImage, error) {
	o, err := s.get(id)
	if err != nil {
		return annotation.SourceImage{}, err
	}
	return o.session.Source(), nil
}

// DiscardSession destroys a session. Detection or commit calls still in
// flight for it are cancelled and their results dropped.
func (s *Service) DiscardSession(id string) error {
	s.mu.Lock()
	o, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		if o.fileID != "" {
			delete(s.byFile, o.fileID)
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	o.session.Discard()
	s.workflow.Forget(id)
	s.logger.Info("session discarded", "session_id", id)
	return nil
}

// sessionContext returns a context cancelled when either ctx or the session
// is done.
func sessionContext(ctx context.Context, sess *annotation.Session) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sess.Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Detect runs the detection collaborator on the session image and replaces
// its unconfirmed detections. It returns annotation.ErrStale when the session
// was discarded or re-analyzed while the call was in flight.
func (s *Service) Detect(ctx context.Context, id, hint string) (annotation.Snapshot, error) {
	o, err := s.get(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	ticket := o.session.Begin()
	src := o.session.Source()

	ctx, cancel := sessionContext(ctx, o.session)
	defer cancel()

	s.logger.Info("vision analysis started", "session_id", id)
	result, err := s.detector.Analyze(ctx, bytes.NewReader(src.Data), src.MimeType, hint)
	if err != nil {
		if !o.session.Current(ticket) {
			return annotation.Snapshot{}, annotation.ErrStale
		}
		s.logger.Error("vision analysis failed", "session_id", id, "error", err)
		s.notifier.Notify(ctx, notify.Error("Analysis failed", "%s: %v", src.Name, err))
		return annotation.Snapshot{}, fmt.Errorf("failed to analyze image: %w", err)
	}

	added, err := o.session.ApplyDetections(ticket, vision.Detections(result))
	if err != nil {
		s.logger.Info("dropped stale detection result", "session_id", id)
		return annotation.Snapshot{}, err
	}
	s.logger.Info("vision analysis complete", "session_id", id, "items_detected", len(added), "processing_time", result.ProcessingTime)
	return o.session.Snapshot(), nil
}

// ViewUpdate changes the display transform. A nil Container keeps the
// current one.
type ViewUpdate struct {
	View      geometry.View
	Container *geometry.Rect
}

func (s *Service) SetView(id string, u ViewUpdate) (annotation.Snapshot, error) {
	o, err := s.get(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if u.Container != nil {
		if u.Container.Width <= 0 || u.Container.Height <= 0 {
			return annotation.Snapshot{}, fmt.Errorf("%w: container must have a positive size", upload.ErrInvalidInput)
		}
		o.editor.SetContainer(*u.Container)
	}
	o.session.SetView(u.View)
	return o.session.Snapshot(), nil
}

// SetMode switches the editor mode and, when given, the selection mode.
func (s *Service) SetMode(id string, mode editor.Mode, selection annotation.SelectionMode) (annotation.Snapshot, error) {
	o, err := s.get(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if mode != "" {
		if err := o.editor.SetMode(mode); err != nil {
			return annotation.Snapshot{}, fmt.Errorf("%w: %v", upload.ErrInvalidInput, err)
		}
	}
	if selection != "" {
		o.session.SetSelectionMode(selection)
	}
	return o.session.Snapshot(), nil
}

// EventResult is the outcome of one pointer event plus the state to render.
type EventResult struct {
	Outcome  editor.Outcome      `json:"outcome"`
	Mode     editor.Mode         `json:"mode"`
	Preview  *annotation.Region  `json:"preview,omitempty"`
	Snapshot annotation.Snapshot `json:"session"`
}

// HandleEvents feeds pointer events to the session's editor in order. It
// stops at the first event the editor rejects.
func (s *Service) HandleEvents(id string, events ...editor.Event) (EventResult, error) {
	o, err := s.get(id)
	if err != nil {
		return EventResult{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	var res EventResult
	for _, ev := range events {
		out, err := o.editor.Handle(ev)
		if err != nil {
			return EventResult{}, fmt.Errorf("failed to handle %s event: %w", ev.Type, err)
		}
		res.Outcome = out
	}
	res.Mode = o.editor.Mode()
	if p, ok := o.editor.Preview(); ok {
		res.Preview = &p
	}
	res.Snapshot = o.session.Snapshot()
	return res, nil
}

// ToggleSelection flips selection of a region as a view-mode click would.
func (s *Service) ToggleSelection(id, regionID string) (bool, error) {
	o, err := s.get(id)
	if err != nil {
		return false, err
	}
	return o.session.ToggleSelection(regionID)
}

// ClearSelection deselects every region of a session.
func (s *Service) ClearSelection(id string) (annotation.Snapshot, error) {
	o, err := s.get(id)
	if err != nil {
		return annotation.Snapshot{}, err
	}
	o.session.ClearSelection()
	return o.session.Snapshot(), nil
}

func (s *Service) Reject(id, regionID string) error {
	o, err := s.get(id)
	if err != nil {
		return err
	}
	return o.session.Reject(regionID)
}

func (s *Service) Relabel(id, regionID, label, category string) (annotation.Region, error) {
	o, err := s.get(id)
	if err != nil {
		return annotation.Region{}, err
	}
	if err := o.session.Relabel(regionID, label, category); err != nil {
		return annotation.Region{}, err
	}
	r, _ := o.session.Region(regionID)
	return r, nil
}

// CropRegion renders the thumbnail a commit of regionID would store.
func (s *Service) CropRegion(ctx context.Context, id, regionID string) ([]byte, string, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, "", err
	}
	r, ok := o.session.Region(regionID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", annotation.ErrRegionNotFound, regionID)
	}
	data, err := s.cropper.Crop(ctx, o.session.Source().Data, r.Box)
	if err != nil {
		return nil, "", fmt.Errorf("failed to crop region: %w", err)
	}
	return data, s.cfg.CropMimeType, nil
}

// Commit submits the session's selected regions. Committed regions are also
// dropped from every batch result cache.
func (s *Service) Commit(ctx context.Context, id string) (commit.Report, error) {
	o, err := s.get(id)
	if err != nil {
		return commit.Report{}, err
	}
	ctx, cancel := sessionContext(ctx, o.session)
	defer cancel()

	report := s.workflow.Commit(ctx, o.session)

	if ids := report.SucceededIDs(); len(ids) > 0 {
		s.mu.RLock()
		for _, job := range s.jobs {
			job.RemoveRegions(ids...)
		}
		s.mu.RUnlock()
	}
	s.logger.Info("commit complete", "session_id", id,
		"succeeded", len(report.Succeeded), "failed", len(report.Failed), "skipped", len(report.Skipped))
	return report, nil
}
