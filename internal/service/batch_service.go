package service

import (
	"context"
	"fmt"

	"github.com/vbonduro/aptinv/internal/batch"
	"github.com/vbonduro/aptinv/internal/upload"
)

// Upload is one file submitted for a batch.
type Upload struct {
	Name string
	Data []byte
}

type BatchFile struct {
	batch.File
	SessionID string `json:"sessionId,omitempty"`
}

type BatchStatus struct {
	ID       string         `json:"id"`
	Files    []BatchFile    `json:"files"`
	Progress batch.Progress `json:"progress"`
	Fraction float64        `json:"fraction"`
}

// CreateBatch validates every upload and queues them as pending files. One
// invalid file rejects the whole request.
func (s *Service) CreateBatch(uploads ...Upload) (BatchStatus, error) {
	images := make([]upload.Image, 0, len(uploads))
	for _, u := range uploads {
		img, err := upload.Validate(u.Name, u.Data, s.cfg.MaxUploadBytes)
		if err != nil {
			return BatchStatus{}, err
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return BatchStatus{}, fmt.Errorf("%w: no images", upload.ErrInvalidInput)
	}

	job := batch.NewJob(images...)
	s.mu.Lock()
	s.jobs[job.ID()] = job
	s.mu.Unlock()

	s.logger.Info("batch created", "job_id", job.ID(), "files", len(images))
	return s.status(job), nil
}

func (s *Service) job(id string) (*batch.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return job, nil
}

func (s *Service) BatchStatus(id string) (BatchStatus, error) {
	job, err := s.job(id)
	if err != nil {
		return BatchStatus{}, err
	}
	return s.status(job), nil
}

func (s *Service) status(job *batch.Job) BatchStatus {
	files := job.Files()
	out := BatchStatus{
		ID:       job.ID(),
		Files:    make([]BatchFile, len(files)),
		Progress: job.Progress(),
	}
	out.Fraction = out.Progress.Fraction()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, f := range files {
		out.Files[i] = BatchFile{File: f, SessionID: s.byFile[f.ID]}
	}
	return out
}

// ProcessBatch runs the batch's pending files through detection one at a
// time. Each completed file gets an annotation session holding its regions.
func (s *Service) ProcessBatch(ctx context.Context, id string) (batch.Summary, error) {
	job, err := s.job(id)
	if err != nil {
		return batch.Summary{}, err
	}
	return s.orchestrator.ProcessAll(ctx, job)
}

// openFromBatch opens, or refreshes, the session of a completed batch file.
func (s *Service) openFromBatch(_ context.Context, job *batch.Job, f batch.File) {
	if f.Status != batch.StatusComplete {
		return
	}

	s.mu.RLock()
	sessionID, ok := s.byFile[f.ID]
	existing := s.sessions[sessionID]
	s.mu.RUnlock()

	if ok && existing != nil {
		if _, err := existing.session.AdoptRegions(existing.session.Begin(), f.Regions); err != nil {
			s.logger.Warn("failed to refresh batch session", "job_id", job.ID(), "file_id", f.ID, "error", err)
		}
		return
	}

	img, ok := job.Image(f.ID)
	if !ok {
		return
	}
	sess, err := s.newSession(img)
	if err != nil {
		s.logger.Warn("failed to open session for batch file", "job_id", job.ID(), "file_id", f.ID, "error", err)
		return
	}
	if _, err := sess.AdoptRegions(sess.Begin(), f.Regions); err != nil {
		s.logger.Warn("failed to adopt batch regions", "job_id", job.ID(), "file_id", f.ID, "error", err)
		return
	}
	s.register(&openSession{session: sess, editor: s.newEditor(sess), jobID: job.ID(), fileID: f.ID})
	s.logger.Info("session opened from batch", "session_id", sess.ID(), "job_id", job.ID(), "file_id", f.ID)
}

// RetryFile queues a settled file again.
func (s *Service) RetryFile(id, fileID string) error {
	job, err := s.job(id)
	if err != nil {
		return err
	}
	return job.Retry(fileID)
}

// RemoveFile drops a file and the session opened from it.
func (s *Service) RemoveFile(id, fileID string) error {
	job, err := s.job(id)
	if err != nil {
		return err
	}
	if err := job.Remove(fileID); err != nil {
		return err
	}
	s.mu.RLock()
	sessionID, ok := s.byFile[fileID]
	s.mu.RUnlock()
	if ok {
		return s.DiscardSession(sessionID)
	}
	return nil
}

// DiscardBatch clears the job and every session opened from it. Results
// still in flight are dropped on arrival.
func (s *Service) DiscardBatch(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	delete(s.jobs, id)
	var sessionIDs []string
	for sid, o := range s.sessions {
		if o.jobID == id {
			sessionIDs = append(sessionIDs, sid)
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}

	job.Discard()
	for _, sid := range sessionIDs {
		if err := s.DiscardSession(sid); err != nil {
			s.logger.Warn("failed to discard batch session", "job_id", id, "session_id", sid, "error", err)
		}
	}
	s.logger.Info("batch discarded", "job_id", id, "sessions", len(sessionIDs))
	return nil
}
