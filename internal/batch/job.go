// Package batch runs a queue of source images through the detection
// collaborator one file at a time.
package batch

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/upload"
)

var (
	ErrFileNotFound = errors.New("batch file not found")
	ErrNotSettled   = errors.New("batch file has not settled")
	ErrDiscarded    = errors.New("batch job discarded")
	ErrRunning      = errors.New("batch job already processing")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

func (s Status) Settled() bool {
	return s == StatusComplete || s == StatusError
}

// File is a snapshot of one queued image. Regions is only set once the file
// completed and must not be modified.
type File struct {
	ID                 string              `json:"id"`
	Index              int                 `json:"index"`
	Name               string              `json:"name"`
	MimeType           string              `json:"mimeType"`
	Status             Status              `json:"status"`
	Regions            []annotation.Region `json:"regions,omitempty"`
	TotalItemsDetected int                 `json:"totalItemsDetected"`
	Error              string              `json:"error,omitempty"`
}

type entry struct {
	id      string
	image   upload.Image
	status  Status
	regions []annotation.Region
	total   int
	err     error
}

// Job is a batch of source images. Per-file state is keyed by file ID and
// kept in upload order.
type Job struct {
	id string

	mu         sync.Mutex
	files      []*entry
	generation uint64
	discarded  bool
	running    bool
}

func NewJob(images ...upload.Image) *Job {
	j := &Job{id: uuid.NewString()}
	j.Add(images...)
	return j
}

func (j *Job) ID() string { return j.id }

// Add queues images as pending files and returns their snapshots.
func (j *Job) Add(images ...upload.Image) []File {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]File, 0, len(images))
	for _, img := range images {
		e := &entry{id: uuid.NewString(), image: img, status: StatusPending}
		j.files = append(j.files, e)
		out = append(out, e.snapshot(len(j.files)-1))
	}
	return out
}

func (j *Job) Files() []File {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]File, len(j.files))
	for i, e := range j.files {
		out[i] = e.snapshot(i)
	}
	return out
}

func (j *Job) File(id string) (File, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	i := j.indexOf(id)
	if i < 0 {
		return File{}, false
	}
	return j.files[i].snapshot(i), true
}

// Image returns the source bytes of a file.
func (j *Job) Image(id string) (upload.Image, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	i := j.indexOf(id)
	if i < 0 {
		return upload.Image{}, false
	}
	return j.files[i].image, true
}

type Progress struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Running  int `json:"processing"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}

func (p Progress) Settled() int { return p.Complete + p.Failed }

// Fraction is settled/total, 0 for an empty job.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Settled()) / float64(p.Total)
}

func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := Progress{Total: len(j.files)}
	for _, e := range j.files {
		switch e.status {
		case StatusPending:
			p.Pending++
		case StatusProcessing:
			p.Running++
		case StatusComplete:
			p.Complete++
		case StatusError:
			p.Failed++
		}
	}
	return p
}

// Retry returns a settled file to pending so the next ProcessAll picks it up.
func (j *Job) Retry(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.discarded {
		return ErrDiscarded
	}
	i := j.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	e := j.files[i]
	if !e.status.Settled() {
		return fmt.Errorf("%w: %s is %s", ErrNotSettled, id, e.status)
	}
	e.status = StatusPending
	e.regions = nil
	e.total = 0
	e.err = nil
	return nil
}

// Remove drops a file. A detection in flight for it is discarded on arrival.
func (j *Job) Remove(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	i := j.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	j.files = slices.Delete(slices.Clone(j.files), i, i+1)
	return nil
}

// Discard clears the job and invalidates in-flight results.
func (j *Job) Discard() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.discarded = true
	j.generation++
	j.files = nil
}

func (j *Job) Discarded() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.discarded
}

// RemoveRegions drops committed regions from every file's result cache.
func (j *Job) RemoveRegions(ids ...string) {
	if len(ids) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.files {
		if len(e.regions) == 0 {
			continue
		}
		e.regions = slices.DeleteFunc(slices.Clone(e.regions), func(r annotation.Region) bool {
			return slices.Contains(ids, r.ID)
		})
	}
}

// claim is the identity a detection result must present to be recorded.
type claim struct {
	fileID     string
	generation uint64
	image      upload.Image
}

// next moves the first pending file to processing.
func (j *Job) next() (claim, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.discarded {
		return claim{}, false
	}
	for _, e := range j.files {
		if e.status == StatusPending {
			e.status = StatusProcessing
			return claim{fileID: e.id, generation: j.generation, image: e.image}, true
		}
	}
	return claim{}, false
}

// settle records the outcome of c. It reports false, and records nothing,
// when the file was removed or the job discarded while the call was in flight.
func (j *Job) settle(c claim, regions []annotation.Region, total int, err error) (File, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.discarded || c.generation != j.generation {
		return File{}, false
	}
	i := j.indexOf(c.fileID)
	if i < 0 || j.files[i].status != StatusProcessing {
		return File{}, false
	}
	e := j.files[i]
	if err != nil {
		e.status = StatusError
		e.err = err
	} else {
		e.status = StatusComplete
		e.regions = regions
		e.total = total
	}
	return e.snapshot(i), true
}

// release returns an interrupted file to pending.
func (j *Job) release(c claim) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i := j.indexOf(c.fileID); i >= 0 && j.files[i].status == StatusProcessing {
		j.files[i].status = StatusPending
	}
}

func (j *Job) start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.discarded {
		return ErrDiscarded
	}
	if j.running {
		return ErrRunning
	}
	j.running = true
	return nil
}

func (j *Job) stop() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

func (j *Job) indexOf(id string) int {
	return slices.IndexFunc(j.files, func(e *entry) bool { return e.id == id })
}

func (e *entry) snapshot(index int) File {
	f := File{
		ID:                 e.id,
		Index:              index,
		Name:               e.image.Name,
		MimeType:           e.image.MimeType,
		Status:             e.status,
		Regions:            e.regions,
		TotalItemsDetected: e.total,
	}
	if e.err != nil {
		f.Error = e.err.Error()
	}
	return f
}
