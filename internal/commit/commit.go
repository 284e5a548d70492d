// Package commit turns the selected regions of an annotation session into
// inventory records.
package commit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/crop"
	"github.com/vbonduro/aptinv/internal/geometry"
	"github.com/vbonduro/aptinv/internal/notify"
)

// ErrDuplicateItem marks a region skipped because its label is already in
// the working set. It is reported, never returned.
var ErrDuplicateItem = errors.New("duplicate item")

// DefaultCondition is used when the workflow is not configured with one.
const DefaultCondition = "good"

// ItemFields is what the persistence collaborator receives. Photo is nil when
// no thumbnail could be produced.
type ItemFields struct {
	Name           string
	Description    string
	Category       string
	Condition      string
	Notes          string
	Photo          []byte
	SourceRegionID string
}

// CreateResult reports one submission. Ordinary rejection is Success=false
// with Error set, not a Go error.
type CreateResult struct {
	Success bool
	ID      string
	Error   string
}

type Persister interface {
	CreateInventoryItem(ctx context.Context, fields ItemFields) CreateResult
}

// LabelSource lists the names already in the inventory.
type LabelSource interface {
	ExistingLabels(ctx context.Context) ([]string, error)
}

type Cropper interface {
	Crop(ctx context.Context, src []byte, box geometry.Box) ([]byte, error)
}

// InventoryDraft is built per commit attempt and lives only for its duration.
type InventoryDraft struct {
	Label          string
	Category       string
	Description    string
	CroppedImage   []byte
	SourceRegionID string
}

type Outcome struct {
	RegionID string `json:"regionId"`
	Label    string `json:"label"`
	ItemID   string `json:"itemId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type Report struct {
	Succeeded     []Outcome             `json:"succeeded"`
	Failed        []Outcome             `json:"failed"`
	Skipped       []Outcome             `json:"skipped"`
	Notifications []notify.Notification `json:"notifications"`
}

// SucceededIDs returns the region IDs that were committed.
func (r Report) SucceededIDs() []string {
	ids := make([]string, len(r.Succeeded))
	for i, o := range r.Succeeded {
		ids[i] = o.RegionID
	}
	return ids
}

type Option func(*Workflow)

func WithLabelSource(src LabelSource) Option {
	return func(w *Workflow) { w.labels = src }
}

func WithNotifier(n notify.Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

func WithCondition(condition string) Option {
	return func(w *Workflow) {
		if condition != "" {
			w.condition = condition
		}
	}
}

type Workflow struct {
	persister Persister
	cropper   Cropper
	labels    LabelSource
	notifier  notify.Notifier
	logger    *slog.Logger
	condition string

	mu        sync.Mutex
	committed map[string]map[string]bool // session ID -> label keys
}

func NewWorkflow(persister Persister, cropper Cropper, logger *slog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		persister: persister,
		cropper:   cropper,
		notifier:  notify.Discard{},
		logger:    logger,
		condition: DefaultCondition,
		committed: make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Commit submits every selected region of s, in selection order. Each region
// is independent: a duplicate is skipped with a warning, a failed submission
// leaves the region selected with its CommitError set, and a success removes
// the region from the session. Nothing is rolled back across regions.
//
// A label is a duplicate when it matches an existing or earlier label after
// trimming surrounding whitespace, ignoring case.
func (w *Workflow) Commit(ctx context.Context, s *annotation.Session) Report {
	rec := notify.NewRecorder(w.notifier)
	var report Report

	selected := s.Selected()
	if len(selected) == 0 {
		rec.Notify(ctx, notify.Info("Nothing to commit", "select at least one item first"))
		report.Notifications = rec.Notifications()
		return report
	}

	working := w.workingSet(ctx, s.ID())
	src := s.Source()

	for _, r := range selected {
		if ctx.Err() != nil {
			break
		}
		key := labelKey(r.Label)
		out := Outcome{RegionID: r.ID, Label: r.Label}

		if working[key] {
			out.Error = ErrDuplicateItem.Error()
			report.Skipped = append(report.Skipped, out)
			rec.Notify(ctx, notify.Warning("Duplicate item", "%q is already in the inventory and was skipped", r.Label))
			continue
		}
		// Reserved before submitting so a later region with the same label
		// in this run is skipped.
		working[key] = true

		draft := InventoryDraft{
			Label:          strings.TrimSpace(r.Label),
			Category:       r.Category,
			Description:    r.Description,
			CroppedImage:   w.thumbnail(ctx, rec, src, r),
			SourceRegionID: r.ID,
		}
		res := w.persister.CreateInventoryItem(ctx, w.fields(s, draft))

		if s.Discarded() {
			// The session is gone; the record exists but there is nothing
			// left to update.
			w.logger.Info("commit result for discarded session", "session_id", s.ID(), "region_id", r.ID, "success", res.Success)
			break
		}

		if !res.Success {
			delete(working, key)
			out.Error = res.Error
			if out.Error == "" {
				out.Error = "unknown error"
			}
			if err := s.MarkCommitFailed(r.ID, out.Error); err != nil {
				w.logger.Warn("failed to mark commit failure", "session_id", s.ID(), "region_id", r.ID, "error", err)
			}
			report.Failed = append(report.Failed, out)
			w.logger.Error("commit item failed", "session_id", s.ID(), "region_id", r.ID, "error", out.Error)
			rec.Notify(ctx, notify.Error("Commit failed", "%s: %s", r.Label, out.Error))
			continue
		}

		out.ItemID = res.ID
		w.remember(s.ID(), key)
		s.RemoveRegions(r.ID)
		report.Succeeded = append(report.Succeeded, out)
		w.logger.Info("committed item", "session_id", s.ID(), "region_id", r.ID, "item_id", res.ID)
	}

	n := notify.Success("Commit finished", "%d added, %d failed, %d skipped",
		len(report.Succeeded), len(report.Failed), len(report.Skipped))
	if len(report.Failed) > 0 {
		n.Severity = notify.SeverityWarning
	}
	rec.Notify(ctx, n)
	report.Notifications = rec.Notifications()
	return report
}

// Forget drops the labels remembered for a session.
func (w *Workflow) Forget(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.committed, sessionID)
}

func (w *Workflow) thumbnail(ctx context.Context, rec *notify.Recorder, src annotation.SourceImage, r annotation.Region) []byte {
	if w.cropper == nil {
		return nil
	}
	thumb, err := w.cropper.Crop(ctx, src.Data, r.Box)
	if err != nil {
		w.logger.Warn("crop failed, committing without thumbnail", "region_id", r.ID, "error", err)
		if errors.Is(err, crop.ErrDecodeFailure) {
			rec.Notify(ctx, notify.Warning("No thumbnail", "%s was saved without a photo because the source image could not be decoded", r.Label))
		}
		return nil
	}
	return thumb
}

func (w *Workflow) fields(s *annotation.Session, d InventoryDraft) ItemFields {
	var notes string
	if det, ok := s.Detection(d.SourceRegionID); ok {
		notes = formatMetadata(det.Metadata)
	}
	return ItemFields{
		Name:           d.Label,
		Description:    d.Description,
		Category:       d.Category,
		Condition:      w.condition,
		Notes:          notes,
		Photo:          d.CroppedImage,
		SourceRegionID: d.SourceRegionID,
	}
}

// workingSet is the labels committed in this session plus the names already
// in the inventory. The returned map is the caller's to modify.
func (w *Workflow) workingSet(ctx context.Context, sessionID string) map[string]bool {
	w.mu.Lock()
	set := maps.Clone(w.committed[sessionID])
	w.mu.Unlock()
	if set == nil {
		set = make(map[string]bool)
	}
	if w.labels == nil {
		return set
	}
	existing, err := w.labels.ExistingLabels(ctx)
	if err != nil {
		w.logger.Warn("failed to load existing labels", "error", err)
		return set
	}
	for _, l := range existing {
		set[labelKey(l)] = true
	}
	return set
}

func (w *Workflow) remember(sessionID, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed[sessionID] == nil {
		w.committed[sessionID] = make(map[string]bool)
	}
	w.committed[sessionID][key] = true
}

// labelKey is the dedup key: trimmed and case-folded.
func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(md))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+md[k])
	}
	return strings.Join(parts, "; ")
}
