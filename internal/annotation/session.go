package annotation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vbonduro/aptinv/internal/geometry"
)

var (
	ErrRegionNotFound = errors.New("region not found")
	// ErrStale is returned when an async result arrives for a session that
	// was discarded or re-analyzed after the call started.
	ErrStale = errors.New("stale session result")

	ErrEmptyLabel = errors.New("label must not be empty")
	ErrRejected   = errors.New("region was rejected")
)

type SelectionMode string

const (
	SelectSingle SelectionMode = "single"
	SelectMulti  SelectionMode = "multi"
)

// SourceImage is the photograph a session annotates.
type SourceImage struct {
	Name     string
	MimeType string
	Data     []byte
	Width    int
	Height   int
}

// Ticket tags an async call with the session identity it was started for.
type Ticket struct {
	SessionID  string
	Generation uint64
}

// Snapshot is an immutable view of a session suitable for rendering.
type Snapshot struct {
	ID            string        `json:"id"`
	SourceName    string        `json:"sourceName"`
	MimeType      string        `json:"mimeType"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Regions       []Region      `json:"regions"`
	SelectedIDs   []string      `json:"selectedIds"`
	HoveredID     string        `json:"hoveredId,omitempty"`
	View          geometry.View `json:"view"`
	SelectionMode SelectionMode `json:"selectionMode"`
}

// Session is the annotation state of one source image. Region slices are
// copy-on-write: a slice handed to a caller is never modified afterwards.
type Session struct {
	id     string
	source SourceImage
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	regions       []Region
	selected      []string
	hovered       string
	view          geometry.View
	selectionMode SelectionMode
	detections    map[string]Detection
	priorStatus   map[string]Status
	generation    uint64
	discarded     bool
}

func NewSession(source SourceImage, mode SelectionMode) *Session {
	if mode != SelectSingle {
		mode = SelectMulti
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:            uuid.NewString(),
		source:        source,
		ctx:           ctx,
		cancel:        cancel,
		view:          geometry.IdentityView,
		selectionMode: mode,
		detections:    make(map[string]Detection),
		priorStatus:   make(map[string]Status),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Source() SourceImage { return s.source }

// Context is cancelled when the session is discarded.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:            s.id,
		SourceName:    s.source.Name,
		MimeType:      s.source.MimeType,
		Width:         s.source.Width,
		Height:        s.source.Height,
		Regions:       s.regions,
		SelectedIDs:   slices.Clone(s.selected),
		HoveredID:     s.hovered,
		View:          s.view,
		SelectionMode: s.selectionMode,
	}
}

// Regions returns the current region slice. It must not be modified.
func (s *Session) Regions() []Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions
}

func (s *Session) Region(id string) (Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return Region{}, false
	}
	return s.regions[i], true
}

// Detection returns the raw detection a region was minted from, if any.
func (s *Session) Detection(id string) (Detection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.detections[id]
	return d, ok
}

// Begin starts an async operation and returns the ticket its result must
// present to be applied.
func (s *Session) Begin() Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Ticket{SessionID: s.id, Generation: s.generation}
}

// Current reports whether t still matches the live session.
func (s *Session) Current(t Ticket) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked(t)
}

func (s *Session) currentLocked(t Ticket) bool {
	return !s.discarded && t.SessionID == s.id && t.Generation == s.generation
}

// Discard invalidates every outstanding ticket and cancels the session context.
func (s *Session) Discard() {
	s.mu.Lock()
	s.discarded = true
	s.generation++
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) Discarded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discarded
}

// ApplyDetections replaces the unselected, unedited detected regions with
// regions minted from detections. Edited and selected regions survive
// re-analysis untouched since they are keyed by ID, not position.
func (s *Session) ApplyDetections(t Ticket, detections []Detection) ([]Region, error) {
	regions := make([]Region, 0, len(detections))
	for _, d := range detections {
		regions = append(regions, RegionFromDetection(d, s.id))
	}
	return s.apply(t, regions, detections)
}

// AdoptRegions is ApplyDetections for detected regions minted elsewhere, such
// as a batch job. The region IDs are kept so both places name the same item.
func (s *Session) AdoptRegions(t Ticket, regions []Region) ([]Region, error) {
	adopted := make([]Region, 0, len(regions))
	dets := make([]Detection, 0, len(regions))
	for _, r := range regions {
		if r.ID == "" {
			r.ID = NewID()
		}
		r.SourceImageRef = s.id
		r.Status = StatusDetected
		adopted = append(adopted, r)
		dets = append(dets, Detection{
			Box:         r.Box,
			Label:       r.Label,
			Category:    r.Category,
			Description: r.Description,
			Confidence:  r.Confidence,
		})
	}
	return s.apply(t, adopted, dets)
}

func (s *Session) apply(t Ticket, added []Region, detections []Detection) ([]Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(t) {
		return nil, ErrStale
	}
	// A new analysis supersedes any other outstanding one.
	s.generation++

	next := make([]Region, 0, len(s.regions)+len(added))
	for _, r := range s.regions {
		if (r.Status == StatusDetected || r.Status == StatusRejected) && !slices.Contains(s.selected, r.ID) {
			delete(s.detections, r.ID)
			delete(s.priorStatus, r.ID)
			if s.hovered == r.ID {
				s.hovered = ""
			}
			continue
		}
		next = append(next, r)
	}
	for i, r := range added {
		s.detections[r.ID] = detections[i]
	}
	s.regions = append(next, added...)
	return slices.Clone(added), nil
}

// AddRegion appends r. A zero ID is replaced with a fresh one.
func (s *Session) AddRegion(r Region) Region {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.SourceImageRef == "" {
		r.SourceImageRef = s.id
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Region, len(s.regions), len(s.regions)+1)
	copy(next, s.regions)
	s.regions = append(next, r)
	return r
}

// ReplaceRegion swaps the region with r.ID for r as a whole.
func (s *Session) ReplaceRegion(r Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(r.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, r.ID)
	}
	if r.Box != s.regions[i].Box {
		s.markEditedLocked(&r)
	}
	s.setLocked(i, r)
	return nil
}

// markEditedLocked records a user edit on r. A selected region keeps its
// status and falls back to edited once deselected.
func (s *Session) markEditedLocked(r *Region) {
	switch {
	case slices.Contains(s.selected, r.ID):
		s.priorStatus[r.ID] = StatusEdited
	case r.Status != StatusRejected:
		r.Status = StatusEdited
	}
}

// RemoveRegions drops the regions from the region list, the selection, the
// hover state and the detection cache.
func (s *Session) RemoveRegions(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		if !slices.Contains(ids, r.ID) {
			next = append(next, r)
		}
	}
	s.regions = next
	s.selected = slices.DeleteFunc(slices.Clone(s.selected), func(id string) bool {
		return slices.Contains(ids, id)
	})
	for _, id := range ids {
		delete(s.detections, id)
		delete(s.priorStatus, id)
		if s.hovered == id {
			s.hovered = ""
		}
	}
}

// ToggleSelection flips id's membership in the selection. In single mode
// selecting a region clears the previous one. It returns the new membership.
func (s *Session) ToggleSelection(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return false, fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}
	if slices.Contains(s.selected, id) {
		s.deselectLocked(id)
		return false, nil
	}
	return true, s.selectLocked(id)
}

// Select adds id to the selection.
func (s *Session) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}
	if slices.Contains(s.selected, id) {
		return nil
	}
	return s.selectLocked(id)
}

func (s *Session) Deselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deselectLocked(id)
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range slices.Clone(s.selected) {
		s.deselectLocked(id)
	}
}

func (s *Session) selectLocked(id string) error {
	i := s.indexOf(id)
	r := s.regions[i]
	if r.Status == StatusRejected {
		return fmt.Errorf("%w: %s", ErrRejected, id)
	}
	if s.selectionMode == SelectSingle {
		for _, prev := range slices.Clone(s.selected) {
			s.deselectLocked(prev)
		}
	}
	s.priorStatus[id] = r.Status
	r.Status = StatusSelected
	s.setLocked(i, r)
	s.selected = append(slices.Clone(s.selected), id)
	return nil
}

func (s *Session) deselectLocked(id string) {
	if !slices.Contains(s.selected, id) {
		return
	}
	s.selected = slices.DeleteFunc(slices.Clone(s.selected), func(v string) bool { return v == id })
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	r := s.regions[i]
	prior, ok := s.priorStatus[id]
	if !ok {
		prior = StatusEdited
	}
	delete(s.priorStatus, id)
	r.Status = prior
	r.CommitError = ""
	s.setLocked(i, r)
}

// SelectedIDs returns the selection in the order regions were selected.
func (s *Session) SelectedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.selected)
}

// Selected returns the selected regions in selection order.
func (s *Session) Selected() []Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Region, 0, len(s.selected))
	for _, id := range s.selected {
		if i := s.indexOf(id); i >= 0 {
			out = append(out, s.regions[i])
		}
	}
	return out
}

// Reject marks id as rejected and drops it from the selection.
func (s *Session) Reject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}
	s.deselectLocked(id)
	i := s.indexOf(id)
	r := s.regions[i]
	r.Status = StatusRejected
	s.setLocked(i, r)
	return nil
}

// MarkCommitFailed records msg as the region's error indicator. The region
// keeps its selection.
func (s *Session) MarkCommitFailed(id, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}
	r := s.regions[i]
	r.CommitError = msg
	s.setLocked(i, r)
	return nil
}

// Relabel replaces the user-facing label and category of id. An empty
// category leaves the current one. A relabel counts as an edit, so the region survives
// re-analysis.
func (s *Session) Relabel(id, label, category string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return ErrEmptyLabel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRegionNotFound, id)
	}
	r := s.regions[i]
	r.Label = label
	if category = strings.TrimSpace(category); category != "" {
		r.Category = category
	}
	s.markEditedLocked(&r)
	s.setLocked(i, r)
	return nil
}

func (s *Session) SetHovered(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" && s.indexOf(id) < 0 {
		return
	}
	s.hovered = id
}

func (s *Session) View() geometry.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

func (s *Session) SetView(v geometry.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v.Normalize()
}

func (s *Session) SelectionMode() SelectionMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectionMode
}

// SetSelectionMode switches modes. Moving to single keeps only the most
// recently selected region.
func (s *Session) SetSelectionMode(m SelectionMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m != SelectSingle {
		m = SelectMulti
	}
	s.selectionMode = m
	if m == SelectSingle && len(s.selected) > 1 {
		for _, id := range slices.Clone(s.selected[:len(s.selected)-1]) {
			s.deselectLocked(id)
		}
	}
}

func (s *Session) indexOf(id string) int {
	return slices.IndexFunc(s.regions, func(r Region) bool { return r.ID == id })
}

// setLocked replaces regions[i] on a fresh copy of the slice.
func (s *Session) setLocked(i int, r Region) {
	next := slices.Clone(s.regions)
	next[i] = r
	s.regions = next
}
