// Package editor implements direct manipulation of annotation regions as an
// explicit state machine fed with pointer events, so gestures can be replayed
// without a real pointer device.
package editor

import (
	"errors"
	"fmt"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/geometry"
)

// Mode selects what a pointer-down on a region does.
type Mode string

const (
	ModeView Mode = "view"
	ModeEdit Mode = "edit"
	ModeDraw Mode = "draw"
	ModeCrop Mode = "crop"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeView, ModeEdit, ModeDraw, ModeCrop:
		return true
	}
	return false
}

// StateKind names the gesture in progress.
type StateKind string

const (
	StateIdle     StateKind = "idle"
	StateDrawing  StateKind = "drawing"
	StateDragging StateKind = "dragging"
	StateResizing StateKind = "resizing"
)

// State is the editor's gesture state. RegionID and Handle are set while
// dragging or resizing.
type State struct {
	Kind     StateKind `json:"kind"`
	RegionID string    `json:"regionId,omitempty"`
	Handle   Handle    `json:"handle,omitempty"`
}

// EventType is the pointer phase of an Event.
type EventType string

const (
	PointerDown EventType = "down"
	PointerMove EventType = "move"
	PointerUp   EventType = "up"
)

// Event is a pointer event in container pixels. RegionID and Handle name the
// element the pointer went down on; when RegionID is empty the editor hit
// tests the session's regions itself.
type Event struct {
	Type     EventType `json:"type"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	RegionID string    `json:"regionId,omitempty"`
	Handle   Handle    `json:"handle,omitempty"`
}

func (e Event) point() geometry.Point { return geometry.Point{X: e.X, Y: e.Y} }

// Outcome reports what an event did.
type Outcome struct {
	State State `json:"state"`
	// Region is the region written to the session, if any.
	Region  *annotation.Region `json:"region,omitempty"`
	Created bool               `json:"created,omitempty"`
	// Selected is set when a view-mode click toggled selection.
	Selected *bool `json:"selected,omitempty"`
	// CropRegionID is set when a crop-mode click asked for a crop.
	CropRegionID string `json:"cropRegionId,omitempty"`
}

// ErrUnknownEvent is returned for an Event with an unrecognized Type.
var ErrUnknownEvent = errors.New("unknown pointer event")

const (
	DefaultHandleTolerance = 8.0
	DefaultDrawLabel       = "Untitled item"
)

// Option configures an Editor.
type Option func(*Editor)

// WithOnChange registers fn to be called after every write to the session.
func WithOnChange(fn func(annotation.Region)) Option {
	return func(e *Editor) { e.onChange = fn }
}

// WithHandleTolerance sets how close, in container pixels, a pointer must be
// to a resize handle to grab it.
func WithHandleTolerance(px float64) Option {
	return func(e *Editor) { e.tolerance = px }
}

// WithDrawLabel sets the label given to newly drawn regions.
func WithDrawLabel(label string) Option {
	return func(e *Editor) { e.drawLabel = label }
}

// Editor drives gestures against one annotation session. It is not safe for
// concurrent use; callers serialize events per session.
type Editor struct {
	session   *annotation.Session
	container geometry.Rect
	mode      Mode
	tolerance float64
	drawLabel string
	onChange  func(annotation.Region)

	state     State
	path      []geometry.Point
	original  annotation.Region
	dragStart geometry.Point
	preview   *annotation.Region
}

// New returns an editor in view mode over session, with container as the
// on-screen viewport.
func New(session *annotation.Session, container geometry.Rect, opts ...Option) *Editor {
	e := &Editor{
		session:   session,
		container: container,
		mode:      ModeView,
		tolerance: DefaultHandleTolerance,
		drawLabel: DefaultDrawLabel,
		state:     State{Kind: StateIdle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Mode() Mode { return e.mode }

// SetMode switches modes, abandoning any gesture in progress.
func (e *Editor) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("unknown editor mode %q", m)
	}
	e.Cancel()
	e.mode = m
	return nil
}

func (e *Editor) Container() geometry.Rect { return e.container }

func (e *Editor) SetContainer(r geometry.Rect) { e.container = r }

func (e *Editor) State() State { return e.state }

// Preview returns the in-progress region while dragging or resizing.
func (e *Editor) Preview() (annotation.Region, bool) {
	if e.preview == nil {
		return annotation.Region{}, false
	}
	return *e.preview, true
}

// Cancel abandons the current gesture without touching the session.
func (e *Editor) Cancel() {
	e.state = State{Kind: StateIdle}
	e.path = nil
	e.preview = nil
}

// Handle feeds one pointer event through the state machine.
func (e *Editor) Handle(ev Event) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch ev.Type {
	case PointerDown:
		out, err = e.down(ev)
	case PointerMove:
		e.move(ev)
	case PointerUp:
		out, err = e.up(ev)
	default:
		return Outcome{State: e.state}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	out.State = e.state
	return out, err
}

func (e *Editor) down(ev Event) (Outcome, error) {
	if e.state.Kind != StateIdle {
		return Outcome{}, nil
	}
	if e.mode == ModeDraw {
		e.state = State{Kind: StateDrawing}
		e.path = []geometry.Point{ev.point()}
		return Outcome{}, nil
	}

	id, handle, ok := e.target(ev)
	if !ok {
		return Outcome{}, nil
	}
	region, ok := e.session.Region(id)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", annotation.ErrRegionNotFound, id)
	}
	if region.Status == annotation.StatusRejected {
		return Outcome{}, nil
	}

	switch e.mode {
	case ModeView:
		on, err := e.session.ToggleSelection(id)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Selected: &on}, nil
	case ModeCrop:
		return Outcome{CropRegionID: id}, nil
	case ModeEdit:
		e.original = region
		e.dragStart = ev.point()
		preview := region
		e.preview = &preview
		if handle == HandleMove {
			e.state = State{Kind: StateDragging, RegionID: id}
		} else {
			e.state = State{Kind: StateResizing, RegionID: id, Handle: handle}
		}
	}
	return Outcome{}, nil
}

func (e *Editor) move(ev Event) {
	switch e.state.Kind {
	case StateDrawing:
		e.path = append(e.path, ev.point())
	case StateDragging, StateResizing:
		preview := e.original.WithBox(e.boxAt(ev.point()))
		e.preview = &preview
	}
}

func (e *Editor) up(ev Event) (Outcome, error) {
	switch e.state.Kind {
	case StateDrawing:
		path := e.path
		e.Cancel()
		return e.finishDraw(path)
	case StateDragging, StateResizing:
		final := e.original.WithBox(e.boxAt(ev.point()))
		e.Cancel()
		if err := e.session.ReplaceRegion(final); err != nil {
			return Outcome{}, err
		}
		e.notify(final)
		return Outcome{Region: &final}, nil
	}
	return Outcome{}, nil
}

func (e *Editor) finishDraw(path []geometry.Point) (Outcome, error) {
	if len(path) < 2 {
		return Outcome{}, nil
	}
	lo, hi, _ := geometry.BoundingBox(path)
	view := e.session.View()
	a := geometry.ScreenToNormalized(lo, e.container, view)
	b := geometry.ScreenToNormalized(hi, e.container, view)
	region := e.session.AddRegion(annotation.Region{
		Box:    geometry.ClampBox(a.X, a.Y, b.X-a.X, b.Y-a.Y),
		Label:  e.drawLabel,
		Status: annotation.StatusEdited,
	})
	e.notify(region)
	return Outcome{Region: &region, Created: true}, nil
}

// boxAt computes the gesture's box for the pointer at p.
func (e *Editor) boxAt(p geometry.Point) geometry.Box {
	delta := geometry.ScreenDelta(e.dragStart, p, e.container, e.session.View())
	if e.state.Kind == StateDragging {
		return Move(e.original.Box, delta)
	}
	return Resize(e.original.Box, e.state.Handle, delta)
}

func (e *Editor) target(ev Event) (string, Handle, bool) {
	if ev.RegionID != "" {
		h := ev.Handle
		if !h.Valid() {
			h = HandleMove
		}
		return ev.RegionID, h, true
	}
	return HitTest(e.session.Regions(), ev.point(), e.container, e.session.View(), e.tolerance, e.mode == ModeEdit)
}

func (e *Editor) notify(r annotation.Region) {
	if e.onChange != nil {
		e.onChange(r)
	}
}
