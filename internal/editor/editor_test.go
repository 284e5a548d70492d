package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/geometry"
)

// container is a 400x300 viewport at the page origin.
var container = geometry.Rect{Width: 400, Height: 300}

func newTestEditor(t *testing.T, boxes ...geometry.Box) (*Editor, *annotation.Session, []annotation.Region) {
	t.Helper()
	s := annotation.NewSession(annotation.SourceImage{Name: "kitchen.jpg", Width: 800, Height: 600}, annotation.SelectMulti)
	dets := make([]annotation.Detection, 0, len(boxes))
	for _, b := range boxes {
		dets = append(dets, annotation.Detection{Box: b, Label: "Kettle"})
	}
	added, err := s.ApplyDetections(s.Begin(), dets)
	require.NoError(t, err)
	return New(s, container), s, added
}

func feed(t *testing.T, e *Editor, events ...Event) Outcome {
	t.Helper()
	var out Outcome
	for _, ev := range events {
		var err error
		out, err = e.Handle(ev)
		require.NoError(t, err)
	}
	return out
}

func TestDrawCreatesEditedRegion(t *testing.T) {
	e, s, _ := newTestEditor(t)
	require.NoError(t, e.SetMode(ModeDraw))
	var notified []annotation.Region
	e.onChange = func(r annotation.Region) { notified = append(notified, r) }

	out := feed(t, e,
		Event{Type: PointerDown, X: 100, Y: 60},
		Event{Type: PointerMove, X: 40, Y: 90},
		Event{Type: PointerMove, X: 200, Y: 150},
		Event{Type: PointerUp, X: 200, Y: 150},
	)

	require.NotNil(t, out.Region)
	assert.True(t, out.Created)
	assert.Equal(t, annotation.StatusEdited, out.Region.Status)
	assert.InDelta(t, 0.1, out.Region.Box.X, 1e-9)
	assert.InDelta(t, 0.2, out.Region.Box.Y, 1e-9)
	assert.InDelta(t, 0.4, out.Region.Box.Width, 1e-9)
	assert.InDelta(t, 0.3, out.Region.Box.Height, 1e-9)
	assert.Equal(t, StateIdle, out.State.Kind)
	require.Len(t, s.Regions(), 1)
	assert.Equal(t, out.Region.ID, s.Regions()[0].ID)
	assert.Len(t, notified, 1)
}

func TestDrawWithSinglePointAborts(t *testing.T) {
	e, s, _ := newTestEditor(t)
	require.NoError(t, e.SetMode(ModeDraw))

	out := feed(t, e,
		Event{Type: PointerDown, X: 100, Y: 100},
		Event{Type: PointerUp, X: 100, Y: 100},
	)

	assert.Nil(t, out.Region)
	assert.Empty(t, s.Regions())
	assert.Equal(t, StateIdle, e.State().Kind)
}

func TestDrawRespectsZoomAndPan(t *testing.T) {
	e, s, _ := newTestEditor(t)
	s.SetView(geometry.View{Zoom: 2, PanX: -400, PanY: -300})
	require.NoError(t, e.SetMode(ModeDraw))

	out := feed(t, e,
		Event{Type: PointerDown, X: 0, Y: 0},
		Event{Type: PointerMove, X: 400, Y: 300},
		Event{Type: PointerUp, X: 400, Y: 300},
	)

	// The viewport shows the bottom-right quarter of the image.
	require.NotNil(t, out.Region)
	assert.InDelta(t, 0.5, out.Region.Box.X, 1e-9)
	assert.InDelta(t, 0.5, out.Region.Box.Y, 1e-9)
	assert.InDelta(t, 0.5, out.Region.Box.Width, 1e-9)
	assert.InDelta(t, 0.5, out.Region.Box.Height, 1e-9)
}

func TestDragMovesWithoutResizing(t *testing.T) {
	e, s, added := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.25, Height: 0.25})
	require.NoError(t, e.SetMode(ModeEdit))
	id := added[0].ID

	feed(t, e,
		Event{Type: PointerDown, X: 150, Y: 110, RegionID: id, Handle: HandleMove},
		Event{Type: PointerMove, X: 190, Y: 140},
	)

	assert.Equal(t, State{Kind: StateDragging, RegionID: id}, e.State())
	preview, ok := e.Preview()
	require.True(t, ok)
	assert.InDelta(t, 0.35, preview.Box.X, 1e-9)
	assert.InDelta(t, 0.35, preview.Box.Y, 1e-9)
	// Nothing is written until release.
	stored, _ := s.Region(id)
	assert.Equal(t, added[0].Box, stored.Box)

	out := feed(t, e, Event{Type: PointerUp, X: 190, Y: 140})

	require.NotNil(t, out.Region)
	stored, _ = s.Region(id)
	assert.InDelta(t, 0.35, stored.Box.X, 1e-9)
	assert.InDelta(t, 0.35, stored.Box.Y, 1e-9)
	assert.Equal(t, 0.25, stored.Box.Width)
	assert.Equal(t, 0.25, stored.Box.Height)
	assert.Equal(t, annotation.StatusEdited, stored.Status)
	_, ok = e.Preview()
	assert.False(t, ok)
}

func TestDragSelectedRegionIsKeptAfterDeselect(t *testing.T) {
	e, s, added := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.25, Height: 0.25})
	id := added[0].ID
	require.NoError(t, s.Select(id))
	require.NoError(t, e.SetMode(ModeEdit))

	feed(t, e,
		Event{Type: PointerDown, X: 150, Y: 110, RegionID: id, Handle: HandleMove},
		Event{Type: PointerMove, X: 190, Y: 140},
		Event{Type: PointerUp, X: 190, Y: 140},
	)
	s.Deselect(id)

	stored, _ := s.Region(id)
	assert.Equal(t, annotation.StatusEdited, stored.Status)
	_, err := s.ApplyDetections(s.Begin(), nil)
	require.NoError(t, err)
	_, ok := s.Region(id)
	assert.True(t, ok)
}

func TestRejectedRegionIgnoresPointer(t *testing.T) {
	e, s, added := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.25, Height: 0.25})
	id := added[0].ID
	require.NoError(t, s.Reject(id))

	out := feed(t, e, Event{Type: PointerDown, X: 150, Y: 110, RegionID: id})
	assert.Nil(t, out.Selected)
	assert.Empty(t, s.SelectedIDs())

	require.NoError(t, e.SetMode(ModeEdit))
	feed(t, e,
		Event{Type: PointerDown, X: 150, Y: 110, RegionID: id, Handle: HandleMove},
		Event{Type: PointerMove, X: 190, Y: 140},
		Event{Type: PointerUp, X: 190, Y: 140},
	)
	assert.Equal(t, StateIdle, e.State().Kind)
	stored, _ := s.Region(id)
	assert.Equal(t, annotation.StatusRejected, stored.Status)
	assert.Equal(t, added[0].Box, stored.Box)
}

func TestDragClampsArbitrarilyLargeDeltas(t *testing.T) {
	deltas := []geometry.Point{
		{X: 1e6, Y: 1e6}, {X: -1e6, Y: -1e6}, {X: 1e6, Y: -1e6}, {X: -1e6, Y: 1e6}, {X: 3000, Y: 0},
	}
	for _, d := range deltas {
		e, s, added := newTestEditor(t, geometry.Box{X: 0.4, Y: 0.4, Width: 0.3, Height: 0.2})
		require.NoError(t, e.SetMode(ModeEdit))
		id := added[0].ID

		feed(t, e,
			Event{Type: PointerDown, X: 200, Y: 150, RegionID: id},
			Event{Type: PointerMove, X: 200 + d.X/2, Y: 150 + d.Y/2},
			Event{Type: PointerUp, X: 200 + d.X, Y: 150 + d.Y},
		)

		r, _ := s.Region(id)
		assert.GreaterOrEqual(t, r.Box.X, 0.0)
		assert.GreaterOrEqual(t, r.Box.Y, 0.0)
		assert.LessOrEqual(t, r.Box.X+r.Box.Width, 1.0+1e-12)
		assert.LessOrEqual(t, r.Box.Y+r.Box.Height, 1.0+1e-12)
		assert.Equal(t, 0.3, r.Box.Width)
		assert.Equal(t, 0.2, r.Box.Height)
	}
}

func TestResizeNeverBelowMinimumSize(t *testing.T) {
	handles := []Handle{HandleN, HandleS, HandleE, HandleW, HandleNW, HandleNE, HandleSW, HandleSE}
	// Pointer deltas that push each handle past the opposite edge.
	towardOpposite := map[Handle]geometry.Point{
		HandleN:  {Y: 1e5},
		HandleS:  {Y: -1e5},
		HandleE:  {X: -1e5},
		HandleW:  {X: 1e5},
		HandleNW: {X: 1e5, Y: 1e5},
		HandleNE: {X: -1e5, Y: 1e5},
		HandleSW: {X: 1e5, Y: -1e5},
		HandleSE: {X: -1e5, Y: -1e5},
	}
	for _, h := range handles {
		t.Run(string(h), func(t *testing.T) {
			e, s, added := newTestEditor(t, geometry.Box{X: 0.3, Y: 0.3, Width: 0.4, Height: 0.4})
			require.NoError(t, e.SetMode(ModeEdit))
			id := added[0].ID
			d := towardOpposite[h]

			feed(t, e,
				Event{Type: PointerDown, X: 200, Y: 150, RegionID: id, Handle: h},
				Event{Type: PointerUp, X: 200 + d.X, Y: 150 + d.Y},
			)

			r, _ := s.Region(id)
			assert.GreaterOrEqual(t, r.Box.Width, geometry.MinSize-1e-12)
			assert.GreaterOrEqual(t, r.Box.Height, geometry.MinSize-1e-12)
			assert.True(t, r.Box.Valid())
		})
	}
}

func TestResizeKeepsOppositeCornerFixed(t *testing.T) {
	orig := geometry.Box{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4}

	nw := Resize(orig, HandleNW, geometry.Point{X: 0.1, Y: -0.1})
	assert.InDelta(t, orig.Right(), nw.Right(), 1e-12)
	assert.InDelta(t, orig.Bottom(), nw.Bottom(), 1e-12)
	assert.InDelta(t, 0.3, nw.X, 1e-12)
	assert.InDelta(t, 0.1, nw.Y, 1e-12)

	se := Resize(orig, HandleSE, geometry.Point{X: 0.1, Y: 0.1})
	assert.Equal(t, orig.X, se.X)
	assert.Equal(t, orig.Y, se.Y)
	assert.InDelta(t, 0.5, se.Width, 1e-12)
	assert.InDelta(t, 0.5, se.Height, 1e-12)

	e := Resize(orig, HandleE, geometry.Point{X: 0.1, Y: 0.3})
	assert.Equal(t, orig.Height, e.Height, "edge handles leave the other axis alone")
	assert.Equal(t, orig.Y, e.Y)
}

func TestResizeStaysInsideImage(t *testing.T) {
	orig := geometry.Box{X: 0.2, Y: 0.2, Width: 0.4, Height: 0.4}

	got := Resize(orig, HandleNW, geometry.Point{X: -5, Y: -5})
	assert.Equal(t, 0.0, got.X)
	assert.Equal(t, 0.0, got.Y)
	assert.InDelta(t, 0.6, got.Width, 1e-12)

	got = Resize(orig, HandleSE, geometry.Point{X: 5, Y: 5})
	assert.InDelta(t, 1.0, got.Right(), 1e-12)
	assert.InDelta(t, 1.0, got.Bottom(), 1e-12)
}

func TestEditModeHitTestsHandlesAndBodies(t *testing.T) {
	e, _, added := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5})
	require.NoError(t, e.SetMode(ModeEdit))

	// Bottom-right corner sits at (300, 225) in the container.
	feed(t, e, Event{Type: PointerDown, X: 303, Y: 222})
	assert.Equal(t, State{Kind: StateResizing, RegionID: added[0].ID, Handle: HandleSE}, e.State())
	e.Cancel()

	feed(t, e, Event{Type: PointerDown, X: 200, Y: 150})
	assert.Equal(t, State{Kind: StateDragging, RegionID: added[0].ID}, e.State())
	e.Cancel()

	feed(t, e, Event{Type: PointerDown, X: 10, Y: 10})
	assert.Equal(t, StateIdle, e.State().Kind)
}

func TestHitTestPrefersTopmostRegion(t *testing.T) {
	_, s, added := newTestEditor(t,
		geometry.Box{X: 0, Y: 0, Width: 0.5, Height: 0.5},
		geometry.Box{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
	)

	id, h, ok := HitTest(s.Regions(), geometry.Point{X: 150, Y: 110}, container, geometry.IdentityView, DefaultHandleTolerance, false)

	require.True(t, ok)
	assert.Equal(t, added[1].ID, id)
	assert.Equal(t, HandleMove, h)
}

func TestViewModeTogglesSelection(t *testing.T) {
	e, s, added := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5})

	out := feed(t, e, Event{Type: PointerDown, X: 200, Y: 150}, Event{Type: PointerUp, X: 200, Y: 150})
	assert.Equal(t, []string{added[0].ID}, s.SelectedIDs())
	assert.Equal(t, StateIdle, out.State.Kind)

	out = feed(t, e, Event{Type: PointerDown, X: 200, Y: 150})
	require.NotNil(t, out.Selected)
	assert.False(t, *out.Selected)
	assert.Empty(t, s.SelectedIDs())
}

func TestCropModeLeavesSelectionAlone(t *testing.T) {
	e, s, added := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5})
	require.NoError(t, e.SetMode(ModeCrop))

	out := feed(t, e, Event{Type: PointerDown, X: 200, Y: 150})

	assert.Equal(t, added[0].ID, out.CropRegionID)
	assert.Empty(t, s.SelectedIDs())
}

func TestSetModeCancelsGesture(t *testing.T) {
	e, s, added := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5})
	require.NoError(t, e.SetMode(ModeEdit))
	feed(t, e,
		Event{Type: PointerDown, X: 200, Y: 150, RegionID: added[0].ID},
		Event{Type: PointerMove, X: 300, Y: 150},
	)

	require.NoError(t, e.SetMode(ModeView))

	assert.Equal(t, StateIdle, e.State().Kind)
	r, _ := s.Region(added[0].ID)
	assert.Equal(t, added[0].Box, r.Box)
	assert.Error(t, e.SetMode("lasso"))
}

func TestUnknownEventType(t *testing.T) {
	e, _, _ := newTestEditor(t)

	_, err := e.Handle(Event{Type: "wheel"})

	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestStrayEventsAreIgnored(t *testing.T) {
	e, s, _ := newTestEditor(t, geometry.Box{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5})
	require.NoError(t, e.SetMode(ModeEdit))

	out := feed(t, e,
		Event{Type: PointerMove, X: 10, Y: 10},
		Event{Type: PointerUp, X: 10, Y: 10},
	)

	assert.Nil(t, out.Region)
	assert.Equal(t, StateIdle, e.State().Kind)
	assert.Equal(t, annotation.StatusDetected, s.Regions()[0].Status)
}
