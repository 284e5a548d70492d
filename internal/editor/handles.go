package editor

import (
	"math"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/geometry"
)

// Handle names the part of a region a pointer grabbed: its body or a resize handle.
type Handle string

const (
	HandleMove Handle = "move"
	HandleN    Handle = "n"
	HandleS    Handle = "s"
	HandleE    Handle = "e"
	HandleW    Handle = "w"
	HandleNW   Handle = "nw"
	HandleNE   Handle = "ne"
	HandleSW   Handle = "sw"
	HandleSE   Handle = "se"
)

// Valid reports whether h is a known handle.
func (h Handle) Valid() bool {
	switch h {
	case HandleMove, HandleN, HandleS, HandleE, HandleW, HandleNW, HandleNE, HandleSW, HandleSE:
		return true
	}
	return false
}

func (h Handle) west() bool  { return h == HandleW || h == HandleNW || h == HandleSW }
func (h Handle) east() bool  { return h == HandleE || h == HandleNE || h == HandleSE }
func (h Handle) north() bool { return h == HandleN || h == HandleNW || h == HandleNE }
func (h Handle) south() bool { return h == HandleS || h == HandleSW || h == HandleSE }

// resizeHandles are checked in this order during hit testing; corners win
// over edges where they overlap.
var resizeHandles = []Handle{HandleNW, HandleNE, HandleSW, HandleSE, HandleN, HandleS, HandleE, HandleW}

// Move translates orig by delta without changing its size, keeping it
// inside the unit square.
func Move(orig geometry.Box, delta geometry.Point) geometry.Box {
	return geometry.Box{
		X:      geometry.Clamp(orig.X+delta.X, 0, 1-orig.Width),
		Y:      geometry.Clamp(orig.Y+delta.Y, 0, 1-orig.Height),
		Width:  orig.Width,
		Height: orig.Height,
	}
}

// Resize applies delta to the edges h controls. The opposite edges stay
// fixed and each dimension is floored at geometry.MinSize, so the box never
// inverts.
func Resize(orig geometry.Box, h Handle, delta geometry.Point) geometry.Box {
	b := orig
	switch {
	case h.west():
		right := orig.Right()
		b.X = geometry.Clamp(orig.X+delta.X, 0, right-geometry.MinSize)
		b.Width = right - b.X
	case h.east():
		b.Width = geometry.Clamp(orig.Width+delta.X, geometry.MinSize, 1-orig.X)
	}
	switch {
	case h.north():
		bottom := orig.Bottom()
		b.Y = geometry.Clamp(orig.Y+delta.Y, 0, bottom-geometry.MinSize)
		b.Height = bottom - b.Y
	case h.south():
		b.Height = geometry.Clamp(orig.Height+delta.Y, geometry.MinSize, 1-orig.Y)
	}
	return b
}

// handlePoint is the normalized anchor of h on b.
func handlePoint(b geometry.Box, h Handle) geometry.Point {
	x := b.X + b.Width/2
	y := b.Y + b.Height/2
	if h.west() {
		x = b.X
	}
	if h.east() {
		x = b.Right()
	}
	if h.north() {
		y = b.Y
	}
	if h.south() {
		y = b.Bottom()
	}
	return geometry.Point{X: x, Y: y}
}

// HitTest finds the topmost region under p (container pixels). Resize
// handles within tolerance pixels take precedence over the region body.
// Rejected regions are not hit.
func HitTest(regions []annotation.Region, p geometry.Point, container geometry.Rect, view geometry.View, tolerance float64, withHandles bool) (string, Handle, bool) {
	n := geometry.ScreenToNormalized(p, container, view)
	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		if r.Status == annotation.StatusRejected {
			continue
		}
		if withHandles {
			for _, h := range resizeHandles {
				hp := geometry.NormalizedToScreen(handlePoint(r.Box, h), container, view)
				if math.Abs(hp.X-p.X) <= tolerance && math.Abs(hp.Y-p.Y) <= tolerance {
					return r.ID, h, true
				}
			}
		}
		if r.Box.Contains(n) {
			return r.ID, HandleMove, true
		}
	}
	return "", "", false
}
