package geometry

import "math"

// Zoom is clamped to [MinZoom, MaxZoom].
const (
	MinZoom = 0.1
	MaxZoom = 10.0
)

// Point is a 2D coordinate. Depending on context it holds container pixels or
// normalized fractions.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is the on-screen container the image is displayed in, in pixels.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// View is the zoom/pan applied to the displayed image. It is a display
// concern only and is never folded into a Box.
//
// A normalized point n is drawn at origin + pan + zoom*(n*size).
type View struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"panX"`
	PanY float64 `json:"panY"`
}

// IdentityView is zoom 1 with no pan.
var IdentityView = View{Zoom: 1}

// Normalize returns v with the zoom clamped to [MinZoom, MaxZoom]. A zero
// zoom is read as 1.
func (v View) Normalize() View {
	if v.Zoom == 0 || math.IsNaN(v.Zoom) {
		v.Zoom = 1
	}
	v.Zoom = Clamp(v.Zoom, MinZoom, MaxZoom)
	return v
}

// ScreenToNormalized maps a container-space pointer position to normalized
// image coordinates, clamped to [0,1].
func ScreenToNormalized(p Point, container Rect, view View) Point {
	n := screenToNormalized(p, container, view)
	return Point{X: Clamp(n.X, 0, 1), Y: Clamp(n.Y, 0, 1)}
}

func screenToNormalized(p Point, container Rect, view View) Point {
	view = view.Normalize()
	if container.Width <= 0 || container.Height <= 0 {
		return Point{}
	}
	x := (p.X - container.Left - view.PanX) / view.Zoom / container.Width
	y := (p.Y - container.Top - view.PanY) / view.Zoom / container.Height
	return Point{X: x, Y: y}
}

// NormalizedToScreen is the inverse of ScreenToNormalized. It is used for
// rendering only.
func NormalizedToScreen(n Point, container Rect, view View) Point {
	view = view.Normalize()
	return Point{
		X: container.Left + view.PanX + view.Zoom*n.X*container.Width,
		Y: container.Top + view.PanY + view.Zoom*n.Y*container.Height,
	}
}

// ScreenDelta converts a pointer displacement in container pixels into an
// unclamped normalized displacement.
func ScreenDelta(from, to Point, container Rect, view View) Point {
	a := screenToNormalized(from, container, view)
	b := screenToNormalized(to, container, view)
	return Point{X: b.X - a.X, Y: b.Y - a.Y}
}

// BoxToScreen returns the on-screen rectangle of b.
func BoxToScreen(b Box, container Rect, view View) Rect {
	tl := NormalizedToScreen(Point{X: b.X, Y: b.Y}, container, view)
	br := NormalizedToScreen(Point{X: b.Right(), Y: b.Bottom()}, container, view)
	return Rect{Left: tl.X, Top: tl.Y, Width: br.X - tl.X, Height: br.Y - tl.Y}
}

// BoundingBox returns the smallest rectangle (min corner, max corner)
// containing every point. ok is false for an empty path.
func BoundingBox(points []Point) (lo, hi Point, ok bool) {
	if len(points) == 0 {
		return Point{}, Point{}, false
	}
	lo, hi = points[0], points[0]
	for _, p := range points[1:] {
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		hi.X = math.Max(hi.X, p.X)
		hi.Y = math.Max(hi.Y, p.Y)
	}
	return lo, hi, true
}
