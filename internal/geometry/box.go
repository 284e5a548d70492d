package geometry

import (
	"errors"
	"fmt"
	"math"
)

// MinSize is the smallest width or height a box may have, as a fraction of
// the source image.
const MinSize = 0.02

// ErrInvalidBox is returned by NewBox when the rectangle violates the
// normalized-box invariant.
var ErrInvalidBox = errors.New("invalid normalized box")

// Box is a rectangle expressed as fractions of the source image's native
// pixel dimensions. X, Y is the top-left corner. Boxes are values: every edit
// returns a new Box.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewBox validates x, y, w, h against the invariant
// 0 ≤ x, 0 ≤ y, x+w ≤ 1, y+h ≤ 1, w ≥ MinSize, h ≥ MinSize.
func NewBox(x, y, w, h float64) (Box, error) {
	b := Box{X: x, Y: y, Width: w, Height: h}
	if !b.Valid() {
		return Box{}, fmt.Errorf("%w: %+v", ErrInvalidBox, b)
	}
	return b, nil
}

// Valid reports whether b satisfies the normalized-box invariant. A tiny
// tolerance absorbs float error from edge arithmetic.
func (b Box) Valid() bool {
	const tol = 1e-9
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X >= -tol && b.Y >= -tol &&
		b.X+b.Width <= 1+tol && b.Y+b.Height <= 1+tol &&
		b.Width >= MinSize-tol && b.Height >= MinSize-tol
}

// ClampBox coerces an arbitrary rectangle into the invariant. Negative sizes
// are treated as their absolute value, the size is floored at MinSize and the
// origin is shifted so the box stays inside the unit square.
func ClampBox(x, y, w, h float64) Box {
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	w = Clamp(nanToZero(w), MinSize, 1)
	h = Clamp(nanToZero(h), MinSize, 1)
	return Box{
		X:      Clamp(nanToZero(x), 0, 1-w),
		Y:      Clamp(nanToZero(y), 0, 1-h),
		Width:  w,
		Height: h,
	}
}

// Right returns the x coordinate of the right edge.
func (b Box) Right() float64 { return b.X + b.Width }

// Bottom returns the y coordinate of the bottom edge.
func (b Box) Bottom() float64 { return b.Y + b.Height }

// Contains reports whether the normalized point lies inside b.
func (b Box) Contains(p Point) bool {
	return p.X >= b.X && p.X <= b.Right() && p.Y >= b.Y && p.Y <= b.Bottom()
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// PixelRect is an integer rectangle in source-image pixels.
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoxToPixelCrop converts b into source-image pixels for an image of
// imgW×imgH. Each edge is rounded independently so boxes that tile the image
// produce crops that tile it too. The result always lies within
// [0,imgW]×[0,imgH] and is at least one pixel in each dimension when the
// image is non-empty.
func BoxToPixelCrop(b Box, imgW, imgH int) PixelRect {
	x0, x1 := edgesToPixels(b.X, b.Right(), imgW)
	y0, y1 := edgesToPixels(b.Y, b.Bottom(), imgH)
	return PixelRect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func edgesToPixels(lo, hi float64, size int) (int, int) {
	if size <= 0 {
		return 0, 0
	}
	fs := float64(size)
	p0 := int(math.Round(Clamp(lo, 0, 1) * fs))
	p1 := int(math.Round(Clamp(hi, 0, 1) * fs))
	if p1 <= p0 {
		if p0 < size {
			p1 = p0 + 1
		} else {
			p0, p1 = size-1, size
		}
	}
	return p0, p1
}
