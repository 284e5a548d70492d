// Package crop extracts the pixels under a normalized box from a source image
// and re-encodes them as a thumbnail.
package crop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/vbonduro/aptinv/internal/geometry"
)

// ErrDecodeFailure is returned when the source bytes are not a decodable image.
var ErrDecodeFailure = errors.New("failed to decode source image")

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

const DefaultQuality = 90

// ParseFormat maps a config value to a Format. Unknown values fall back to JPEG.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "webp":
		return FormatWebP
	default:
		return FormatJPEG
	}
}

// MimeType is the content type of the encoded crop.
func (f Format) MimeType() string {
	if f == FormatWebP {
		return "image/webp"
	}
	return "image/jpeg"
}

type Cropper struct {
	Format  Format
	Quality int
}

func New(format Format, quality int) *Cropper {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if format == "" {
		format = FormatJPEG
	}
	return &Cropper{Format: format, Quality: quality}
}

// Crop decodes src, honouring EXIF orientation, cuts out the pixels under box
// and encodes them. The output is sized exactly to BoxToPixelCrop and is
// byte-identical for identical inputs.
func (c *Cropper) Crop(ctx context.Context, src []byte, box geometry.Box) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Encode(CropImage(img, box))
}

// CropImage crops an already-decoded image.
func CropImage(img image.Image, box geometry.Box) *image.NRGBA {
	b := img.Bounds()
	r := geometry.BoxToPixelCrop(box, b.Dx(), b.Dy())
	rect := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).Add(b.Min)
	return imaging.Crop(img, rect)
}

func (c *Cropper) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	switch c.Format {
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(c.Quality)}); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.Quality)); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	}
	return buf.Bytes(), nil
}
