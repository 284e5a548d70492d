package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/geometry"
)

// DetectionPrompt is the shared prompt used by all detection adapters.
const DetectionPrompt = `You are an inventory assistant. Find every distinct household item
(furniture, appliances, electronics, decor, tools) visible in this apartment photo.
Return JSON only, no markdown:
{
  "items": [
    {
      "boundingBox": {"x": 0.0, "y": 0.0, "width": 0.0, "height": 0.0, "label": "string", "confidence": 0.0},
      "category": "string",
      "description": "one short factual sentence",
      "metadata": {"brand": "string", "color": "string"}
    }
  ],
  "totalItemsDetected": 0
}
Coordinates are fractions of the image size in [0,1]; x,y is the top-left corner.`

var (
	// ErrUnavailable means the detection backend could not be reached, is
	// misconfigured, or answered with something that is not a detection result.
	ErrUnavailable = errors.New("detection service unavailable")
	// ErrUnreadableImage means the backend rejected the image itself.
	ErrUnreadableImage = errors.New("image unreadable by detection service")
)

// Error is the typed failure every Detector returns.
type Error struct {
	Backend string
	Kind    error
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

func Unavailable(backend string, err error) error {
	return &Error{Backend: backend, Kind: ErrUnavailable, Err: err}
}

func Unreadable(backend string, err error) error {
	return &Error{Backend: backend, Kind: ErrUnreadableImage, Err: err}
}

// Detector is the detection collaborator: given an image it returns candidate
// regions. hint is an optional free-text focus ("kitchen appliances").
type Detector interface {
	Analyze(ctx context.Context, r io.Reader, mimeType, hint string) (*Result, error)
}

type Result struct {
	Items              []DetectedItem
	TotalItemsDetected int
	ProcessingTime     time.Duration
	RawResponse        string
}

// DetectedItem carries a box already normalized to the canonical shape.
type DetectedItem struct {
	Box         geometry.Box
	Label       string
	Confidence  *float64
	Category    string
	Description string
	Metadata    map[string]string
}

// Detections converts a result into the shape annotation sessions consume.
func Detections(r *Result) []annotation.Detection {
	if r == nil {
		return nil
	}
	out := make([]annotation.Detection, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, annotation.Detection{
			Box:         it.Box,
			Label:       it.Label,
			Category:    it.Category,
			Description: it.Description,
			Confidence:  it.Confidence,
			Metadata:    it.Metadata,
		})
	}
	return out
}

// Prompt returns DetectionPrompt with hint appended when present.
func Prompt(hint string) string {
	if hint == "" {
		return DetectionPrompt
	}
	return DetectionPrompt + "\nFocus on: " + hint
}

// ImageSize reads the pixel dimensions of an encoded image without decoding
// the pixel data. It returns zeros when the format is not recognized.
func ImageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
