package annotation

import (
	"github.com/google/uuid"

	"github.com/vbonduro/aptinv/internal/geometry"
)

type Status string

const (
	StatusDetected  Status = "detected"
	StatusEdited    Status = "edited"
	StatusSelected  Status = "selected"
	StatusCommitted Status = "committed"
	StatusRejected  Status = "rejected"
)

// Region is a labeled rectangle inside one image's annotation session. ID is
// the join key shared by the overlay, the list panel and the commit workflow.
type Region struct {
	ID             string       `json:"id"`
	Box            geometry.Box `json:"box"`
	Label          string       `json:"label"`
	Category       string       `json:"category,omitempty"`
	Description    string       `json:"description,omitempty"`
	Confidence     *float64     `json:"confidence,omitempty"`
	SourceImageRef string       `json:"sourceImageRef"`
	Status         Status       `json:"status"`
	CommitError    string       `json:"commitError,omitempty"`
}

// NewID mints a region identifier.
func NewID() string {
	return uuid.NewString()
}

// WithBox returns a copy of r with box replaced and the status moved to
// edited unless the region is selected. Session.ReplaceRegion records the
// edit for selected regions.
func (r Region) WithBox(box geometry.Box) Region {
	r.Box = box
	if r.Status != StatusSelected {
		r.Status = StatusEdited
	}
	return r
}

// Detection is the subset of a detection result a session needs to mint a
// region. It mirrors vision.DetectedItem without importing it.
type Detection struct {
	Box         geometry.Box
	Label       string
	Category    string
	Description string
	Confidence  *float64
	Metadata    map[string]string
}

// RegionFromDetection mints a detected region for sourceRef.
func RegionFromDetection(d Detection, sourceRef string) Region {
	return Region{
		ID:             NewID(),
		Box:            d.Box,
		Label:          d.Label,
		Category:       d.Category,
		Description:    d.Description,
		Confidence:     d.Confidence,
		SourceImageRef: sourceRef,
		Status:         StatusDetected,
	}
}
