package domain

import "time"

// Photo is a stored thumbnail cropped from a source image.
type Photo struct {
	ID         int64     `json:"id"`
	StorageKey string    `json:"-"`
	MimeType   string    `json:"mimeType"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Item is a committed inventory record.
type Item struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Category       string    `json:"category,omitempty"`
	Condition      string    `json:"condition"`
	Notes          string    `json:"notes,omitempty"`
	PhotoID        *int64    `json:"photoId,omitempty"`
	SourceRegionID string    `json:"sourceRegionId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewItem holds the fields supplied when an item is created.
type NewItem struct {
	Name           string
	Description    string
	Category       string
	Condition      string
	Notes          string
	PhotoID        *int64
	SourceRegionID string
}
