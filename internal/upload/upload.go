// Package upload validates user-supplied images before any collaborator sees
// them.
package upload

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBytes is the per-file size limit.
const DefaultMaxBytes = 10 * 1024 * 1024

// ErrInvalidInput is the only hard rejection: unsupported format, empty file
// or oversize file.
var ErrInvalidInput = errors.New("invalid input")

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniffing standard (and
// therefore the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// AllowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func AllowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// Image is an accepted upload.
type Image struct {
	Name     string
	MimeType string
	Data     []byte
}

// Validate applies the format and size gate to data already in memory.
func Validate(name string, data []byte, maxBytes int64) (Image, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: %s is empty", ErrInvalidInput, name)
	}
	if int64(len(data)) > maxBytes {
		return Image{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, name, maxBytes)
	}
	mime, ok := AllowedImageMIME(data)
	if !ok {
		return Image{}, fmt.Errorf("%w: %s is not a JPEG, PNG, GIF or WebP image", ErrInvalidInput, name)
	}
	return Image{Name: name, MimeType: mime, Data: data}, nil
}

// Read reads at most maxBytes+1 bytes from r so oversize input is rejected
// without buffering all of it, then validates the result.
func Read(name string, r io.Reader, maxBytes int64) (Image, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return Validate(name, data, maxBytes)
}
