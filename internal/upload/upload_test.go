package upload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func TestAllowedImageMIME(t *testing.T) {
	tests := []struct {
		name         string
		data         []byte
		wantMIME     string
		wantDetected bool
	}{
		{
			name:         "JPEG",
			data:         jpegHeader,
			wantMIME:     "image/jpeg",
			wantDetected: true,
		},
		{
			name:         "PNG",
			data:         []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00},
			wantMIME:     "image/png",
			wantDetected: true,
		},
		{
			name:         "GIF",
			data:         []byte("GIF89a"),
			wantMIME:     "image/gif",
			wantDetected: true,
		},
		{
			name:         "WebP",
			data:         append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 10)...),
			wantMIME:     "image/webp",
			wantDetected: true,
		},
		{
			name:         "RIFF but not WebP",
			data:         append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 10)...),
			wantMIME:     "",
			wantDetected: false,
		},
		{
			name:         "PDF disguised as image",
			data:         []byte("%PDF-1.4 malicious content"),
			wantMIME:     "",
			wantDetected: false,
		},
		{
			name:         "empty",
			data:         []byte{},
			wantMIME:     "",
			wantDetected: false,
		},
		{
			name:         "too short for WebP check",
			data:         []byte("RIFF"),
			wantMIME:     "",
			wantDetected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMIME, gotDetected := AllowedImageMIME(tt.data)
			assert.Equal(t, tt.wantDetected, gotDetected)
			assert.Equal(t, tt.wantMIME, gotMIME)
		})
	}
}

func TestValidate(t *testing.T) {
	img, err := Validate("kitchen.jpg", jpegHeader, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MimeType)
	assert.Equal(t, "kitchen.jpg", img.Name)

	_, err = Validate("notes.pdf", []byte("%PDF-1.4"), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Validate("empty.jpg", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Validate("big.jpg", append(jpegHeader, make([]byte, 100)...), 50)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReadRejectsOversize(t *testing.T) {
	data := append(bytes.Clone(jpegHeader), make([]byte, 64)...)

	_, err := Read("big.jpg", bytes.NewReader(data), 32)
	assert.ErrorIs(t, err, ErrInvalidInput)

	img, err := Read("ok.jpg", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Len(t, img.Data, len(data))
}
