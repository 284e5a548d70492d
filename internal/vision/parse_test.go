package vision

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/aptinv/internal/geometry"
)

func TestParseResponseCanonical(t *testing.T) {
	raw := `{
  "items": [
    {
      "boundingBox": {"x": 0.25, "y": 0.1, "width": 0.25, "height": 0.4, "label": "Floor lamp", "confidence": 0.92},
      "category": "Lighting",
      "description": "Black metal floor lamp",
      "metadata": {"color": "black", "height_cm": 160}
    }
  ],
  "totalItemsDetected": 1,
  "processingTimeMs": 840
}`

	result, err := ParseResponse(raw, 800, 600)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)

	item := result.Items[0]
	assert.InDelta(t, 0.25, item.Box.X, 1e-9)
	assert.InDelta(t, 0.1, item.Box.Y, 1e-9)
	assert.InDelta(t, 0.25, item.Box.Width, 1e-9)
	assert.InDelta(t, 0.4, item.Box.Height, 1e-9)
	assert.Equal(t, "Floor lamp", item.Label)
	require.NotNil(t, item.Confidence)
	assert.InDelta(t, 0.92, *item.Confidence, 1e-9)
	assert.Equal(t, "Lighting", item.Category)
	assert.Equal(t, "Black metal floor lamp", item.Description)
	assert.Equal(t, map[string]string{"color": "black", "height_cm": "160"}, item.Metadata)
	assert.Equal(t, 1, result.TotalItemsDetected)
	assert.Equal(t, 840*time.Millisecond, result.ProcessingTime)
}

func TestParseResponseLegacyShapes(t *testing.T) {
	want := geometry.Box{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}
	tests := []struct {
		name string
		raw  string
		w, h int
	}{
		{name: "x y w h", raw: `{"items":[{"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4},"label":"Chair"}]}`},
		{name: "x1 y1 x2 y2", raw: `{"items":[{"boundingBox":{"x1":0.1,"y1":0.2,"x2":0.4,"y2":0.6},"name":"Chair"}]}`},
		{name: "xmin ymin xmax ymax", raw: `{"objects":[{"bbox":{"xmin":0.1,"ymin":0.2,"xmax":0.4,"ymax":0.6},"label":"Chair"}]}`},
		{name: "left top right bottom", raw: `{"items":[{"box":{"left":0.1,"top":0.2,"right":0.4,"bottom":0.6},"label":"Chair"}]}`},
		{name: "array corners", raw: `{"items":[{"bbox":[0.1,0.2,0.4,0.6],"label":"Chair"}]}`},
		{name: "pixel coordinates", raw: `{"items":[{"boundingBox":{"x":100,"y":100,"width":300,"height":200},"label":"Chair"}]}`, w: 1000, h: 500},
		{name: "thousand scale", raw: `{"items":[{"bbox":[100,200,400,600],"label":"Chair"}]}`},
		{name: "swapped corners", raw: `{"items":[{"box":{"x1":0.4,"y1":0.6,"x2":0.1,"y2":0.2},"label":"Chair"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResponse(tt.raw, tt.w, tt.h)
			require.NoError(t, err)
			require.Len(t, result.Items, 1)
			got := result.Items[0].Box
			assert.InDelta(t, want.X, got.X, 1e-9)
			assert.InDelta(t, want.Y, got.Y, 1e-9)
			assert.InDelta(t, want.Width, got.Width, 1e-9)
			assert.InDelta(t, want.Height, got.Height, 1e-9)
			assert.Equal(t, "Chair", result.Items[0].Label)
		})
	}
}

func TestParseResponseClampsIntoInvariant(t *testing.T) {
	raw := `{"items":[
		{"boundingBox":{"x":0.9,"y":0.9,"width":0.5,"height":0.5,"label":"Overflow"}},
		{"boundingBox":{"x":0.5,"y":0.5,"width":0,"height":0,"label":"Dot"}},
		{"boundingBox":{"x":1.5,"y":1.5,"width":0.2,"height":0.2,"label":"Outside"}},
		{"boundingBox":{"label":"No coordinates"}},
		{"category":"Missing box"}
	]}`

	result, err := ParseResponse(raw, 0, 0)
	require.NoError(t, err)

	// 1.5 is read on the thousand scale, so "Outside" lands near the origin.
	require.Len(t, result.Items, 3)
	for _, item := range result.Items {
		assert.True(t, item.Box.Valid(), "%s: %+v", item.Label, item.Box)
	}
	assert.Equal(t, geometry.MinSize, result.Items[1].Box.Width)
}

func TestParseResponseConfidencePercent(t *testing.T) {
	raw := `{"items":[{"boundingBox":{"x":0,"y":0,"width":0.5,"height":0.5},"label":"TV","confidence":87}]}`

	result, err := ParseResponse(raw, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, result.Items[0].Confidence)
	assert.InDelta(t, 0.87, *result.Items[0].Confidence, 1e-9)
}

func TestParseResponseSanitizesModelOutput(t *testing.T) {
	raw := "```json\n" + `{
  // detections
  "items": [
    {"boundingBox": {"x": 0.1, "y": 0.1, "width": 0.2, "height": 0.2}, "label": "Plant",},
  ],
}` + "\n```"

	result, err := ParseResponse(raw, 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Plant", result.Items[0].Label)
}

func TestParseResponseMissingLabel(t *testing.T) {
	raw := `{"items":[{"boundingBox":{"x":0,"y":0,"width":0.5,"height":0.5}}]}`

	result, err := ParseResponse(raw, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Unknown item", result.Items[0].Label)
}

func TestParseResponseMalformed(t *testing.T) {
	for _, raw := range []string{"", "I see a sofa and a lamp.", `{"items": [}`} {
		_, err := ParseResponse(raw, 0, 0)
		assert.True(t, errors.Is(err, ErrMalformedResponse), "raw=%q err=%v", raw, err)
	}
}

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")

	err := Unavailable("ollama", cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrUnreadableImage)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ollama", verr.Backend)
}

func TestPrompt(t *testing.T) {
	assert.Equal(t, DetectionPrompt, Prompt(""))
	assert.Contains(t, Prompt("kitchen appliances"), "Focus on: kitchen appliances")
}

func TestDetections(t *testing.T) {
	conf := 0.5
	r := &Result{Items: []DetectedItem{{Box: geometry.Box{Width: 0.5, Height: 0.5}, Label: "Rug", Category: "Textiles", Confidence: &conf}}}

	dets := Detections(r)

	require.Len(t, dets, 1)
	assert.Equal(t, "Rug", dets[0].Label)
	assert.Equal(t, "Textiles", dets[0].Category)
	assert.Same(t, &conf, dets[0].Confidence)
	assert.Nil(t, Detections(nil))
}
