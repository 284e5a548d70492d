package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vbonduro/aptinv/internal/geometry"
)

// ErrMalformedResponse is returned when the model output holds no usable JSON.
var ErrMalformedResponse = errors.New("malformed detection response")

// thousandScale is the coordinate range some models answer in when they do
// not use fractions.
const thousandScale = 1000.0

type wireResponse struct {
	Items              []wireItem `json:"items"`
	Objects            []wireItem `json:"objects"`
	TotalItemsDetected *int       `json:"totalItemsDetected"`
	ProcessingTimeMs   *int64     `json:"processingTimeMs"`
}

type wireItem struct {
	BoundingBox json.RawMessage `json:"boundingBox"`
	Box         json.RawMessage `json:"box"`
	BBox        json.RawMessage `json:"bbox"`
	Label       string          `json:"label"`
	Name        string          `json:"name"`
	Confidence  *float64        `json:"confidence"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Metadata    map[string]any  `json:"metadata"`
}

// ParseResponse turns raw model output into a Result. Bounding boxes are
// normalized to geometry.Box here, whatever shape the backend used:
// {x,y,width,height}, {x,y,w,h}, {x1,y1,x2,y2}, {xmin,ymin,xmax,ymax},
// {left,top,right,bottom} or a [xmin,ymin,xmax,ymax] array. Coordinates above
// 1 are read as pixels of an imgW×imgH image, or on a 0–1000 scale when the
// image size is unknown. Items without a usable box are dropped.
func ParseResponse(raw string, imgW, imgH int) (*Result, error) {
	clean := sanitizeModelJSON(raw)
	if !strings.HasPrefix(clean, "{") {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	wire := resp.Items
	if len(wire) == 0 {
		wire = resp.Objects
	}

	items := make([]DetectedItem, 0, len(wire))
	for _, w := range wire {
		item, ok := w.normalize(imgW, imgH)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	result := &Result{Items: items, TotalItemsDetected: len(items), RawResponse: raw}
	if resp.TotalItemsDetected != nil {
		result.TotalItemsDetected = *resp.TotalItemsDetected
	}
	if resp.ProcessingTimeMs != nil {
		result.ProcessingTime = time.Duration(*resp.ProcessingTimeMs) * time.Millisecond
	}
	return result, nil
}

func (w wireItem) normalize(imgW, imgH int) (DetectedItem, bool) {
	raw := firstNonEmpty(w.BoundingBox, w.Box, w.BBox)
	if raw == nil {
		return DetectedItem{}, false
	}
	coords, boxLabel, boxConf, ok := decodeBox(raw)
	if !ok {
		return DetectedItem{}, false
	}

	box, ok := toNormalized(coords, imgW, imgH)
	if !ok {
		return DetectedItem{}, false
	}

	label := strings.TrimSpace(firstString(boxLabel, w.Label, w.Name))
	if label == "" {
		label = "Unknown item"
	}
	conf := boxConf
	if conf == nil {
		conf = w.Confidence
	}

	return DetectedItem{
		Box:         box,
		Label:       label,
		Confidence:  normalizeConfidence(conf),
		Category:    strings.TrimSpace(w.Category),
		Description: strings.TrimSpace(w.Description),
		Metadata:    stringifyMetadata(w.Metadata),
	}, true
}

// corners holds a box as two corners in whatever unit the backend used.
type corners struct {
	x0, y0, x1, y1 float64
}

func decodeBox(raw json.RawMessage) (corners, string, *float64, bool) {
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) != 4 {
			return corners{}, "", nil, false
		}
		return corners{arr[0], arr[1], arr[2], arr[3]}, "", nil, true
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return corners{}, "", nil, false
	}
	label, _ := m["label"].(string)
	var conf *float64
	if v, ok := number(m, "confidence"); ok {
		conf = &v
	}

	if x, y, w, h, ok := numbers4(m, "x", "y", "width", "height"); ok {
		return corners{x, y, x + w, y + h}, label, conf, true
	}
	if x, y, w, h, ok := numbers4(m, "x", "y", "w", "h"); ok {
		return corners{x, y, x + w, y + h}, label, conf, true
	}
	for _, keys := range [][4]string{
		{"x1", "y1", "x2", "y2"},
		{"xmin", "ymin", "xmax", "ymax"},
		{"left", "top", "right", "bottom"},
	} {
		if x0, y0, x1, y1, ok := numbers4(m, keys[0], keys[1], keys[2], keys[3]); ok {
			return corners{x0, y0, x1, y1}, label, conf, true
		}
	}
	return corners{}, "", nil, false
}

func toNormalized(c corners, imgW, imgH int) (geometry.Box, bool) {
	sx, sy := 1.0, 1.0
	if max(c.x0, c.y0, c.x1, c.y1) > 1 {
		if imgW > 0 && imgH > 0 {
			sx, sy = float64(imgW), float64(imgH)
		} else {
			sx, sy = thousandScale, thousandScale
		}
	}
	x0, x1 := c.x0/sx, c.x1/sx
	y0, y1 := c.y0/sy, c.y1/sy
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	// Entirely outside the image.
	if x1 <= 0 || y1 <= 0 || x0 >= 1 || y0 >= 1 {
		return geometry.Box{}, false
	}
	x0, y0 = geometry.Clamp(x0, 0, 1), geometry.Clamp(y0, 0, 1)
	x1, y1 = geometry.Clamp(x1, 0, 1), geometry.Clamp(y1, 0, 1)
	return geometry.ClampBox(x0, y0, x1-x0, y1-y0), true
}

func normalizeConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v > 1 {
		v /= 100
	}
	v = geometry.Clamp(v, 0, 1)
	return &v
}

func number(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func numbers4(m map[string]any, a, b, c, d string) (float64, float64, float64, float64, bool) {
	va, ok1 := number(m, a)
	vb, ok2 := number(m, b)
	vc, ok3 := number(m, c)
	vd, ok4 := number(m, d)
	return va, vb, vc, vd, ok1 && ok2 && ok3 && ok4
}

func stringifyMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			if t != "" {
				out[k] = t
			}
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

func firstNonEmpty(raws ...json.RawMessage) json.RawMessage {
	for _, r := range raws {
		if len(r) > 0 && string(r) != "null" {
			return r
		}
	}
	return nil
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailComma   = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON strips code fences, comments and trailing commas and keeps
// only the outermost {...}.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailComma.ReplaceAllString(raw, "$1")
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
