package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/aptinv/internal/vision"
)

const detectionJSON = `{"items":[
  {"boundingBox":{"x":0.1,"y":0.2,"width":0.3,"height":0.4,"label":"Sofa","confidence":0.9},"category":"Furniture"},
  {"boundingBox":{"x":0.6,"y":0.1,"width":0.2,"height":0.3,"label":"Lamp"}}
]}`

func newTestDetector(url string) *ClaudeDetector {
	return NewClaudeDetector("sk-test", "claude-sonnet-4-5", anthropic.WithBaseURL(url))
}

func TestClaudeAnalyze(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		resp := map[string]any{
			"id":    "msg_1",
			"type":  "message",
			"role":  "assistant",
			"model": "claude-sonnet-4-5",
			"content": []map[string]any{
				{"type": "text", "text": detectionJSON},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	result, err := newTestDetector(server.URL).Analyze(context.Background(), bytes.NewReader([]byte{0xFF, 0xD8}), "image/jpeg", "furniture")
	require.NoError(t, err)
	assert.Equal(t, "/messages", gotPath)
	assert.Equal(t, "claude-sonnet-4-5", gotBody["model"])
	require.Len(t, result.Items, 2)
	assert.Equal(t, "Sofa", result.Items[0].Label)
	assert.Equal(t, "Furniture", result.Items[0].Category)
	assert.InDelta(t, 0.3, result.Items[0].Box.Width, 1e-9)
	assert.Equal(t, "Lamp", result.Items[1].Label)
	assert.Positive(t, result.ProcessingTime)
}

func TestClaudeAnalyzeRejectedImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"Could not process image"}}`)
	}))
	defer server.Close()

	_, err := newTestDetector(server.URL).Analyze(context.Background(), bytes.NewReader([]byte{0xFF, 0xD8}), "image/jpeg", "")
	assert.ErrorIs(t, err, vision.ErrUnreadableImage)
}

func TestClaudeAnalyzeAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"rate limited"}}`)
	}))
	defer server.Close()

	_, err := newTestDetector(server.URL).Analyze(context.Background(), bytes.NewReader([]byte{0xFF, 0xD8}), "image/jpeg", "")
	assert.ErrorIs(t, err, vision.ErrUnavailable)
}

func TestClaudeAnalyzeMalformedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"I see a sofa."}]}`)
	}))
	defer server.Close()

	_, err := newTestDetector(server.URL).Analyze(context.Background(), bytes.NewReader([]byte{0xFF, 0xD8}), "image/jpeg", "")
	assert.ErrorIs(t, err, vision.ErrUnavailable)
	assert.ErrorIs(t, err, vision.ErrMalformedResponse)
}

func TestClaudeAnalyzeReadError(t *testing.T) {
	_, err := newTestDetector("http://127.0.0.1:1").Analyze(context.Background(), &errReader{}, "image/jpeg", "")
	assert.ErrorIs(t, err, vision.ErrUnreadableImage)
}

func TestClaudeAnalyzeEmptyImage(t *testing.T) {
	_, err := newTestDetector("http://127.0.0.1:1").Analyze(context.Background(), bytes.NewReader(nil), "image/jpeg", "")
	assert.ErrorIs(t, err, vision.ErrUnreadableImage)
}

func TestNormaliseMIME(t *testing.T) {
	assert.Equal(t, "image/png", normaliseMIME("image/png"))
	assert.Equal(t, "image/webp", normaliseMIME("image/webp"))
	assert.Equal(t, "image/jpeg", normaliseMIME("image/heic"))
	assert.Equal(t, "image/jpeg", normaliseMIME(""))
}

// errReader always returns an error on Read.
type errReader struct{}

func (e *errReader) Read(_ []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
