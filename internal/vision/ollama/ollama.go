package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmorganca/ollama/api"

	"github.com/vbonduro/aptinv/internal/vision"
)

const backend = "ollama"

type OllamaDetector struct {
	client *api.Client
	model  string
}

func NewOllamaDetector(host, model string) (*OllamaDetector, error) {
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q: scheme and host required", host)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &OllamaDetector{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

func (d *OllamaDetector) Analyze(ctx context.Context, r io.Reader, mimeType, hint string) (*vision.Result, error) {
	imageData, err := io.ReadAll(r)
	if err != nil {
		return nil, vision.Unreadable(backend, fmt.Errorf("failed to read image: %w", err))
	}
	if len(imageData) == 0 {
		return nil, vision.Unreadable(backend, errors.New("empty image"))
	}

	stream := false
	req := &api.ChatRequest{
		Model: d.model,
		Messages: []api.Message{{
			Role:    "user",
			Content: vision.Prompt(hint),
			Images:  []api.ImageData{api.ImageData(imageData)},
		}},
		Stream: &stream,
	}

	start := time.Now()
	var content strings.Builder
	err = d.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		if isImageRejection(err) {
			return nil, vision.Unreadable(backend, err)
		}
		return nil, vision.Unavailable(backend, fmt.Errorf("failed to call ollama: %w", err))
	}

	w, h := vision.ImageSize(imageData)
	result, err := vision.ParseResponse(content.String(), w, h)
	if err != nil {
		return nil, vision.Unavailable(backend, err)
	}
	if result.ProcessingTime == 0 {
		result.ProcessingTime = time.Since(start)
	}
	return result, nil
}

// isImageRejection reports whether ollama refused the request because the
// image could not be decoded.
func isImageRejection(err error) bool {
	var statusErr api.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(statusErr.ErrorMessage + " " + statusErr.Status)
	return strings.Contains(msg, "image")
}
