package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/aptinv/internal/vision"
)

const backend = "claude"

// maxTokens leaves room for a few dozen items with descriptions and metadata.
const maxTokens = 2048

// invalidRequest is the Anthropic error type returned for images the API
// cannot process.
const invalidRequest = "invalid_request_error"

type ClaudeDetector struct {
	client *anthropic.Client
	model  string
}

func NewClaudeDetector(apiKey, model string, opts ...anthropic.ClientOption) *ClaudeDetector {
	return &ClaudeDetector{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (d *ClaudeDetector) Analyze(ctx context.Context, r io.Reader, mimeType, hint string) (*vision.Result, error) {
	imageData, err := io.ReadAll(r)
	if err != nil {
		return nil, vision.Unreadable(backend, fmt.Errorf("failed to read image: %w", err))
	}
	if len(imageData) == 0 {
		return nil, vision.Unreadable(backend, errors.New("empty image"))
	}

	start := time.Now()
	resp, err := d.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(d.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(mimeType),
					base64.StdEncoding.EncodeToString(imageData),
				)),
				anthropic.NewTextMessageContent(vision.Prompt(hint)),
			},
		}},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) && string(apiErr.Type) == invalidRequest {
			return nil, vision.Unreadable(backend, err)
		}
		return nil, vision.Unavailable(backend, fmt.Errorf("failed to call claude: %w", err))
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == anthropic.MessagesContentTypeText {
			text = c.GetText()
			break
		}
	}

	w, h := vision.ImageSize(imageData)
	result, err := vision.ParseResponse(text, w, h)
	if err != nil {
		return nil, vision.Unavailable(backend, err)
	}
	if result.ProcessingTime == 0 {
		result.ProcessingTime = time.Since(start)
	}
	return result, nil
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
