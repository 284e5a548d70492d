package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderForwards(t *testing.T) {
	inner := NewRecorder(nil)
	r := NewRecorder(inner)

	r.Notify(context.Background(), Warning("Duplicate item", "%q is already in the inventory", "Sofa"))
	r.Notify(context.Background(), Success("Commit", "%d items added", 2))

	got := r.Notifications()
	require.Len(t, got, 2)
	assert.Equal(t, SeverityWarning, got[0].Severity)
	assert.Equal(t, `"Sofa" is already in the inventory`, got[0].Message)
	assert.Equal(t, "2 items added", got[1].Message)
	assert.Equal(t, got, inner.Notifications())
}

func TestLogNotifierLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLogNotifier(logger).Notify(context.Background(), Error("Analysis failed", "detection service unavailable"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "detection service unavailable", entry["msg"])
	assert.Equal(t, "Analysis failed", entry["title"])
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard{}.Notify(context.Background(), Info("x", "y")) })
}
