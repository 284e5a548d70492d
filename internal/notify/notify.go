// Package notify carries the human-readable messages produced by batch and
// commit operations.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func Info(title, format string, args ...any) Notification {
	return Notification{Title: title, Message: fmt.Sprintf(format, args...), Severity: SeverityInfo}
}

func Success(title, format string, args ...any) Notification {
	return Notification{Title: title, Message: fmt.Sprintf(format, args...), Severity: SeveritySuccess}
}

func Warning(title, format string, args ...any) Notification {
	return Notification{Title: title, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

func Error(title, format string, args ...any) Notification {
	return Notification{Title: title, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	l.logger.Log(ctx, n.Severity.level(), n.Message, "title", n.Title, "severity", string(n.Severity))
}

func (s Severity) level() slog.Level {
	switch s {
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Recorder keeps every notification it receives and forwards it to next when
// set. Operations use one Recorder per call so the caller can return the
// messages with the result.
type Recorder struct {
	mu    sync.Mutex
	next  Notifier
	items []Notification
}

func NewRecorder(next Notifier) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) Notify(ctx context.Context, n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
	if r.next != nil {
		r.next.Notify(ctx, n)
	}
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
