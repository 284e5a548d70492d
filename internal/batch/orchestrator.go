package batch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/vbonduro/aptinv/internal/annotation"
	"github.com/vbonduro/aptinv/internal/notify"
	"github.com/vbonduro/aptinv/internal/vision"
)

// Summary reports one ProcessAll run. Dropped counts results that arrived
// after their file was removed or the job discarded.
type Summary struct {
	Processed     int                   `json:"processed"`
	Succeeded     int                   `json:"succeeded"`
	Failed        int                   `json:"failed"`
	Dropped       int                   `json:"dropped"`
	Notifications []notify.Notification `json:"notifications"`
}

type Option func(*Orchestrator)

// WithHint passes a focus hint to every detection call.
func WithHint(hint string) Option {
	return func(o *Orchestrator) { o.hint = hint }
}

func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithOnSettled registers fn to run after each file settles, in queue order.
func WithOnSettled(fn func(ctx context.Context, job *Job, f File)) Option {
	return func(o *Orchestrator) { o.onSettled = fn }
}

type Orchestrator struct {
	detector  vision.Detector
	logger    *slog.Logger
	notifier  notify.Notifier
	hint      string
	onSettled func(ctx context.Context, job *Job, f File)
}

func NewOrchestrator(detector vision.Detector, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		detector: detector,
		logger:   logger,
		notifier: notify.Discard{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessAll runs every pending file of job through the detector, one at a
// time: a file's detection call starts only after the previous one settled.
// A failing file is recorded as an error and never stops the queue. Complete
// and errored files are not touched; use Job.Retry to queue them again.
//
// If ctx is cancelled mid-call the interrupted file goes back to pending.
func (o *Orchestrator) ProcessAll(ctx context.Context, job *Job) (Summary, error) {
	if err := job.start(); err != nil {
		return Summary{}, err
	}
	defer job.stop()

	rec := notify.NewRecorder(o.notifier)
	var sum Summary

	for {
		if ctx.Err() != nil {
			break
		}
		c, ok := job.next()
		if !ok {
			break
		}

		o.logger.Info("analyzing batch file", "job_id", job.ID(), "file_id", c.fileID, "name", c.image.Name)
		result, err := o.detector.Analyze(ctx, bytes.NewReader(c.image.Data), c.image.MimeType, o.hint)
		if err != nil && ctx.Err() != nil {
			job.release(c)
			break
		}

		var regions []annotation.Region
		total := 0
		if err == nil {
			for _, d := range vision.Detections(result) {
				regions = append(regions, annotation.RegionFromDetection(d, c.fileID))
			}
			total = result.TotalItemsDetected
		}

		f, ok := job.settle(c, regions, total, err)
		if !ok {
			sum.Dropped++
			o.logger.Info("dropped stale batch result", "job_id", job.ID(), "file_id", c.fileID)
			continue
		}
		sum.Processed++
		if err != nil {
			sum.Failed++
			o.logger.Error("batch file failed", "job_id", job.ID(), "file_id", c.fileID, "error", err)
			rec.Notify(ctx, notify.Error("Analysis failed", "%s: %s", f.Name, describe(err)))
		} else {
			sum.Succeeded++
		}
		if o.onSettled != nil {
			o.onSettled(ctx, job, f)
		}
	}

	if sum.Processed > 0 {
		n := notify.Success("Batch processed", "%d succeeded, %d failed", sum.Succeeded, sum.Failed)
		if sum.Failed > 0 {
			n.Severity = notify.SeverityWarning
		}
		rec.Notify(ctx, n)
	}
	sum.Notifications = rec.Notifications()
	return sum, ctx.Err()
}

func describe(err error) string {
	switch {
	case errors.Is(err, vision.ErrUnreadableImage):
		return "the image could not be read"
	case errors.Is(err, vision.ErrUnavailable):
		return "the detection service is unavailable"
	default:
		return err.Error()
	}
}
