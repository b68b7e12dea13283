package queue

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Observer receives queue lifecycle events. Implementations log or record
// metrics, they must not drive control flow.
type Observer interface {
	OnActive(ctx context.Context, queue, jobID string)
	OnProgress(ctx context.Context, queue, jobID string, pct float64)
	OnCompleted(ctx context.Context, queue, jobID string, result json.RawMessage)
	OnFailed(ctx context.Context, queue, jobID, reason string)
	OnStalled(ctx context.Context, queue, jobID string)
	OnDrained(ctx context.Context, queue string, jobIDs []string)
}

// LogObserver logs every event with slog.
type LogObserver struct{}

func (LogObserver) OnActive(ctx context.Context, queue, jobID string) {
	slog.InfoContext(ctx, "job active", "queue", queue, "job_id", jobID)
}

func (LogObserver) OnProgress(ctx context.Context, queue, jobID string, pct float64) {
	slog.DebugContext(ctx, "job progress", "queue", queue, "job_id", jobID, "progress", pct)
}

func (LogObserver) OnCompleted(ctx context.Context, queue, jobID string, result json.RawMessage) {
	slog.InfoContext(ctx, "job completed", "queue", queue, "job_id", jobID, "result", string(result))
}

func (LogObserver) OnFailed(ctx context.Context, queue, jobID, reason string) {
	slog.ErrorContext(ctx, "job failed", "queue", queue, "job_id", jobID, "reason", reason)
}

func (LogObserver) OnStalled(ctx context.Context, queue, jobID string) {
	slog.WarnContext(ctx, "job stalled", "queue", queue, "job_id", jobID)
}

func (LogObserver) OnDrained(ctx context.Context, queue string, jobIDs []string) {
	slog.WarnContext(ctx, "queue drained", "queue", queue, "removed", len(jobIDs))
}
