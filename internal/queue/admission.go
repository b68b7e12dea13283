package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// Counter is anything reporting a number of pending plus active jobs.
type Counter interface {
	Name() string
	Count(ctx context.Context) (int64, error)
}

type AdmissionOptions struct {
	Limit int
	// Target is the counted queue, the checking queue itself when nil.
	Target Counter
	// SelfJobID is logged with a rejection.
	SelfJobID string
	// CountSelf is set when the caller is already one of the counted jobs.
	CountSelf bool
}

// CheckAdmission returns the current count of the target queue, or an
// *AdmissionError when there is no room: count >= limit for a new job,
// count > limit when the caller counts itself.
func (c *core) CheckAdmission(ctx context.Context, o AdmissionOptions) (int64, error) {
	var target Counter = c
	if o.Target != nil {
		target = o.Target
	}
	n, err := target.Count(ctx)
	if err != nil {
		return 0, err
	}
	limit := int64(o.Limit)
	if (!o.CountSelf && n < limit) || (o.CountSelf && n <= limit) {
		return n, nil
	}

	aerr := &AdmissionError{Queue: target.Name(), Count: n, Limit: o.Limit, CountSelf: o.CountSelf}
	slog.WarnContext(ctx, "admission rejected", "queue", target.Name(), "job_id", o.SelfJobID, "count", n, "limit", o.Limit)
	if !c.opts.Development && c.opts.Notifier != nil {
		msg := fmt.Sprintf("Admission rejected for job %s: queue `%s` has %d jobs, limit is %d.", o.SelfJobID, target.Name(), n, o.Limit)
		if err := c.opts.Notifier.Notify(ctx, msg); err != nil {
			slog.WarnContext(ctx, "notifying admission rejection", "error", err)
		}
	}
	return n, aerr
}
