package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Job is the unit handed to a Processor.
type Job[P any] struct {
	ID      string
	Queue   string
	Payload P
	c       *core
}

// SetProgress stores the progress scalar, 0 to 100 with two decimals.
func (j *Job[P]) SetProgress(ctx context.Context, pct float64) error {
	if j.c == nil {
		return nil
	}
	err := j.c.rdb.HSet(ctx, j.c.jobKey(j.ID), fieldProgress, strconv.FormatFloat(pct, 'f', 2, 64)).Err()
	if err != nil {
		return fmt.Errorf("storing progress: %w", err)
	}
	j.c.opts.Observer.OnProgress(ctx, j.Queue, j.ID, pct)
	return nil
}

// Handle refers to a submitted job.
type Handle[R any] struct {
	c  *core
	id string
}

// Handle refers to an already submitted job.
func (q *Queue[P, R]) Handle(id string) *Handle[R] {
	return &Handle[R]{c: q.core, id: id}
}

func (h *Handle[R]) ID() string {
	return h.id
}

// Await blocks until the job finished and decodes its result. A failed job
// returns a *JobFailedError.
func (h *Handle[R]) Await(ctx context.Context) (R, error) {
	var out R
	rec, err := h.c.await(ctx, h.id)
	if err != nil {
		return out, err
	}
	if rec.State == StateFailed {
		return out, &JobFailedError{Queue: rec.Queue, JobID: rec.ID, Reason: rec.FailedReason}
	}
	if err := json.Unmarshal(rec.Result, &out); err != nil {
		return out, fmt.Errorf("decoding result of job %s: %w", h.id, err)
	}
	return out, nil
}

// await subscribes before reading the state so that a job finishing in
// between is not missed.
func (c *core) await(ctx context.Context, id string) (Record, error) {
	sub := c.sub.Subscribe(ctx, c.doneTopic(id))
	defer func() {
		_ = sub.Close()
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return Record{}, fmt.Errorf("subscribing to job %s: %w", id, err)
	}
	ch := sub.Channel()

	recheck := time.NewTicker(10 * c.opts.PollInterval)
	defer recheck.Stop()
	for {
		rec, err := c.Get(ctx, id)
		if err != nil {
			return Record{}, err
		}
		if rec.State.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case _, ok := <-ch:
			if !ok {
				return Record{}, ErrClosed
			}
		case <-recheck.C:
		}
	}
}
