// Package task implements the Supervisor and Scraper job processors.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rivernews/slack-middleware-server/internal/admission"
	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/queue"
)

var (
	ErrNoListener      = errors.New("preflight acknowledgement has no listener")
	ErrUnknownPlatform = errors.New("no submitter for platform")
	ErrShuttingDown    = errors.New("shutting down")
)

// BatchAbortedError reports the organizations of a supervisor batch which
// were never completed, the one in flight included.
type BatchAbortedError struct {
	Remaining []string
	Cause     error
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("batch aborted, unfinished: [%s]: %v", strings.Join(e.Remaining, ", "), e.Cause)
}

func (e *BatchAbortedError) Unwrap() error {
	return e.Cause
}

// ChannelLock guards a pubsub channel against double supervision.
type ChannelLock interface {
	Owner(ctx context.Context, channel string) (string, bool, error)
	Acquire(ctx context.Context, channel, jobID string) (bool, error)
	Refresh(ctx context.Context, channel, jobID string) error
	Release(ctx context.Context, channel, jobID string) (bool, error)
}

// Lease is a held platform admission token.
type Lease interface {
	Platform() string
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

type Selector interface {
	Acquire(ctx context.Context) (Lease, error)
}

// AdmissionSelector adapts the Redis semaphore selector.
func AdmissionSelector(s *admission.Selector) Selector {
	return selector{s}
}

type selector struct {
	s *admission.Selector
}

func (s selector) Acquire(ctx context.Context) (Lease, error) {
	l, err := s.s.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Dispatcher runs one scraper job to its end.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.ScraperJobRequest) (model.ScraperJobReturn, error)
	// Drain drops every scraper job not yet started.
	Drain(ctx context.Context) ([]string, error)
}

type scraperQueue interface {
	Submit(ctx context.Context, req model.ScraperJobRequest) (*queue.Handle[model.ScraperJobReturn], error)
	Drain(ctx context.Context) ([]string, error)
}

// QueueDispatcher submits to the scraper queue and awaits the result.
type QueueDispatcher struct {
	q scraperQueue
}

func NewQueueDispatcher(q scraperQueue) *QueueDispatcher {
	return &QueueDispatcher{q: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, req model.ScraperJobRequest) (model.ScraperJobReturn, error) {
	h, err := d.q.Submit(ctx, req)
	if err != nil {
		return model.ScraperJobReturn{}, err
	}
	slog.InfoContext(ctx, "scraper job dispatched", "scraper_job_id", h.ID(), "channel", req.PubsubChannelName)
	return h.Await(ctx)
}

func (d *QueueDispatcher) Drain(ctx context.Context) ([]string, error) {
	return d.q.Drain(ctx)
}

// Admitter checks the concurrency budget of the supervisor queue.
type Admitter interface {
	CheckAdmission(ctx context.Context, o queue.AdmissionOptions) (int64, error)
}
