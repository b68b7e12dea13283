package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/notify"
	"github.com/rivernews/slack-middleware-server/internal/progress"
	"github.com/rivernews/slack-middleware-server/internal/pubsub"
	"github.com/rivernews/slack-middleware-server/internal/queue"
)

type SupervisorConfig struct {
	MaxConcurrent int
	ChannelPrefix string
}

type SupervisorDeps struct {
	Admitter   Admitter
	Dispatcher Dispatcher
	Notifier   notify.Notifier
}

// Supervisor runs the organizations of one batch one after another, each
// to the end of its continuation lineage.
type Supervisor struct {
	cfg  SupervisorConfig
	deps SupervisorDeps
}

func NewSupervisor(cfg SupervisorConfig, deps SupervisorDeps) *Supervisor {
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	return &Supervisor{cfg: cfg, deps: deps}
}

// Process is the supervisor queue entry point.
func (s *Supervisor) Process(ctx context.Context, job *queue.Job[model.SupervisorJobRequest]) (string, error) {
	return s.Run(ctx, job.ID, job.Payload, job)
}

func (s *Supervisor) Run(ctx context.Context, jobID string, req model.SupervisorJobRequest, sink progress.Sink) (string, error) {
	if s.deps.Admitter != nil {
		_, err := s.deps.Admitter.CheckAdmission(ctx, queue.AdmissionOptions{
			Limit:     s.cfg.MaxConcurrent,
			SelfJobID: jobID,
			CountSelf: true,
		})
		if err != nil {
			return "", err
		}
	}

	work, err := req.Work()
	if err != nil {
		if list, ok := work.(model.ListWork); !ok || len(list.Items) == 0 {
			return "", err
		}
		slog.WarnContext(ctx, "ignoring invalid cross request data", "error", err)
	}

	switch w := work.(type) {
	case model.CrossWork:
		req := w.Request.JobRequest()
		if err := s.runLineage(ctx, req); err != nil {
			return "", s.abort(ctx, jobID, []string{req.Label()}, err)
		}
		return fmt.Sprintf("supervisor job %s resumed %s to the end", jobID, req.Label()), nil

	case model.ListWork:
		if len(w.Items) == 0 {
			slog.InfoContext(ctx, "supervisor job has no organization to scrape")
			return fmt.Sprintf("supervisor job %s had nothing to do", jobID), nil
		}
		reporter := progress.New("supervisor "+jobID, sink, progress.WithTotal(len(w.Items)))
		labels := w.Labels()
		for i, item := range w.Items {
			if err := s.runLineage(ctx, item); err != nil {
				return "", s.abort(ctx, jobID, labels[i:], err)
			}
			reporter.Increment(ctx)
		}
		return fmt.Sprintf("supervisor job %s scraped %d organizations", jobID, len(w.Items)), nil
	}
	return "", fmt.Errorf("unsupported work %T", work)
}

// runLineage dispatches req and every continuation it produces until a
// plain success comes back.
func (s *Supervisor) runLineage(ctx context.Context, req model.ScraperJobRequest) error {
	prev := ""
	for {
		req.PubsubChannelName = s.channelFor(prev, req)
		ret, err := s.deps.Dispatcher.Dispatch(ctx, req)
		if err != nil {
			return err
		}
		notify.Quiet(s.deps.Notifier)(ctx, fmt.Sprintf("Scraper job for `%s` on `%s` returned: %s",
			req.Label(), req.PubsubChannelName, ret))
		if !ret.IsContinuation() {
			return nil
		}
		cross, err := ret.Cross.JobRequest().CrossRequest()
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrIllegalResult, err)
		}
		slog.InfoContext(ctx, "continuing scrape", "org", cross.OrgName, "session", cross.LastProgress.ProcessedSession)
		prev = req.PubsubChannelName
		req = cross.JobRequest()
	}
}

// channelFor keeps the channel of req unless it is unset or still the one of
// the previous session.
func (s *Supervisor) channelFor(prev string, req model.ScraperJobRequest) string {
	switch {
	case req.PubsubChannelName != "" && req.PubsubChannelName != prev:
		return req.PubsubChannelName
	case prev != "":
		return pubsub.NextChannelName(prev)
	default:
		return pubsub.ChannelName(s.cfg.ChannelPrefix, req.Label(), 0)
	}
}

// abort drops pending scraper jobs and reports what was left unfinished.
func (s *Supervisor) abort(ctx context.Context, jobID string, remaining []string, cause error) error {
	drained, err := s.deps.Dispatcher.Drain(context.WithoutCancel(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "draining scraper queue", "error", err)
	} else if len(drained) > 0 {
		slog.WarnContext(ctx, "drained pending scraper jobs", "count", len(drained))
	}
	aerr := &BatchAbortedError{Remaining: remaining, Cause: cause}
	if !errors.Is(cause, context.Canceled) {
		notify.Quiet(s.deps.Notifier)(context.WithoutCancel(ctx), fmt.Sprintf("Supervisor job %s failed: %v", jobID, aerr))
	}
	return aerr
}
