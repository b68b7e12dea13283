package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rivernews/slack-middleware-server/internal/log"
	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/notify"
	"github.com/rivernews/slack-middleware-server/internal/platform"
	"github.com/rivernews/slack-middleware-server/internal/progress"
	"github.com/rivernews/slack-middleware-server/internal/pubsub"
	"github.com/rivernews/slack-middleware-server/internal/queue"
	"github.com/rivernews/slack-middleware-server/internal/shutdown"
)

type ScraperConfig struct {
	// LivenessTimeout is the longest silence tolerated from a worker.
	LivenessTimeout time.Duration
	AdminChannel    string
}

type ScraperDeps struct {
	Broker    pubsub.Broker
	Lock      ChannelLock
	Selector  Selector
	Platforms map[string]platform.Submitter
	Notifier  notify.Notifier
	// Hooks, when set, get the cleanup of every running job registered.
	Hooks *shutdown.Hooks
	// Display, when set, renders the progress of each job.
	Display func(label string) progress.Display
}

// Scraper supervises one remote worker execution per job.
type Scraper struct {
	cfg  ScraperConfig
	deps ScraperDeps
}

func NewScraper(cfg ScraperConfig, deps ScraperDeps) *Scraper {
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	return &Scraper{cfg: cfg, deps: deps}
}

// Process is the scraper queue entry point.
func (s *Scraper) Process(ctx context.Context, job *queue.Job[model.ScraperJobRequest]) (model.ScraperJobReturn, error) {
	return s.Run(ctx, job.ID, job.Payload, job)
}

// Run checks the channel lock, subscribes, picks a platform, hands req off
// and supervises the worker until it finishes, fails or goes silent.
func (s *Scraper) Run(ctx context.Context, jobID string, req model.ScraperJobRequest, sink progress.Sink) (ret model.ScraperJobReturn, err error) {
	channel := req.PubsubChannelName
	if channel == "" {
		return ret, model.ErrMissingChannel
	}
	ctx = log.ContextAttrs(ctx, slog.String("channel", channel), slog.String("org", req.Label()))
	defer func() {
		if err != nil {
			notify.Quiet(s.deps.Notifier)(context.WithoutCancel(ctx), fmt.Sprintf(
				"Scraper job %s for `%s` on channel `%s` failed: %v", jobID, req.Label(), channel, err))
		}
	}()

	owner, held, err := s.deps.Lock.Owner(ctx, channel)
	if err != nil {
		return ret, err
	}
	if held {
		return ret, fmt.Errorf("%w: %s is supervised by job %s", model.ErrChannelLocked, channel, owner)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := &session{jobID: jobID, channel: channel, lock: s.deps.Lock}
	defer func() {
		_ = sess.release(ctx)
	}()
	if s.deps.Hooks != nil {
		unregister := s.deps.Hooks.Register("scraper job "+jobID, sess.release)
		defer unregister()
	}

	jobSub, err := s.deps.Broker.Subscribe(ctx, channel)
	if err != nil {
		return ret, err
	}
	if err := sess.addSubscription(jobSub); err != nil {
		return ret, err
	}
	adminSub, err := s.deps.Broker.Subscribe(ctx, s.cfg.AdminChannel)
	if err != nil {
		return ret, err
	}
	if err := sess.addSubscription(adminSub); err != nil {
		return ret, err
	}

	ok, err := s.deps.Lock.Acquire(ctx, channel, jobID)
	if err != nil {
		return ret, err
	}
	if !ok {
		return ret, fmt.Errorf("%w: %s was taken by another job", model.ErrChannelLocked, channel)
	}
	if err := sess.setLocked(ctx); err != nil {
		return ret, err
	}

	lease, err := s.deps.Selector.Acquire(ctx)
	if err != nil {
		return ret, err
	}
	if err := sess.setLease(ctx, lease); err != nil {
		return ret, err
	}
	submitter, ok := s.deps.Platforms[lease.Platform()]
	if !ok {
		return ret, fmt.Errorf("%w %s", ErrUnknownPlatform, lease.Platform())
	}
	slog.InfoContext(ctx, "handing off scraper job", "platform", lease.Platform())

	submitted := make(chan error, 1)
	go func() {
		submitted <- submitter.Submit(ctx, req.WithQuotedOrgName())
	}()

	var opts []progress.Option
	if s.deps.Display != nil {
		opts = append(opts, progress.WithDisplay(s.deps.Display(req.Label())))
	}
	w := &watch{
		Scraper:   s,
		jobID:     jobID,
		channel:   channel,
		platform:  lease.Platform(),
		sess:      sess,
		reporter:  progress.New(req.Label(), sink, opts...),
		submitted: submitted,
		jobMsgs:   jobSub.Messages(),
		adminMsgs: adminSub.Messages(),
	}
	return w.supervise(ctx)
}

// watch is the message loop of one running scraper job.
type watch struct {
	*Scraper
	jobID    string
	channel  string
	platform string
	sess     *session
	reporter *progress.Reporter

	submitted <-chan error
	jobMsgs   <-chan string
	adminMsgs <-chan string
}

func (w *watch) supervise(ctx context.Context) (model.ScraperJobReturn, error) {
	timeout := w.cfg.LivenessTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		var (
			raw  string
			open bool
		)
		select {
		case <-ctx.Done():
			return model.ScraperJobReturn{}, ctx.Err()
		case err := <-w.submitted:
			w.submitted = nil
			if err != nil {
				return model.ScraperJobReturn{}, fmt.Errorf("submitting to %s platform: %w", w.platform, err)
			}
			slog.InfoContext(ctx, "scraper job accepted by platform", "platform", w.platform)
			continue
		case <-timer.C:
			return model.ScraperJobReturn{}, fmt.Errorf("%w: no message on %s within %s", model.ErrLivenessTimeout, w.channel, timeout)
		case raw, open = <-w.jobMsgs:
		case raw, open = <-w.adminMsgs:
		}
		if !open {
			return model.ScraperJobReturn{}, fmt.Errorf("subscription of %s closed: %w", w.channel, ErrShuttingDown)
		}

		msg, err := pubsub.Parse(raw)
		if err != nil {
			return model.ScraperJobReturn{}, err
		}
		if !msg.Type.Known() {
			return model.ScraperJobReturn{}, fmt.Errorf("%w: unknown message type %q", model.ErrProtocolViolation, msg.Type)
		}
		if !msg.ForService() {
			continue
		}
		timer.Reset(timeout)
		w.sess.refresh(ctx)

		ret, done, err := w.handle(ctx, msg)
		if err != nil || done {
			return ret, err
		}
	}
}

// handle processes one message addressed to the service, done reports a
// final outcome.
func (w *watch) handle(ctx context.Context, msg pubsub.Message) (ret model.ScraperJobReturn, done bool, err error) {
	switch msg.Type {
	case pubsub.TypePreflight:
		ack := pubsub.Message{Type: pubsub.TypePreflight, Destination: pubsub.ToScraper, Payload: w.jobID}
		n, err := w.deps.Broker.Publish(ctx, w.channel, ack.String())
		if err != nil {
			return ret, true, err
		}
		// the job's own subscription is counted too
		if n < 2 {
			return ret, true, fmt.Errorf("%w on %s", ErrNoListener, w.channel)
		}
		w.reporter.Increment(ctx)

	case pubsub.TypeProgress:
		p, err := model.ParseScraperProgress(msg.Payload)
		if err != nil {
			return ret, true, fmt.Errorf("%w: progress payload: %w", model.ErrProtocolViolation, err)
		}
		w.reporter.SetRelative(ctx, p.WentThrough, p.Total)

	case pubsub.TypeFinish:
		if msg.Payload == pubsub.SuccessSentinel {
			return model.Succeeded(fmt.Sprintf("scraper job %s finished on %s: %s", w.jobID, w.platform, pubsub.SuccessSentinel)), true, nil
		}
		cross, err := model.ParseCrossRequest([]byte(msg.Payload))
		if err != nil {
			return ret, true, fmt.Errorf("%w: finish payload: %w", model.ErrProtocolViolation, err)
		}
		slog.InfoContext(ctx, "scraper job continues in a new session", "next_channel", cross.PubsubChannelName)
		return model.Continued(cross), true, nil

	case pubsub.TypeError:
		return ret, true, fmt.Errorf("%w: %s", model.ErrWorkerReported, msg.Payload)

	case pubsub.TypeTerminate:
		slog.WarnContext(ctx, "scraper job terminated manually", "reason", msg.Payload)
		return model.Succeeded("manually terminated: " + msg.Payload), true, nil
	}
	return ret, false, nil
}
