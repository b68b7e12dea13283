package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rivernews/slack-middleware-server/internal/admission"
	"github.com/rivernews/slack-middleware-server/internal/archive"
	"github.com/rivernews/slack-middleware-server/internal/config"
	"github.com/rivernews/slack-middleware-server/internal/httpapi"
	"github.com/rivernews/slack-middleware-server/internal/model"
	"github.com/rivernews/slack-middleware-server/internal/notify"
	"github.com/rivernews/slack-middleware-server/internal/platform"
	"github.com/rivernews/slack-middleware-server/internal/progress"
	"github.com/rivernews/slack-middleware-server/internal/pubsub"
	"github.com/rivernews/slack-middleware-server/internal/queue"
	"github.com/rivernews/slack-middleware-server/internal/redisconn"
	"github.com/rivernews/slack-middleware-server/internal/shutdown"
	"github.com/rivernews/slack-middleware-server/internal/task"
	"github.com/rivernews/slack-middleware-server/internal/trigger"
)

// hookTimeout bounds every shutdown hook.
const hookTimeout = 10 * time.Second

type (
	SupervisorQueue = queue.Queue[model.SupervisorJobRequest, string]
	ScraperQueue    = queue.Queue[model.ScraperJobRequest, model.ScraperJobReturn]
)

// Service owns every component of one middleware process.
type Service struct {
	cfg      config.Config
	conns    *redisconn.Connections
	archive  *archive.Store
	broker   *pubsub.RedisBroker
	notifier notify.Notifier
	hooks    *shutdown.Hooks

	Supervisors *SupervisorQueue
	Scrapers    *ScraperQueue

	enqueue trigger.Enqueue
	http    *httpapi.Server
	cron    *trigger.Cron
}

// New builds the service. Nothing runs until Run or Initialize.
func New(ctx context.Context, cfg config.Config) (*Service, error) {
	conns, err := redisconn.New(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:   cfg,
		conns: conns,
		hooks: shutdown.New(hookTimeout),
	}
	s.hooks.Register("redis connections", func(context.Context) error { return conns.Close() })

	if err := s.build(ctx); err != nil {
		return nil, errors.Join(err, s.hooks.Run(context.WithoutCancel(ctx)))
	}
	return s, nil
}

// NewClient builds a service which only talks to the queues and the broker:
// it submits, awaits, pauses, resumes and terminates, but never processes jobs,
// so platforms, cron, archive and the HTTP server are not built.
func NewClient(cfg config.Config) (*Service, error) {
	conns, err := redisconn.New(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		conns:    conns,
		hooks:    shutdown.New(hookTimeout),
		notifier: notify.Log{},
	}
	s.hooks.Register("redis connections", func(context.Context) error { return conns.Close() })
	s.broker = pubsub.NewRedisBroker(conns.Generic(), conns.Subscriber())
	s.Scrapers = queue.New[model.ScraperJobRequest, model.ScraperJobReturn](conns, s.queueOptions(cfg.Queues.Scraper), nil)
	s.Supervisors = queue.New[model.SupervisorJobRequest, string](conns, s.queueOptions(cfg.Queues.Supervisor), nil)
	s.enqueue = trigger.QueueEnqueue(s.Supervisors)
	s.registerQueues()
	return s, nil
}

func (s *Service) registerQueues() {
	s.hooks.Register("queues", func(ctx context.Context) error {
		return errors.Join(s.Supervisors.Shutdown(ctx), s.Scrapers.Shutdown(ctx))
	})
}

func (s *Service) build(ctx context.Context) error {
	cfg := s.cfg
	if cfg.Archive.Path != "" {
		store, err := archive.Open(ctx, cfg.Archive.Path)
		if err != nil {
			return err
		}
		s.archive = store
		s.hooks.Register("archive", func(context.Context) error { return store.Close() })
	}

	s.notifier = notify.Log{}
	if cfg.Slack.WebhookURL != "" {
		slack, err := notify.NewSlack(cfg.Slack.WebhookURL, cfg.Slack.Rate)
		if err != nil {
			return fmt.Errorf("initializing slack notifier: %w", err)
		}
		s.notifier = slack
	}

	s.broker = pubsub.NewRedisBroker(s.conns.Generic(), s.conns.Subscriber())

	selector, platforms, err := s.platforms(ctx)
	if err != nil {
		return err
	}

	scraper := task.NewScraper(task.ScraperConfig{
		LivenessTimeout: cfg.Scraper.LivenessTimeout,
		AdminChannel:    cfg.Scraper.AdminChannel,
	}, task.ScraperDeps{
		Broker:    s.broker,
		Lock:      admission.NewChannelLock(s.conns.Generic(), cfg.Scraper.LeaseTTL),
		Selector:  task.AdmissionSelector(selector),
		Platforms: platforms,
		Notifier:  s.notifier,
		Hooks:     s.hooks,
		Display:   s.display(),
	})
	s.Scrapers = queue.New(s.conns, s.queueOptions(cfg.Queues.Scraper), scraper.Process)

	// the supervisor counts the jobs of its own queue
	var supervisor *task.Supervisor
	s.Supervisors = queue.New(s.conns, s.queueOptions(cfg.Queues.Supervisor),
		func(ctx context.Context, job *queue.Job[model.SupervisorJobRequest]) (string, error) {
			return supervisor.Process(ctx, job)
		})
	supervisor = task.NewSupervisor(task.SupervisorConfig{
		MaxConcurrent: cfg.Supervisor.MaxConcurrent,
		ChannelPrefix: cfg.Scraper.ChannelPrefix,
	}, task.SupervisorDeps{
		Admitter:   s.Supervisors,
		Dispatcher: task.NewQueueDispatcher(s.Scrapers),
		Notifier:   s.notifier,
	})
	s.enqueue = trigger.QueueEnqueue(s.Supervisors)
	s.registerQueues()

	deps := httpapi.Deps{
		Supervisor:   s,
		Queues:       []httpapi.Queue{s.Supervisors, s.Scrapers},
		Publisher:    s.broker,
		AdminChannel: cfg.Scraper.AdminChannel,
		Token:        cfg.HTTP.Token,
	}
	if s.archive != nil {
		deps.Archive = s.archive
	}
	s.http = httpapi.NewServer(cfg.HTTP.Addr, deps)

	if cfg.Cron.Schedule != "" {
		c, err := trigger.NewCron(ctx, cfg.Cron.Schedule, cfg.Cron.Orgs, s.Enqueue)
		if err != nil {
			return err
		}
		s.cron = c
		s.hooks.Register("cron", func(context.Context) error { return c.Close() })
	}
	return nil
}

func (s *Service) queueOptions(q config.Queue) queue.Options {
	opts := queue.Options{
		Name:        q.Name,
		Concurrency: q.Concurrency,
		Development: s.cfg.IsDevelopment(),
		Retention:   s.cfg.Queues.Retention,
		LockTTL:     s.cfg.Queues.LockTTL,
		Notifier:    s.notifier,
	}
	if s.archive != nil {
		opts.Archiver = s.archive
	}
	return opts
}

// platforms builds a semaphore and a submitter per enabled platform, the CI
// platform is preferred.
func (s *Service) platforms(ctx context.Context) (*admission.Selector, map[string]platform.Submitter, error) {
	cfg := s.cfg.Platform
	rdb := s.conns.Generic()
	var sems []*admission.Semaphore
	submitters := make(map[string]platform.Submitter)

	if cfg.CI.Enabled {
		ci, err := platform.NewCI(cfg.CI.BaseURL, cfg.CI.Repo, cfg.CI.Token, cfg.CI.Branch)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing ci platform: %w", err)
		}
		submitters[platform.NameCI] = ci
		sems = append(sems, admission.NewSemaphore(rdb, platform.NameCI, cfg.CI.Limit, s.cfg.Scraper.LeaseTTL))
	}
	if cfg.Cluster.Enabled {
		cs, err := platform.NewClientset(cfg.Cluster.Kubeconfig)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing cluster platform: %w", err)
		}
		submitters[platform.NameCluster] = platform.NewCluster(cs, platform.ClusterOptions{
			Namespace:        cfg.Cluster.Namespace,
			Image:            cfg.Cluster.Image,
			NodeSelector:     cfg.Cluster.NodeSelector,
			TTLAfterFinished: cfg.Cluster.TTLAfterFinished,
		})
		sems = append(sems, admission.NewSemaphore(rdb, platform.NameCluster, cfg.Cluster.Limit, s.cfg.Scraper.LeaseTTL))
	}
	if len(sems) == 0 {
		slog.WarnContext(ctx, "no platform enabled, every scraper job will be rejected")
	}
	return admission.NewSelector(sems...), submitters, nil
}

// display renders scraper progress bars on stderr during development.
func (s *Service) display() func(string) progress.Display {
	if !s.cfg.IsDevelopment() {
		return nil
	}
	return func(string) progress.Display {
		return progress.NewBar(os.Stderr)
	}
}

// Initialize connects both queues, workers are started when work is set.
func (s *Service) Initialize(ctx context.Context, work bool) error {
	if err := s.Supervisors.Initialize(ctx, work); err != nil {
		return err
	}
	return s.Scrapers.Initialize(ctx, work)
}

// Run processes jobs and serves triggers until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.http == nil {
		return errors.New("service was built as a client and runs no workers")
	}
	if err := s.Initialize(ctx, true); err != nil {
		return err
	}
	slog.InfoContext(ctx, "slack middleware started",
		"http", s.cfg.HTTP.Addr,
		"supervisor_queue", s.Supervisors.Name(),
		"scraper_queue", s.Scrapers.Name(),
		"cron", s.cron != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.http.ListenAndServe(gctx)
	})
	if s.cron != nil {
		g.Go(func() error {
			return s.cron.Run(gctx)
		})
	}
	return g.Wait()
}

// Close runs the shutdown hooks once.
func (s *Service) Close(ctx context.Context) error {
	return s.hooks.Run(ctx)
}

// Enqueue submits a supervisor job without waiting for it.
func (s *Service) Enqueue(ctx context.Context, req model.SupervisorJobRequest) (string, error) {
	return s.enqueue(ctx, req)
}

// Await waits for a supervisor job to finish.
func (s *Service) Await(ctx context.Context, id string) (string, error) {
	return s.Supervisors.Handle(id).Await(ctx)
}

// Pause stops both queues from starting new jobs.
func (s *Service) Pause(ctx context.Context) error {
	return errors.Join(s.Supervisors.Pause(ctx), s.Scrapers.Pause(ctx))
}

func (s *Service) Resume(ctx context.Context) error {
	return errors.Join(s.Supervisors.Resume(ctx), s.Scrapers.Resume(ctx))
}

// Terminate asks every running scraper job to stop and returns the number of
// processes that received the broadcast.
func (s *Service) Terminate(ctx context.Context, reason string) (int64, error) {
	msg := pubsub.Message{Type: pubsub.TypeTerminate, Destination: pubsub.ToAll, Payload: reason}
	return s.broker.Publish(ctx, s.cfg.Scraper.AdminChannel, msg.String())
}

// ImportS3 enqueues one supervisor job for the organizations of the object
// key, or of every object under key when prefix is set. The id is empty when
// there was no organization to import.
func (s *Service) ImportS3(ctx context.Context, key string, prefix bool) (string, error) {
	if s.cfg.S3.Bucket == "" {
		return "", errors.New("s3.bucket is not configured")
	}
	client, err := trigger.NewS3Client(ctx, s.cfg.S3.Region)
	if err != nil {
		return "", err
	}
	return s.Import(ctx, client, key, prefix)
}

// Import is ImportS3 reading through api.
func (s *Service) Import(ctx context.Context, api trigger.ObjectAPI, key string, prefix bool) (string, error) {
	importer := trigger.NewS3Importer(api, s.cfg.S3.Bucket, s.Enqueue)
	if prefix {
		return importer.ImportPrefix(ctx, key)
	}
	return importer.ImportObject(ctx, key)
}
