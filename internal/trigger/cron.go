package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/rivernews/slack-middleware-server/internal/model"
)

// ParseCron validates a cron expression that have 5 fields, or a descriptor
// like @daily or @every 6h.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}

	// Macros / @every handled by ParseStandard
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser5.Parse(e)
	return err
}

// Cron enqueues a supervisor job for a fixed organization list on schedule.
type Cron struct {
	orgs      []string
	enqueue   Enqueue
	scheduler gocron.Scheduler

	once    sync.Once
	stopErr error
}

func NewCron(ctx context.Context, schedule string, orgs []string, enqueue Enqueue) (*Cron, error) {
	if err := ParseCron(schedule); err != nil {
		return nil, fmt.Errorf("parsing cron.schedule: %w", err)
	}
	if len(orgs) == 0 {
		return nil, errors.New("cron.orgs is empty")
	}
	c := &Cron{orgs: slices.Clone(orgs), enqueue: enqueue}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(func() {
			if _, err := c.Trigger(ctx); err != nil {
				slog.ErrorContext(ctx, "scheduled supervisor job not enqueued", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	c.scheduler = s
	slog.DebugContext(ctx, "successfully parsed", "cron", schedule, "orgs", len(orgs))
	return c, nil
}

// Trigger enqueues the supervisor job right away.
func (c *Cron) Trigger(ctx context.Context) (string, error) {
	id, err := c.enqueue(ctx, model.SupervisorJobRequest{OrgInfoList: slices.Clone(c.orgs)})
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "scheduled supervisor job enqueued", "job_id", id, "orgs", len(c.orgs))
	return id, nil
}

// Run starts the scheduler and stops it when ctx is done.
func (c *Cron) Run(ctx context.Context) error {
	c.scheduler.Start()
	<-ctx.Done()
	return c.Close()
}

// Close shuts the scheduler down, whether it was started or not. Safe to
// call more than once.
func (c *Cron) Close() error {
	c.once.Do(func() {
		if err := c.scheduler.Shutdown(); err != nil {
			slog.Error("shutting down gocron has failed", "error", err)
			c.stopErr = err
		}
	})
	return c.stopErr
}
