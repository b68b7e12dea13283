package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rivernews/slack-middleware-server/internal/log"
	"github.com/rivernews/slack-middleware-server/internal/redisconn"
)

const finalizeTimeout = 10 * time.Second

// Processor handles one job. A returned error fails the job, jobs are
// attempted exactly once.
type Processor[P, R any] func(ctx context.Context, job *Job[P]) (R, error)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Archiver stores the final record of every finished job.
type Archiver interface {
	Archive(ctx context.Context, r Record) error
}

type Options struct {
	Name        string
	Concurrency int
	// Development skips the diagnostic notification of rejected admissions.
	Development  bool
	Retention    time.Duration
	LockTTL      time.Duration
	PollInterval time.Duration
	Observer     Observer
	Archiver     Archiver
	Notifier     Notifier
}

// core is the payload independent part of a queue.
type core struct {
	opts Options
	rdb  *redis.Client
	sub  *redis.Client

	prefix string

	mx          sync.Mutex
	initialized bool
	working     bool
	closed      bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	wake        chan struct{}
	once        sync.Once
}

// Queue is a durable Redis backed job queue with payload P and result R.
type Queue[P, R any] struct {
	*core
	process Processor[P, R]
}

// New binds a queue to the shared connections. process may be nil for a
// queue which is only submitted to.
func New[P, R any](conns *redisconn.Connections, opts Options, process Processor[P, R]) *Queue[P, R] {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Observer == nil {
		opts.Observer = LogObserver{}
	}
	return &Queue[P, R]{
		core: &core{
			opts:   opts,
			rdb:    conns.Generic(),
			sub:    conns.Subscriber(),
			prefix: "{" + opts.Name + "}:",
			wake:   make(chan struct{}, 1),
		},
		process: process,
	}
}

func (c *core) Name() string {
	return c.opts.Name
}

func (c *core) waitKey() string            { return c.prefix + "wait" }
func (c *core) activeKey() string          { return c.prefix + "active" }
func (c *core) pausedKey() string          { return c.prefix + "paused" }
func (c *core) jobPrefix() string          { return c.prefix + "job:" }
func (c *core) jobKey(id string) string    { return c.jobPrefix() + id }
func (c *core) lockKey(id string) string   { return c.jobKey(id) + ":lock" }
func (c *core) doneTopic(id string) string { return c.jobKey(id) + ":done" }

// Initialize verifies the connection and, when registerWorker is set, starts
// the worker pool and the stalled job reaper. Calling it again is a no-op,
// except that a later call may still register the workers.
func (q *Queue[P, R]) Initialize(ctx context.Context, registerWorker bool) error {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.closed {
		return ErrClosed
	}
	if !q.initialized {
		if err := q.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("initializing queue %s: %w", q.opts.Name, err)
		}
		q.initialized = true
	}
	if !registerWorker || q.working {
		return nil
	}
	if q.process == nil {
		return fmt.Errorf("initializing queue %s: no processor bound", q.opts.Name)
	}

	wctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.working = true
	for range q.opts.Concurrency {
		q.wg.Go(func() { q.work(wctx) })
	}
	q.wg.Go(func() { q.reap(wctx) })
	slog.DebugContext(ctx, "queue workers started", "queue", q.opts.Name, "concurrency", q.opts.Concurrency)
	return nil
}

func (c *core) ready() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case !c.initialized:
		return ErrNotInitialized
	}
	return nil
}

// Submit stores a new waiting job.
func (q *Queue[P, R]) Submit(ctx context.Context, payload P) (*Handle[R], error) {
	if err := q.ready(); err != nil {
		return nil, fmt.Errorf("submitting to %s: %w", q.opts.Name, err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	id := uuid.NewString()
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id),
			fieldPayload, string(raw),
			fieldState, string(StateWaiting),
			fieldCreatedOn, millis(time.Now()),
		)
		p.LPush(ctx, q.waitKey(), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submitting to %s: %w", q.opts.Name, err)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return &Handle[R]{c: q.core, id: id}, nil
}

// Count returns the number of waiting and active jobs. Waiting includes
// jobs of a paused queue.
func (c *core) Count(ctx context.Context) (int64, error) {
	var wait, active *redis.IntCmd
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		wait = p.LLen(ctx, c.waitKey())
		active = p.LLen(ctx, c.activeKey())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting jobs of %s: %w", c.opts.Name, err)
	}
	return wait.Val() + active.Val(), nil
}

// Get returns the stored record of a job.
func (c *core) Get(ctx context.Context, id string) (Record, error) {
	h, err := c.rdb.HGetAll(ctx, c.jobKey(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("reading job %s: %w", id, err)
	}
	if len(h) == 0 {
		return Record{}, ErrJobNotFound
	}
	return recordFromHash(c.opts.Name, id, h), nil
}

func (c *core) Pause(ctx context.Context) error {
	return c.rdb.Set(ctx, c.pausedKey(), "1", 0).Err()
}

func (c *core) Resume(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.pausedKey()).Err(); err != nil {
		return err
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *core) IsPaused(ctx context.Context) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.pausedKey()).Result()
	return n == 1, err
}

// Drain fails every waiting job. Active jobs are left running.
func (c *core) Drain(ctx context.Context) ([]string, error) {
	ids, err := drainScript.Run(ctx, c.rdb, []string{c.waitKey()},
		c.jobPrefix(), millis(time.Now()), c.opts.Retention.Milliseconds(), "drained",
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("draining %s: %w", c.opts.Name, err)
	}
	c.opts.Observer.OnDrained(ctx, c.opts.Name, ids)
	for _, id := range ids {
		c.archive(ctx, id)
	}
	return ids, nil
}

// Shutdown stops the workers and waits for running jobs to return. The
// shared connections stay open. Safe to call more than once.
func (c *core) Shutdown(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		c.mx.Lock()
		c.closed = true
		cancel := c.cancel
		c.mx.Unlock()
		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for workers of %s: %w", c.opts.Name, ctx.Err())
		}
	})
	return err
}

func (q *Queue[P, R]) work(ctx context.Context) {
	for {
		token := uuid.NewString()
		id, err := reserveScript.Run(ctx, q.rdb,
			[]string{q.waitKey(), q.activeKey(), q.pausedKey()},
			q.jobPrefix(), token, q.opts.LockTTL.Milliseconds(), millis(time.Now()),
		).Text()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			q.idle(ctx)
			continue
		case err != nil:
			slog.ErrorContext(ctx, "reserving job", "queue", q.opts.Name, "error", err)
			q.idle(ctx)
			continue
		case id == "":
			continue
		}
		q.run(ctx, id, token)
	}
}

func (c *core) idle(ctx context.Context) {
	t := time.NewTimer(c.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-c.wake:
	}
}

func (q *Queue[P, R]) run(ctx context.Context, id, token string) {
	jctx := log.WithJob(ctx, q.opts.Name, id)
	q.opts.Observer.OnActive(jctx, q.opts.Name, id)

	hbCtx, stop := context.WithCancel(jctx)
	var hb sync.WaitGroup
	hb.Go(func() { q.heartbeat(hbCtx, id, token) })
	result, err := q.execute(jctx, id)
	stop()
	hb.Wait()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(jctx), finalizeTimeout)
	defer cancel()
	if err != nil {
		q.finish(fctx, id, token, StateFailed, fieldFailedReason, err.Error())
		return
	}
	q.finish(fctx, id, token, StateCompleted, fieldResult, string(result))
}

func (q *Queue[P, R]) execute(ctx context.Context, id string) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	payload, err := q.rdb.HGet(ctx, q.jobKey(id), fieldPayload).Result()
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	var p P
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	res, err := q.process(ctx, &Job[P]{ID: id, Queue: q.opts.Name, Payload: p, c: q.core})
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (c *core) heartbeat(ctx context.Context, id, token string) {
	t := time.NewTicker(c.opts.LockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := heartbeatScript.Run(ctx, c.rdb, []string{c.lockKey(id)}, token, c.opts.LockTTL.Milliseconds()).Int()
			if err != nil && ctx.Err() == nil {
				slog.WarnContext(ctx, "refreshing job lease", "error", err)
			} else if err == nil && n == 0 {
				slog.WarnContext(ctx, "job lease lost")
			}
		}
	}
}

// finish moves an active job into its final state. An empty token marks the
// stalled check, which only succeeds when the lease has expired.
func (c *core) finish(ctx context.Context, id, token string, state State, field, value string) bool {
	n, err := finishScript.Run(ctx, c.rdb,
		[]string{c.activeKey(), c.jobKey(id), c.lockKey(id)},
		token, string(state), field, value, millis(time.Now()),
		c.opts.Retention.Milliseconds(), c.doneTopic(id), id,
	).Int()
	if err != nil {
		slog.ErrorContext(ctx, "finishing job", "state", state, "error", err)
		return false
	}
	switch n {
	case 1:
	case -1:
		slog.WarnContext(ctx, "job lease lost before finishing", "state", state)
		return false
	default:
		return false
	}

	switch {
	case token == "":
		c.opts.Observer.OnStalled(ctx, c.opts.Name, id)
	case state == StateCompleted:
		c.opts.Observer.OnCompleted(ctx, c.opts.Name, id, json.RawMessage(value))
	default:
		c.opts.Observer.OnFailed(ctx, c.opts.Name, id, value)
	}
	c.archive(ctx, id)
	return true
}

func (c *core) archive(ctx context.Context, id string) {
	if c.opts.Archiver == nil {
		return
	}
	rec, err := c.Get(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "reading job for archive", "job_id", id, "error", err)
		return
	}
	if err := c.opts.Archiver.Archive(ctx, rec); err != nil {
		slog.WarnContext(ctx, "archiving job", "job_id", id, "error", err)
	}
}

// reap fails active jobs whose lease expired, their worker is gone.
func (c *core) reap(ctx context.Context) {
	t := time.NewTicker(c.opts.LockTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		ids, err := c.rdb.LRange(ctx, c.activeKey(), 0, -1).Result()
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "listing active jobs", "queue", c.opts.Name, "error", err)
			}
			continue
		}
		for _, id := range ids {
			c.finish(log.WithJob(ctx, c.opts.Name, id), id, "", StateFailed, fieldFailedReason, "job stalled: lease expired")
		}
	}
}
