package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rivernews/slack-middleware-server/internal/pubsub"
)

const cleanupTimeout = 10 * time.Second

// session tracks what one scraper job holds. release returns all of it,
// from the job itself or from a shutdown hook, whichever comes first.
type session struct {
	jobID   string
	channel string
	lock    ChannelLock

	mx       sync.Mutex
	released bool
	subs     []pubsub.Subscription
	locked   bool
	lease    Lease
}

func (s *session) addSubscription(sub pubsub.Subscription) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.released {
		_ = sub.Close()
		return ErrShuttingDown
	}
	s.subs = append(s.subs, sub)
	return nil
}

// setLocked records the channel lock, a lock taken after release is
// returned right away.
func (s *session) setLocked(ctx context.Context) error {
	s.mx.Lock()
	if !s.released {
		s.locked = true
		s.mx.Unlock()
		return nil
	}
	s.mx.Unlock()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	_, _ = s.lock.Release(ctx, s.channel, s.jobID)
	return ErrShuttingDown
}

func (s *session) setLease(ctx context.Context, l Lease) error {
	s.mx.Lock()
	if !s.released {
		s.lease = l
		s.mx.Unlock()
		return nil
	}
	s.mx.Unlock()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	_ = l.Release(ctx)
	return ErrShuttingDown
}

// refresh extends the platform lease and the channel lock.
func (s *session) refresh(ctx context.Context) {
	s.mx.Lock()
	lease, locked := s.lease, s.locked
	s.mx.Unlock()
	if lease != nil {
		if err := lease.Refresh(ctx); err != nil {
			slog.WarnContext(ctx, "refreshing platform lease", "error", err)
		}
	}
	if locked {
		if err := s.lock.Refresh(ctx, s.channel, s.jobID); err != nil {
			slog.WarnContext(ctx, "refreshing channel lock", "error", err)
		}
	}
}

// release frees the lease, the channel lock if still owned and the
// subscriptions. Later calls do nothing.
func (s *session) release(ctx context.Context) error {
	s.mx.Lock()
	if s.released {
		s.mx.Unlock()
		return nil
	}
	s.released = true
	lease, locked, subs := s.lease, s.locked, s.subs
	s.lease, s.locked, s.subs = nil, false, nil
	s.mx.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	var errs []error
	if lease != nil {
		if err := lease.Release(ctx); err != nil {
			errs = append(errs, err)
		} else {
			slog.DebugContext(ctx, "platform lease released", "platform", lease.Platform())
		}
	}
	if locked {
		released, err := s.lock.Release(ctx, s.channel, s.jobID)
		switch {
		case err != nil:
			errs = append(errs, err)
		case !released:
			slog.WarnContext(ctx, "channel lock owned by another job, left in place")
		}
	}
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		slog.ErrorContext(ctx, "scraper job cleanup", "error", err)
	}
	return err
}
