package admission

import (
	"context"
	"log/slog"

	"github.com/rivernews/slack-middleware-server/internal/model"
)

// Lease is one held platform admission token.
type Lease struct {
	Token string
	sem   *Semaphore
}

// Platform names the semaphore the token belongs to.
func (l *Lease) Platform() string {
	return l.sem.Name()
}

func (l *Lease) Refresh(ctx context.Context) error {
	return l.sem.Refresh(ctx, l.Token)
}

func (l *Lease) Release(ctx context.Context) error {
	return l.sem.Release(ctx, l.Token)
}

// Selector acquires a token from the first semaphore with a free slot, in
// preference order.
type Selector struct {
	sems []*Semaphore
}

func NewSelector(sems ...*Semaphore) *Selector {
	return &Selector{sems: sems}
}

// Acquire returns model.ErrNoPlatformAvailable when every semaphore is full.
func (s *Selector) Acquire(ctx context.Context) (*Lease, error) {
	for _, sem := range s.sems {
		token, ok, err := sem.TryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lease{Token: token, sem: sem}, nil
		}
		slog.DebugContext(ctx, "platform full", "platform", sem.Name())
	}
	return nil, model.ErrNoPlatformAvailable
}
