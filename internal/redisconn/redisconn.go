package redisconn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Connections holds the Redis clients shared by every queue, broker and
// semaphore of one process. Generic serves commands and scripts, Subscriber
// serves blocking subscriptions. Construct one per process in the composition
// root and pass it down.
type Connections struct {
	opts *redis.Options

	mx         sync.Mutex
	generic    *redis.Client
	subscriber *redis.Client
	created    []*redis.Client
	closed     bool
}

func New(url string) (*Connections, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &Connections{opts: opts}, nil
}

// FromClient uses c for every role. Intended for tests with a mocked client.
func FromClient(c *redis.Client) *Connections {
	return &Connections{
		generic:    c,
		subscriber: c,
		created:    []*redis.Client{c},
	}
}

func (c *Connections) Generic() *redis.Client {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.generic == nil {
		c.generic = c.newClientLocked()
	}
	return c.generic
}

func (c *Connections) Subscriber() *redis.Client {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.subscriber == nil {
		c.subscriber = c.newClientLocked()
	}
	return c.subscriber
}

func (c *Connections) Ping(ctx context.Context) error {
	if err := c.Generic().Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close closes every client ever handed out. Safe to call more than once.
func (c *Connections) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for _, cl := range c.created {
		if err := cl.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	c.created = nil
	return errors.Join(errs...)
}

func (c *Connections) newClientLocked() *redis.Client {
	opts := *c.opts
	cl := redis.NewClient(&opts)
	c.created = append(c.created, cl)
	return cl
}
