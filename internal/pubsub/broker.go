package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscription delivers the raw messages of one channel in publish order.
// Messages is closed after Close.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

type Broker interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	// Publish returns the number of subscribers which received msg.
	Publish(ctx context.Context, channel, msg string) (int64, error)
}

// RedisBroker publishes through a command connection and subscribes
// through a dedicated one.
type RedisBroker struct {
	pub *redis.Client
	sub *redis.Client
}

func NewRedisBroker(pub, sub *redis.Client) *RedisBroker {
	return &RedisBroker{pub: pub, sub: sub}
}

func (b *RedisBroker) Publish(ctx context.Context, channel, msg string) (int64, error) {
	n, err := b.pub.Publish(ctx, channel, msg).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return n, nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.sub.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	s := &redisSubscription{
		ps:  ps,
		out: make(chan string),
	}
	src := ps.Channel()
	go func() {
		defer close(s.out)
		for m := range src {
			s.out <- m.Payload
		}
	}()
	return s, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan string
	once sync.Once
	err  error
}

func (s *redisSubscription) Messages() <-chan string {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
		// unblock the forwarder when nobody reads anymore
		go func() {
			for range s.out {
			}
		}()
	})
	return s.err
}
