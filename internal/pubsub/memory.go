package pubsub

import (
	"context"
	"slices"
	"sync"
)

// memBuffer is the backlog of one subscription, later messages are dropped
// like a Redis server drops them for a slow subscriber.
const memBuffer = 256

// MemoryBroker is an in process Broker.
type MemoryBroker struct {
	mx   sync.Mutex
	subs map[string][]*memSubscription
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memSubscription)}
}

func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memSubscription{
		b:       b,
		channel: channel,
		out:     make(chan string, memBuffer),
	}
	b.mx.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mx.Unlock()
	return s, nil
}

// Publish never blocks, it returns the number of subscriptions which
// received msg.
func (b *MemoryBroker) Publish(ctx context.Context, channel, msg string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mx.Lock()
	defer b.mx.Unlock()
	var n int64
	for _, s := range b.subs[channel] {
		select {
		case s.out <- msg:
			n++
		default:
		}
	}
	return n, nil
}

// Subscribers returns the number of open subscriptions of channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.subs[channel])
}

type memSubscription struct {
	b       *MemoryBroker
	channel string
	out     chan string
	closed  bool
}

func (s *memSubscription) Messages() <-chan string {
	return s.out
}

func (s *memSubscription) Close() error {
	s.b.mx.Lock()
	defer s.b.mx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.b.subs[s.channel] = slices.DeleteFunc(s.b.subs[s.channel], func(o *memSubscription) bool { return o == s })
	if len(s.b.subs[s.channel]) == 0 {
		delete(s.b.subs, s.channel)
	}
	close(s.out)
	return nil
}
