package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS: lock
// ARGV: owner job id
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// KEYS: lock
// ARGV: owner job id, ttl ms
var refreshLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// ChannelLock marks a pubsub channel as supervised by one job. Only the
// owning job id may delete the lock.
type ChannelLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewChannelLock returns locks expiring after ttl unless refreshed, zero
// means they never expire.
func NewChannelLock(rdb *redis.Client, ttl time.Duration) *ChannelLock {
	return &ChannelLock{rdb: rdb, ttl: ttl}
}

func LockKey(channel string) string {
	return "lock:" + channel
}

// Owner returns the job id holding the lock of channel, if any.
func (l *ChannelLock) Owner(ctx context.Context, channel string) (string, bool, error) {
	owner, err := l.rdb.Get(ctx, LockKey(channel)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("reading lock of %s: %w", channel, err)
	}
	return owner, true, nil
}

// Acquire takes the lock for jobID, false when another job holds it.
func (l *ChannelLock) Acquire(ctx context.Context, channel, jobID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, LockKey(channel), jobID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("writing lock of %s: %w", channel, err)
	}
	return ok, nil
}

// Refresh extends the lock while jobID still owns it.
func (l *ChannelLock) Refresh(ctx context.Context, channel, jobID string) error {
	if l.ttl <= 0 {
		return nil
	}
	err := refreshLockScript.Run(ctx, l.rdb, []string{LockKey(channel)}, jobID, l.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("refreshing lock of %s: %w", channel, err)
	}
	return nil
}

// Release deletes the lock only if jobID owns it and reports whether it did.
func (l *ChannelLock) Release(ctx context.Context, channel, jobID string) (bool, error) {
	n, err := releaseLockScript.Run(ctx, l.rdb, []string{LockKey(channel)}, jobID).Int()
	if err != nil {
		return false, fmt.Errorf("releasing lock of %s: %w", channel, err)
	}
	return n == 1, nil
}
