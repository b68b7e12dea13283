package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS: semaphore zset
// ARGV: now ms, lease ttl ms, limit, token
var acquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tonumber(ARGV[1]) - tonumber(ARGV[2]))
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  return 1
end
return 0
`)

// Semaphore is a counting semaphore shared by every process through a Redis
// sorted set. Members are lease tokens scored by their last refresh, leases
// not refreshed within ttl are expired by the next Acquire.
type Semaphore struct {
	rdb   *redis.Client
	name  string
	limit int
	ttl   time.Duration

	now      func() time.Time
	newToken func() string
}

func NewSemaphore(rdb *redis.Client, name string, limit int, ttl time.Duration) *Semaphore {
	return &Semaphore{
		rdb:   rdb,
		name:  name,
		limit: limit,
		ttl:   ttl,

		now:      time.Now,
		newToken: uuid.NewString,
	}
}

func (s *Semaphore) Name() string {
	return s.name
}

func (s *Semaphore) key() string {
	return "semaphore:" + s.name
}

// TryAcquire returns a lease token, or ok == false when all slots are taken.
func (s *Semaphore) TryAcquire(ctx context.Context) (token string, ok bool, err error) {
	token = s.newToken()
	n, err := acquireScript.Run(ctx, s.rdb, []string{s.key()},
		s.now().UnixMilli(), s.ttl.Milliseconds(), s.limit, token,
	).Int()
	if err != nil {
		return "", false, fmt.Errorf("acquiring %s semaphore: %w", s.name, err)
	}
	if n != 1 {
		return "", false, nil
	}
	return token, true, nil
}

// Refresh extends the lease of token, an expired lease is not recreated.
func (s *Semaphore) Refresh(ctx context.Context, token string) error {
	err := s.rdb.ZAddXX(ctx, s.key(), redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: token,
	}).Err()
	if err != nil {
		return fmt.Errorf("refreshing %s semaphore: %w", s.name, err)
	}
	return nil
}

func (s *Semaphore) Release(ctx context.Context, token string) error {
	if err := s.rdb.ZRem(ctx, s.key(), token).Err(); err != nil {
		return fmt.Errorf("releasing %s semaphore: %w", s.name, err)
	}
	return nil
}

// Holders returns the number of live leases.
func (s *Semaphore) Holders(ctx context.Context) (int64, error) {
	from := strconv.FormatInt(s.now().Add(-s.ttl).UnixMilli(), 10)
	return s.rdb.ZCount(ctx, s.key(), from, "+inf").Result()
}
