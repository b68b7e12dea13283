package admission

import (
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/rivernews/slack-middleware-server/internal/model"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func mockSemaphore(t *testing.T, name string, limit int) (*Semaphore, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() { _ = db.Close() })
	s := NewSemaphore(db, name, limit, time.Hour)
	s.now = func() time.Time { return fixedNow }
	s.newToken = func() string { return name + "-token" }
	return s, mock
}

func expectAcquire(mock redismock.ClientMock, s *Semaphore, granted int64) {
	mock.ExpectEvalSha(acquireScript.Hash(), []string{"semaphore:" + s.name},
		fixedNow.UnixMilli(), time.Hour.Milliseconds(), s.limit, s.name+"-token",
	).SetVal(granted)
}

func TestSemaphore(t *testing.T) {
	t.Parallel()
	s, mock := mockSemaphore(t, "ci", 1)

	expectAcquire(mock, s, 1)
	token, ok, err := s.TryAcquire(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ci-token", token)

	expectAcquire(mock, s, 0)
	_, ok, err = s.TryAcquire(t.Context())
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectZAddXX("semaphore:ci", redisZ(token)).SetVal(0)
	require.NoError(t, s.Refresh(t.Context(), token))

	mock.ExpectZRem("semaphore:ci", token).SetVal(1)
	require.NoError(t, s.Release(t.Context(), token))

	mock.ExpectEvalSha(acquireScript.Hash(), []string{"semaphore:ci"},
		fixedNow.UnixMilli(), time.Hour.Milliseconds(), 1, "ci-token",
	).SetErr(errors.New("connection refused"))
	_, _, err = s.TryAcquire(t.Context())
	require.ErrorContains(t, err, "acquiring ci semaphore")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectorFallsBack(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		ci       int64
		cluster  int64
		then     string
		err      error
	}{
		{"ci free", 1, -1, "ci", nil},
		{"ci full", 0, 1, "cluster", nil},
		{"both full", 0, 0, "", model.ErrNoPlatformAvailable},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			ci, ciMock := mockSemaphore(t, "ci", 1)
			cluster, clusterMock := mockSemaphore(t, "cluster", 2)
			expectAcquire(ciMock, ci, tc.ci)
			if tc.cluster >= 0 {
				expectAcquire(clusterMock, cluster, tc.cluster)
			}

			lease, err := NewSelector(ci, cluster).Acquire(t.Context())
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Nil(t, lease)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.then, lease.Platform())
				require.Equal(t, tc.then+"-token", lease.Token)
			}
			require.NoError(t, ciMock.ExpectationsWereMet())
			require.NoError(t, clusterMock.ExpectationsWereMet())
		})
	}
}

func TestChannelLock(t *testing.T) {
	t.Parallel()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() { _ = db.Close() })
	l := NewChannelLock(db, time.Hour)
	ctx := t.Context()
	const ch = "scraperJobChannel:acme:0"

	mock.ExpectGet("lock:" + ch).RedisNil()
	_, held, err := l.Owner(ctx, ch)
	require.NoError(t, err)
	require.False(t, held)

	mock.ExpectSetNX("lock:"+ch, "job-a", time.Hour).SetVal(true)
	ok, err := l.Acquire(ctx, ch, "job-a")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectSetNX("lock:"+ch, "job-b", time.Hour).SetVal(false)
	ok, err = l.Acquire(ctx, ch, "job-b")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectGet("lock:" + ch).SetVal("job-a")
	owner, held, err := l.Owner(ctx, ch)
	require.NoError(t, err)
	require.True(t, held)
	require.Equal(t, "job-a", owner)

	mock.ExpectEvalSha(refreshLockScript.Hash(), []string{"lock:" + ch}, "job-a", time.Hour.Milliseconds()).SetVal(int64(1))
	require.NoError(t, l.Refresh(ctx, ch, "job-a"))

	// a non owner never deletes the lock
	mock.ExpectEvalSha(releaseLockScript.Hash(), []string{"lock:" + ch}, "job-b").SetVal(int64(0))
	released, err := l.Release(ctx, ch, "job-b")
	require.NoError(t, err)
	require.False(t, released)

	mock.ExpectEvalSha(releaseLockScript.Hash(), []string{"lock:" + ch}, "job-a").SetVal(int64(1))
	released, err = l.Release(ctx, ch, "job-a")
	require.NoError(t, err)
	require.True(t, released)

	require.NoError(t, mock.ExpectationsWereMet())
}

func redisZ(token string) redis.Z {
	return redis.Z{Score: float64(fixedNow.UnixMilli()), Member: token}
}
