package redisconn_test

import (
	"testing"

	"github.com/rivernews/slack-middleware-server/internal/redisconn"

	"github.com/stretchr/testify/require"
)

func TestConnectionsShared(t *testing.T) {
	t.Parallel()
	conns, err := redisconn.New("redis://localhost:6379/3")
	require.NoError(t, err)

	require.Same(t, conns.Generic(), conns.Generic())
	require.Same(t, conns.Subscriber(), conns.Subscriber())
	require.NotSame(t, conns.Generic(), conns.Subscriber())
	require.Equal(t, 3, conns.Generic().Options().DB)

	require.NoError(t, conns.Close())
	require.NoError(t, conns.Close())
}

func TestNewInvalidURL(t *testing.T) {
	t.Parallel()
	_, err := redisconn.New("http://nope")
	require.Error(t, err)
}
