// Package redistest starts a disposable Redis for integration tests.
package redistest

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rivernews/slack-middleware-server/internal/redisconn"

	"github.com/stretchr/testify/require"
)

const image = "redis:7-alpine"

// Start runs a Redis container for the duration of t and connects to it.
func Start(t *testing.T) *redisconn.Connections {
	t.Helper()
	conns, err := redisconn.New(URL(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conns.Close() })
	return conns
}

// URL runs a Redis container for the duration of t and returns its url. The
// test is skipped in short mode or without a container provider.
func URL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	endpoint, err := c.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)
	return endpoint + "/0"
}
