package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rivernews/slack-middleware-server/internal/config"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, "supervisor", cfg.Queues.Supervisor.Name)
	require.Equal(t, "scraper", cfg.Queues.Scraper.Name)
	require.Equal(t, 4, cfg.Queues.Scraper.Concurrency)
	require.Equal(t, 5*time.Minute, cfg.Scraper.LivenessTimeout)
	require.Equal(t, 24*time.Hour, cfg.Queues.Retention)
	require.Equal(t, "scraperAdmin", cfg.Scraper.AdminChannel)
	// defaults must be usable without any platform credentials
	require.False(t, cfg.Platform.CI.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "middleware.yaml")
	err := os.WriteFile(path, []byte(`
runtime: production
queues:
  scraper:
    concurrency: 2
scraper:
  liveness_timeout: 10s
platform:
  cluster:
    enabled: true
    limit: 3
    node_selector:
      pool: scraper
cron:
  orgs: [acme, beta]
`), 0o600)
	require.NoError(t, err)

	t.Setenv("SLACK_MIDDLEWARE_REDIS_URL", "redis://redis:6379/1")
	t.Setenv("SLACK_MIDDLEWARE_PLATFORM_CI_TOKEN", "secret")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.False(t, cfg.IsDevelopment())
	require.Equal(t, 2, cfg.Queues.Scraper.Concurrency)
	require.Equal(t, 10*time.Second, cfg.Scraper.LivenessTimeout)
	require.Equal(t, 3, cfg.Platform.Cluster.Limit)
	require.Equal(t, map[string]string{"pool": "scraper"}, cfg.Platform.Cluster.NodeSelector)
	require.Equal(t, []string{"acme", "beta"}, cfg.Cron.Orgs)
	require.Equal(t, "redis://redis:6379/1", cfg.Redis.URL)
	require.Equal(t, "secret", cfg.Platform.CI.Token)

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	require.Contains(t, buf.String(), "runtime: production")
	require.NotContains(t, buf.String(), "secret")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Runtime = "staging"
	bad.Queues.Scraper.Name = bad.Queues.Supervisor.Name
	bad.Scraper.LivenessTimeout = 0
	err = bad.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "runtime")
	require.ErrorContains(t, err, "must differ")
	require.ErrorContains(t, err, "liveness_timeout")
}

func TestValidatePlatformAndLeases(t *testing.T) {
	t.Parallel()
	base, err := config.Load("")
	require.NoError(t, err)

	var tests = []struct {
		scenario string
		mutate   func(*config.Config)
		wantErr  string
	}{
		{
			scenario: "ci enabled without repo",
			mutate:   func(c *config.Config) { c.Platform.CI.Enabled = true },
			wantErr:  "platform.ci.repo is required",
		},
		{
			scenario: "ci enabled with repo",
			mutate: func(c *config.Config) {
				c.Platform.CI.Enabled = true
				c.Platform.CI.Repo = "rivernews/review-scraper"
			},
		},
		{
			scenario: "lease shorter than liveness timeout",
			mutate: func(c *config.Config) {
				c.Scraper.LivenessTimeout = 10 * time.Minute
				c.Scraper.LeaseTTL = 5 * time.Minute
			},
			wantErr: "scraper.lease_ttl (5m0s) must not be shorter than scraper.liveness_timeout (10m0s)",
		},
		{
			scenario: "lease equal to liveness timeout",
			mutate: func(c *config.Config) {
				c.Scraper.LivenessTimeout = 5 * time.Minute
				c.Scraper.LeaseTTL = 5 * time.Minute
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
