package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "SLACK_MIDDLEWARE"

	RuntimeDevelopment = "development"
	RuntimeProduction  = "production"
)

type Config struct {
	Runtime    string     `mapstructure:"runtime" yaml:"runtime"`
	Verbose    bool       `mapstructure:"verbose" yaml:"verbose"`
	Redis      Redis      `mapstructure:"redis" yaml:"redis"`
	Queues     Queues     `mapstructure:"queues" yaml:"queues"`
	Supervisor Supervisor `mapstructure:"supervisor" yaml:"supervisor"`
	Scraper    Scraper    `mapstructure:"scraper" yaml:"scraper"`
	Platform   Platform   `mapstructure:"platform" yaml:"platform"`
	Slack      Slack      `mapstructure:"slack" yaml:"slack"`
	HTTP       HTTP       `mapstructure:"http" yaml:"http"`
	Cron       Cron       `mapstructure:"cron" yaml:"cron"`
	S3         S3         `mapstructure:"s3" yaml:"s3"`
	Archive    Archive    `mapstructure:"archive" yaml:"archive"`
}

type Redis struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type Queue struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

type Queues struct {
	Supervisor Queue         `mapstructure:"supervisor" yaml:"supervisor"`
	Scraper    Queue         `mapstructure:"scraper" yaml:"scraper"`
	Retention  time.Duration `mapstructure:"retention" yaml:"retention"`
	LockTTL    time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

type Supervisor struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

type Scraper struct {
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout" yaml:"liveness_timeout"`
	ChannelPrefix   string        `mapstructure:"channel_prefix" yaml:"channel_prefix"`
	AdminChannel    string        `mapstructure:"admin_channel" yaml:"admin_channel"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`
}

type Platform struct {
	CI      CI      `mapstructure:"ci" yaml:"ci"`
	Cluster Cluster `mapstructure:"cluster" yaml:"cluster"`
}

type CI struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Repo    string `mapstructure:"repo" yaml:"repo"`
	Token   string `mapstructure:"token" yaml:"-"`
	Branch  string `mapstructure:"branch" yaml:"branch"`
	Limit   int    `mapstructure:"limit" yaml:"limit"`
}

type Cluster struct {
	Enabled          bool              `mapstructure:"enabled" yaml:"enabled"`
	Kubeconfig       string            `mapstructure:"kubeconfig" yaml:"kubeconfig"`
	Namespace        string            `mapstructure:"namespace" yaml:"namespace"`
	Image            string            `mapstructure:"image" yaml:"image"`
	NodeSelector     map[string]string `mapstructure:"node_selector" yaml:"node_selector"`
	Limit            int               `mapstructure:"limit" yaml:"limit"`
	TTLAfterFinished time.Duration     `mapstructure:"ttl_after_finished" yaml:"ttl_after_finished"`
}

type Slack struct {
	WebhookURL string  `mapstructure:"webhook_url" yaml:"-"`
	Rate       float64 `mapstructure:"rate" yaml:"rate"`
}

type HTTP struct {
	Addr  string `mapstructure:"addr" yaml:"addr"`
	Token string `mapstructure:"token" yaml:"-"`
}

type Cron struct {
	Schedule string   `mapstructure:"schedule" yaml:"schedule"`
	Orgs     []string `mapstructure:"orgs" yaml:"orgs"`
}

type S3 struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Region string `mapstructure:"region" yaml:"region"`
}

type Archive struct {
	Path string `mapstructure:"path" yaml:"path"`
}

func (c Config) IsDevelopment() bool {
	return c.Runtime == RuntimeDevelopment
}

var defaults = map[string]any{
	"runtime":                             RuntimeDevelopment,
	"verbose":                             false,
	"redis.url":                           "redis://localhost:6379/0",
	"queues.supervisor.name":              "supervisor",
	"queues.supervisor.concurrency":       1,
	"queues.scraper.name":                 "scraper",
	"queues.scraper.concurrency":          4,
	"queues.retention":                    "24h",
	"queues.lock_ttl":                     "30s",
	"supervisor.max_concurrent":           1,
	"scraper.liveness_timeout":            "5m",
	"scraper.channel_prefix":              "scraperJobChannel",
	"scraper.admin_channel":               "scraperAdmin",
	"scraper.lease_ttl":                   "1h",
	"platform.ci.enabled":                 false,
	"platform.ci.base_url":                "https://api.travis-ci.com",
	"platform.ci.repo":                    "",
	"platform.ci.token":                   "",
	"platform.ci.branch":                  "master",
	"platform.ci.limit":                   1,
	"platform.cluster.enabled":            false,
	"platform.cluster.kubeconfig":         "",
	"platform.cluster.namespace":          "default",
	"platform.cluster.image":              "",
	"platform.cluster.node_selector":      map[string]string{},
	"platform.cluster.limit":              2,
	"platform.cluster.ttl_after_finished": "1h",
	"slack.webhook_url":                   "",
	"slack.rate":                          1.0,
	"http.addr":                           ":8080",
	"http.token":                          "",
	"cron.schedule":                       "",
	"cron.orgs":                           []string{},
	"s3.bucket":                           "",
	"s3.prefix":                           "",
	"s3.region":                           "",
	"archive.path":                        "",
}

// Load reads the optional YAML file at path and applies SLACK_MIDDLEWARE_*
// environment overrides, e.g. SLACK_MIDDLEWARE_REDIS_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Runtime != RuntimeDevelopment && c.Runtime != RuntimeProduction {
		errs = append(errs, fmt.Errorf("runtime: must be %s or %s, got %q", RuntimeDevelopment, RuntimeProduction, c.Runtime))
	}
	if c.Queues.Supervisor.Concurrency < 1 || c.Queues.Scraper.Concurrency < 1 {
		errs = append(errs, errors.New("queues: concurrency must be at least 1"))
	}
	if c.Queues.Supervisor.Name == c.Queues.Scraper.Name {
		errs = append(errs, errors.New("queues: supervisor and scraper queues must differ"))
	}
	if c.Supervisor.MaxConcurrent < 1 {
		errs = append(errs, errors.New("supervisor.max_concurrent must be at least 1"))
	}
	if c.Scraper.LivenessTimeout <= 0 {
		errs = append(errs, errors.New("scraper.liveness_timeout must be positive"))
	}
	if c.Scraper.LeaseTTL < c.Scraper.LivenessTimeout {
		// leases are only refreshed on worker messages
		errs = append(errs, fmt.Errorf("scraper.lease_ttl (%s) must not be shorter than scraper.liveness_timeout (%s)",
			c.Scraper.LeaseTTL, c.Scraper.LivenessTimeout))
	}
	if c.Platform.CI.Enabled && c.Platform.CI.Limit < 1 {
		errs = append(errs, errors.New("platform.ci.limit must be at least 1"))
	}
	if c.Platform.CI.Enabled && c.Platform.CI.Repo == "" {
		errs = append(errs, errors.New("platform.ci.repo is required when platform.ci.enabled"))
	}
	if c.Platform.Cluster.Enabled && c.Platform.Cluster.Limit < 1 {
		errs = append(errs, errors.New("platform.cluster.limit must be at least 1"))
	}
	return errors.Join(errs...)
}

// WriteYAML renders c, secrets are omitted.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}
