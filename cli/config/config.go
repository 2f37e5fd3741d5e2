package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/despacho/cache"
	"github.com/pithecene-io/despacho/realtime"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

// Config represents a despacho.yaml configuration file.
// Missing values keep their Defaults. CLI flags always override config values.
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Local    LocalConfig    `yaml:"local"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Batch    BatchConfig    `yaml:"batch"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RemoteConfig selects the remote document store.
type RemoteConfig struct {
	// Backend is "http" or "memory".
	Backend string   `yaml:"backend"`
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

// RealtimeConfig selects how live orders are fed.
type RealtimeConfig struct {
	// Feed is "poll" or "redis".
	Feed          string   `yaml:"feed"`
	RedisURL      string   `yaml:"redis_url"`
	ChannelPrefix string   `yaml:"channel_prefix"`
	PollInterval  Duration `yaml:"poll_interval"`
	Limit         int      `yaml:"limit"`
}

// LocalConfig selects the durable local store.
type LocalConfig struct {
	// Backend is "fs", "s3" or "memory".
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier"`
}

// CacheConfig holds the freshness bands.
type CacheConfig struct {
	FreshFor    Duration `yaml:"fresh_for"`
	ExpireAfter Duration `yaml:"expire_after"`
}

// BatchConfig bounds bulk commits.
type BatchConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// NotifyConfig selects where notifications go besides the log.
type NotifyConfig struct {
	// Type is "", "webhook" or "redis".
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Buffer  int               `yaml:"buffer"`
}

// MetricsConfig configures the Prometheus endpoint of `despacho status`.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		Remote: RemoteConfig{
			Backend: "http",
			Timeout: Duration{30 * time.Second},
		},
		Realtime: RealtimeConfig{
			Feed:          "poll",
			ChannelPrefix: "despacho",
			PollInterval:  Duration{remote.DefaultPollInterval},
			Limit:         realtime.DefaultLimit,
		},
		Local: LocalConfig{
			Backend: "fs",
			Path:    ".despacho",
		},
		Retry: RetryConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: Duration{policy.InitialDelay},
			MaxDelay:     Duration{policy.MaxDelay},
			Multiplier:   policy.Multiplier,
		},
		Cache: CacheConfig{
			FreshFor:    Duration{cache.DefaultFreshFor},
			ExpireAfter: Duration{cache.DefaultExpireAfter},
		},
		Batch:  BatchConfig{ChunkSize: remote.MaxBatchSize},
		Notify: NotifyConfig{Buffer: 64},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case "http":
		if c.Remote.URL == "" {
			return errors.New("remote.url is required for the http backend")
		}
	case "memory":
	default:
		return fmt.Errorf("remote.backend %q (must be http or memory)", c.Remote.Backend)
	}

	switch c.Realtime.Feed {
	case "poll":
	case "redis":
		if c.Realtime.RedisURL == "" {
			return errors.New("realtime.redis_url is required for the redis feed")
		}
	default:
		return fmt.Errorf("realtime.feed %q (must be poll or redis)", c.Realtime.Feed)
	}
	if c.Realtime.Limit <= 0 {
		return fmt.Errorf("realtime.limit must be positive, got %d", c.Realtime.Limit)
	}

	switch c.Local.Backend {
	case "fs", "s3":
		if c.Local.Path == "" {
			return fmt.Errorf("local.path is required for the %s backend", c.Local.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("local.backend %q (must be fs, s3 or memory)", c.Local.Backend)
	}

	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Cache.FreshFor.Duration <= 0 || c.Cache.ExpireAfter.Duration < c.Cache.FreshFor.Duration {
		return fmt.Errorf("cache: need 0 < fresh_for (%s) <= expire_after (%s)",
			c.Cache.FreshFor, c.Cache.ExpireAfter)
	}
	if c.Batch.ChunkSize <= 0 || c.Batch.ChunkSize > remote.MaxBatchSize {
		return fmt.Errorf("batch.chunk_size must be in 1..%d, got %d", remote.MaxBatchSize, c.Batch.ChunkSize)
	}

	switch c.Notify.Type {
	case "":
	case "webhook", "redis":
		if c.Notify.URL == "" {
			return fmt.Errorf("notify.url is required for the %s notifier", c.Notify.Type)
		}
	default:
		return fmt.Errorf("notify.type %q (must be webhook or redis)", c.Notify.Type)
	}
	if c.Notify.Retries != nil && *c.Notify.Retries < 0 {
		return errors.New("notify.retries must not be negative")
	}
	return nil
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: c.Retry.InitialDelay.Duration,
		MaxDelay:     c.Retry.MaxDelay.Duration,
		Multiplier:   c.Retry.Multiplier,
	}
}

// CacheBands converts the cache section.
func (c *Config) CacheBands() cache.Config {
	return cache.Config{
		FreshFor:    c.Cache.FreshFor.Duration,
		ExpireAfter: c.Cache.ExpireAfter.Duration,
	}
}

// LiveOrders returns the live window for orders.
func (c *Config) LiveOrders() realtime.Config {
	live := realtime.OrdersConfig()
	live.Limit = c.Realtime.Limit
	return live
}

// SessionMeta describes a session opened with this configuration.
func (c *Config) SessionMeta(sessionID string) *types.SessionMeta {
	return &types.SessionMeta{SessionID: sessionID, Backend: c.Remote.Backend}
}
