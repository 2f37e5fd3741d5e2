// Package redis publishes operator notifications over Redis pub/sub.
//
// Notifications are sent as JSON to a configurable channel so that every
// panel attached to the same Redis sees the same toasts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/despacho/notify"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "despacho:notifications"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub publisher.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: despacho:notifications).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Publisher sends notifications via Redis PUBLISH.
type Publisher struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub publisher from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Publisher{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the notification as a JSON PUBLISH to the configured
// channel. Retries with exponential backoff until the client is closed
// or attempts run out.
func (p *Publisher) Publish(ctx context.Context, n *notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis: marshal notification: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(publishCtx, p.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, goredis.ErrClosed) {
			return fmt.Errorf("redis: %w", lastErr)
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases publisher resources.
func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ notify.Publisher = (*Publisher)(nil)
