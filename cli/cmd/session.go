package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/despacho/cli/config"
	"github.com/pithecene-io/despacho/cli/render"
	"github.com/pithecene-io/despacho/localstore"
	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/notify"
	notifyredis "github.com/pithecene-io/despacho/notify/redis"
	"github.com/pithecene-io/despacho/notify/webhook"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/service"
)

// VerboseFlag sends structured logs to stderr.
var VerboseFlag = &cli.BoolFlag{
	Name:    "verbose",
	Aliases: []string{"v"},
	Usage:   "Write structured logs to stderr",
}

// env is everything one command invocation opened.
type env struct {
	cfg      *config.Config
	session  *service.Session
	logger   *log.Logger
	metrics  *metrics.Collector
	closers  []func() error
	renderer *render.Renderer
}

// Close releases the session, then the notifier and connections.
func (e *env) Close() error {
	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Close())
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// loadConfig reads --config (when given) and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Defaults()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("remote-backend") {
		cfg.Remote.Backend = c.String("remote-backend")
	}
	if c.IsSet("remote-url") {
		cfg.Remote.URL = c.String("remote-url")
	}
	if c.IsSet("remote-token") {
		cfg.Remote.Token = c.String("remote-token")
	}
	if c.IsSet("local-backend") {
		cfg.Local.Backend = c.String("local-backend")
	}
	if c.IsSet("local-path") {
		cfg.Local.Path = c.String("local-path")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openEnv loads configuration and opens a session. surface receives the
// session's notifications for display; nil means the renderer prints
// them on stderr.
func openEnv(c *cli.Context, r *render.Renderer, surface notify.Notifier) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfig)
	}

	sessionID := uuid.NewString()
	logger := log.Nop()
	if c.Bool("verbose") {
		logger = log.NewLoggerWithWriter(cfg.SessionMeta(sessionID), c.App.ErrWriter)
	}
	e := &env{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.NewCollector(sessionID, cfg.Remote.Backend, cfg.Local.Backend),
		renderer: r,
	}

	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	store, listener, err := e.openRemote()
	if err != nil {
		return nil, err
	}
	local, err := e.openLocal(c.Context)
	if err != nil {
		return nil, err
	}
	notifier, err := e.openNotifier(sessionID, surface)
	if err != nil {
		return nil, err
	}

	e.session, err = service.NewSession(service.Options{
		Store:     store,
		Listener:  listener,
		Local:     local,
		Notifier:  notifier,
		Logger:    logger,
		Metrics:   e.metrics,
		Policy:    cfg.RetryPolicy(),
		Cache:     cfg.CacheBands(),
		ChunkSize: cfg.Batch.ChunkSize,
		Live:      cfg.LiveOrders(),
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return e, nil
}

func (e *env) openRemote() (remote.Store, remote.Listener, error) {
	var store remote.Store
	switch e.cfg.Remote.Backend {
	case "memory":
		store = remote.NewMemoryStore()
	default:
		store = remote.NewHTTPClient(e.cfg.Remote.URL, e.cfg.Remote.Token,
			&http.Client{Timeout: e.cfg.Remote.Timeout.Duration})
	}

	if e.cfg.Realtime.Feed != "redis" {
		return store, remote.NewPoller(store, e.cfg.Realtime.PollInterval.Duration), nil
	}

	opts, err := goredis.ParseURL(e.cfg.Realtime.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid realtime.redis_url: %w", err)
	}
	client := goredis.NewClient(opts)
	e.closers = append(e.closers, client.Close)

	prefix := e.cfg.Realtime.ChannelPrefix
	publishing := remote.NewPublishing(store, client, prefix, e.logger)
	return publishing, remote.NewRedisListener(client, store, prefix), nil
}

func (e *env) openLocal(ctx context.Context) (localstore.Store, error) {
	opts := []localstore.Option{
		localstore.WithLogger(e.logger),
		localstore.WithMetrics(e.metrics),
	}
	switch e.cfg.Local.Backend {
	case "memory":
		return localstore.NewMemory(opts...)
	case "s3":
		bucket, prefix := localstore.ParseS3Path(e.cfg.Local.Path)
		return localstore.NewS3(ctx, localstore.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       e.cfg.Local.Region,
			Endpoint:     e.cfg.Local.Endpoint,
			UsePathStyle: e.cfg.Local.S3PathStyle,
		}, opts...)
	default:
		return localstore.NewFS(e.cfg.Local.Path, opts...)
	}
}

func (e *env) openNotifier(sessionID string, surface notify.Notifier) (notify.Notifier, error) {
	if surface == nil && e.renderer != nil {
		surface = e.renderer
	}
	fanout := notify.Fanout{notify.NewLogNotifier(e.logger), surface}

	n := e.cfg.Notify
	var pub notify.Publisher
	switch n.Type {
	case "webhook":
		retries := webhook.DefaultRetries
		if n.Retries != nil {
			retries = *n.Retries
		}
		p, err := webhook.New(webhook.Config{
			URL:     n.URL,
			Headers: n.Headers,
			Timeout: n.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook notifier: %w", err)
		}
		pub = p
	case "redis":
		retries := notifyredis.DefaultRetries
		if n.Retries != nil {
			retries = *n.Retries
		}
		p, err := notifyredis.New(notifyredis.Config{
			URL:     n.URL,
			Channel: n.Channel,
			Timeout: n.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("redis notifier: %w", err)
		}
		pub = p
	default:
		return fanout, nil
	}

	d := notify.NewDispatcher(e.logger, sessionID, n.Buffer, pub)
	e.closers = append(e.closers, d.Close)
	return append(fanout, d), nil
}

// signalContext is c.Context cancelled on SIGINT or SIGTERM.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}
