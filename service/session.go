// Package service is the upward interface of the data layer.
//
// A Session owns everything that lives for one application session: the
// connection tracker, the retry executor, one cache per entity list, the
// batch writer and the live order board. Callers build it once and pass
// it explicitly; the package holds no global state.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/despacho/batch"
	"github.com/pithecene-io/despacho/cache"
	"github.com/pithecene-io/despacho/connstate"
	"github.com/pithecene-io/despacho/failure"
	"github.com/pithecene-io/despacho/localstore"
	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/notify"
	"github.com/pithecene-io/despacho/realtime"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

// Operator-facing messages.
const (
	MsgSaved            = "Saved successfully"
	MsgOrderUpdateError = "Error updating order. Check permissions."
	MsgImportPermission = "Permission error. Check access rules."
	MsgOrdersArchived   = "Orders archived"
)

// Options configures a Session. Store is required; everything else has
// a default.
type Options struct {
	// Store is the remote document store.
	Store remote.Store
	// Listener feeds live orders. Defaults to Store when it is also a
	// Listener, else to a Poller over Store.
	Listener remote.Listener
	// Local is the durable fallback store. Defaults to an in-memory one.
	Local localstore.Store

	Notifier notify.Notifier
	Logger   *log.Logger
	Metrics  *metrics.Collector

	// Policy is the retry policy. Zero means retry.DefaultPolicy.
	Policy retry.Policy
	// Cache sets the freshness bands. Zero means cache.DefaultConfig.
	Cache cache.Config
	// ChunkSize bounds bulk commits. Zero means remote.MaxBatchSize.
	ChunkSize int
	// Live selects the live orders window. Zero means realtime.OrdersConfig.
	Live realtime.Config

	// Clock and Sleep replace time for tests.
	Clock func() time.Time
	Sleep retry.SleepFunc
}

// Session is one application session of the data layer.
// Safe for concurrent use.
type Session struct {
	store    remote.Store
	listener remote.Listener
	local    localstore.Store
	notifier notify.Notifier
	base     *log.Logger
	logger   *log.Logger
	metrics  *metrics.Collector
	tracker  *connstate.Tracker
	exec     *retry.Executor
	batch    *batch.Writer
	now      func() time.Time

	Clients  *Repository[types.Client]
	Couriers *Repository[types.Courier]
	Orders   *Orders

	closeOnce sync.Once
}

// NewSession builds a session from opts.
func NewSession(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session needs a remote store")
	}
	s := &Session{
		store:    opts.Store,
		listener: opts.Listener,
		local:    opts.Local,
		notifier: opts.Notifier,
		base:     opts.Logger,
		logger:   opts.Logger.With("service"),
		metrics:  opts.Metrics,
		tracker:  connstate.NewTracker(),
		now:      opts.Clock,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.listener == nil {
		if l, ok := opts.Store.(remote.Listener); ok {
			s.listener = l
		} else {
			s.listener = remote.NewPoller(opts.Store, 0)
		}
	}
	if s.local == nil {
		mem, err := localstore.NewMemory(localstore.WithLogger(opts.Logger), localstore.WithMetrics(opts.Metrics))
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
		s.local = mem
	}

	policy := opts.Policy
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy()
	}
	retryOpts := []retry.Option{
		retry.WithNotifier(s.notifier),
		retry.WithLogger(opts.Logger),
		retry.WithMetrics(opts.Metrics),
		retry.WithClock(s.now),
	}
	if opts.Sleep != nil {
		retryOpts = append(retryOpts, retry.WithSleep(opts.Sleep))
	}
	exec, err := retry.New(policy, s.tracker, retryOpts...)
	if err != nil {
		return nil, err
	}
	s.exec = exec

	writer, err := batch.NewWriter(opts.Store, exec, batch.Config{
		ChunkSize: opts.ChunkSize,
		Logger:    opts.Logger,
		Metrics:   opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.batch = writer

	deps := cache.Deps{
		Executor: exec,
		Local:    s.local,
		Notifier: s.notifier,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Clock:    s.now,
		Config:   opts.Cache,
	}
	s.Clients = newRepository(s, clientCodec, deps)
	s.Couriers = newRepository(s, courierCodec, deps)

	live := opts.Live
	if live.Collection == "" {
		live = realtime.OrdersConfig()
	}
	orders, err := newOrders(s, deps, live)
	if err != nil {
		return nil, err
	}
	s.Orders = orders
	return s, nil
}

// Tracker returns the session's connection tracker.
func (s *Session) Tracker() *connstate.Tracker {
	return s.tracker
}

// Executor returns the session's retry executor.
func (s *Session) Executor() *retry.Executor {
	return s.exec
}

// Metrics returns the session's collector, which may be nil.
func (s *Session) Metrics() *metrics.Collector {
	return s.metrics
}

// Local returns the durable local store.
func (s *Session) Local() localstore.Store {
	return s.local
}

// Close waits for background cache refreshes and flushes the logger.
// It does not close the remote store or the notifier.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Clients.cache.Wait()
		s.Couriers.cache.Wait()
		s.Orders.cache.Wait()
		_ = s.logger.Sync()
	})
	return nil
}

// ConnectionState returns a snapshot of connectivity.
func (s *Session) ConnectionState() connstate.State {
	return s.tracker.Snapshot()
}

// Status is a point-in-time report of one session.
type Status struct {
	Connection connstate.State  `json:"connection"`
	Metrics    metrics.Snapshot `json:"metrics"`
}

// Status reports connectivity and counters.
func (s *Session) Status() Status {
	return Status{Connection: s.tracker.Snapshot(), Metrics: s.metrics.Snapshot()}
}

// ResetPermissionErrors clears the permission failure count.
func (s *Session) ResetPermissionErrors() {
	s.tracker.Reset()
	s.logger.Info("permission errors reset", nil)
}

// VerifyConnection runs one cheap query without retries. Success marks
// the session online and clears permission failures; a permission
// failure is counted; anything else marks the session offline.
func (s *Session) VerifyConnection(ctx context.Context) error {
	_, err := s.store.Query(ctx, remote.Query{Collection: string(types.KindSettings), Limit: 1})
	if err == nil {
		s.tracker.SetOnline(true)
		if s.tracker.RecordSuccess() {
			s.notifier.Notify(notify.New(notify.LevelSuccess, "verify connection", retry.MsgConnectionRestored))
		}
		return nil
	}

	kind := failure.Classify(err)
	if kind == failure.Permission {
		s.tracker.RecordPermissionDenied(s.now())
	} else {
		s.tracker.SetOnline(false)
	}
	s.logger.Warn("connection check failed", map[string]any{
		"kind":  kind.String(),
		"error": err.Error(),
	})
	return failure.Wrap(err, "verify connection", 1)
}

func (s *Session) notifyError(op, msg string) {
	s.notifier.Notify(notify.New(notify.LevelError, op, msg))
}

func (s *Session) notifySuccess(op, msg string) {
	s.notifier.Notify(notify.New(notify.LevelSuccess, op, msg))
}
