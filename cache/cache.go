// Package cache serves entity lists with stale-while-revalidate.
//
// A Resource keeps the last fetched list of one entity type and answers
// reads by age:
//   - Fresh (younger than FreshFor): served from memory, no remote call
//   - Stale (up to ExpireAfter): served from memory while one background
//     refresh runs
//   - Expired (or never fetched): fetched on the spot through the retry
//     executor, falling back to the durable local copy on failure
//
// Get never returns an error. Failures surface as notifications and as
// the Source of the result.
package cache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pithecene-io/despacho/localstore"
	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/notify"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

// Default age bands.
const (
	DefaultFreshFor    = 30 * time.Second
	DefaultExpireAfter = 5 * time.Minute
)

// MsgUsingCachedData is emitted when a read falls back to the local copy.
const MsgUsingCachedData = "Using cached data. Check your connection."

// Source tells where a read was served from.
type Source string

// Read sources.
const (
	SourceFresh    Source = "fresh"
	SourceStale    Source = "stale"
	SourceFetched  Source = "fetched"
	SourceFallback Source = "fallback"
	SourceEmpty    Source = "empty"
)

// Config sets the age bands.
type Config struct {
	FreshFor    time.Duration
	ExpireAfter time.Duration
}

// DefaultConfig returns 30s fresh, 5m expiry.
func DefaultConfig() Config {
	return Config{FreshFor: DefaultFreshFor, ExpireAfter: DefaultExpireAfter}
}

// Result is the outcome of one read.
type Result[T any] struct {
	Items     []T
	Source    Source
	FetchedAt time.Time
}

// Fetcher loads the full list from the remote store.
type Fetcher[T any] func(ctx context.Context) ([]T, error)

// Deps are the session services a Resource uses. Only Executor is
// required.
type Deps struct {
	Executor *retry.Executor
	Local    localstore.Store
	Notifier notify.Notifier
	Logger   *log.Logger
	Metrics  *metrics.Collector
	Clock    func() time.Time
	Config   Config
}

// Resource caches one entity list. Safe for concurrent use.
type Resource[T any] struct {
	kind     types.Kind
	fetch    Fetcher[T]
	exec     *retry.Executor
	local    localstore.Store
	notifier notify.Notifier
	logger   *log.Logger
	metrics  *metrics.Collector
	now      func() time.Time
	cfg      Config

	mu        sync.Mutex
	data      []T
	loaded    bool
	fetchedAt time.Time
	gen       uint64

	refreshing atomic.Bool
	flight     singleflight.Group
	background sync.WaitGroup
}

// New creates an empty resource for kind.
func New[T any](kind types.Kind, fetch Fetcher[T], deps Deps) *Resource[T] {
	r := &Resource[T]{
		kind:     kind,
		fetch:    fetch,
		exec:     deps.Executor,
		local:    deps.Local,
		notifier: deps.Notifier,
		logger:   deps.Logger.With("cache"),
		metrics:  deps.Metrics,
		now:      deps.Clock,
		cfg:      deps.Config,
	}
	if r.notifier == nil {
		r.notifier = notify.Nop
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.cfg.FreshFor <= 0 {
		r.cfg.FreshFor = DefaultFreshFor
	}
	if r.cfg.ExpireAfter < r.cfg.FreshFor {
		r.cfg.ExpireAfter = DefaultExpireAfter
	}
	return r
}

// Kind returns the entity type the resource caches.
func (r *Resource[T]) Kind() types.Kind {
	return r.kind
}

// Get returns the list according to its age.
func (r *Resource[T]) Get(ctx context.Context) Result[T] {
	r.mu.Lock()
	data, loaded, fetchedAt, gen := r.data, r.loaded, r.fetchedAt, r.gen
	r.mu.Unlock()

	age := r.now().Sub(fetchedAt)
	switch {
	case loaded && age < r.cfg.FreshFor:
		r.metrics.IncCacheRead(string(SourceFresh))
		return Result[T]{Items: data, Source: SourceFresh, FetchedAt: fetchedAt}
	case loaded && age < r.cfg.ExpireAfter:
		r.metrics.IncCacheRead(string(SourceStale))
		r.startRefresh(ctx)
		return Result[T]{Items: data, Source: SourceStale, FetchedAt: fetchedAt}
	}
	return r.load(ctx, gen)
}

// Invalidate forces the next Get through the expired path.
func (r *Resource[T]) Invalidate() {
	r.mu.Lock()
	r.fetchedAt = time.Time{}
	r.gen++
	r.mu.Unlock()
}

// Wait blocks until background refreshes have finished.
func (r *Resource[T]) Wait() {
	r.background.Wait()
}

// load fetches synchronously. Concurrent loads of one generation share a
// single remote call, which runs detached from every caller so one caller
// giving up does not fail the others.
func (r *Resource[T]) load(ctx context.Context, gen uint64) Result[T] {
	shared := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		items, err := retry.Do(shared, r.exec, "load "+string(r.kind), r.fetch)
		if err != nil {
			return nil, err
		}
		return r.store(shared, gen, items), nil
	})

	var err error
	select {
	case res := <-ch:
		if res.Err == nil {
			r.metrics.IncCacheRead(string(SourceFetched))
			return res.Val.(Result[T])
		}
		err = res.Err
	case <-ctx.Done():
		// The caller left; the shared fetch still completes for the others.
		if items := r.loadLocal(shared); len(items) > 0 {
			r.metrics.IncCacheRead(string(SourceFallback))
			return Result[T]{Items: items, Source: SourceFallback}
		}
		r.metrics.IncCacheRead(string(SourceEmpty))
		return Result[T]{Items: []T{}, Source: SourceEmpty}
	}

	r.logger.Warn("fetch failed", map[string]any{"kind": string(r.kind), "error": err.Error()})
	if items := r.loadLocal(shared); len(items) > 0 {
		r.metrics.IncCacheRead(string(SourceFallback))
		r.notifier.Notify(notify.New(notify.LevelInfo, "load "+string(r.kind), MsgUsingCachedData))
		return Result[T]{Items: items, Source: SourceFallback}
	}
	r.metrics.IncCacheRead(string(SourceEmpty))
	r.notifier.Notify(notify.New(notify.LevelError, "load "+string(r.kind), "Error loading "+string(r.kind)))
	return Result[T]{Items: []T{}, Source: SourceEmpty}
}

func (r *Resource[T]) startRefresh(ctx context.Context) {
	if !r.refreshing.CompareAndSwap(false, true) {
		return
	}
	r.metrics.IncRefreshStarted()

	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		defer r.refreshing.Store(false)

		items, err := retry.Do(ctx, r.exec, "refresh "+string(r.kind), r.fetch)
		if err != nil {
			r.metrics.IncRefreshFailed()
			r.logger.Warn("background refresh failed", map[string]any{
				"kind":  string(r.kind),
				"error": err.Error(),
			})
			return
		}
		r.store(ctx, gen, items)
	}()
}

// store installs items fetched under gen and persists them locally.
// An Invalidate since gen keeps the entry expired.
func (r *Resource[T]) store(ctx context.Context, gen uint64, items []T) Result[T] {
	if items == nil {
		items = []T{}
	}
	now := r.now()

	r.mu.Lock()
	r.data = items
	r.loaded = true
	if r.gen == gen {
		r.fetchedAt = now
	}
	r.mu.Unlock()

	if r.local != nil {
		if err := localstore.SaveList(ctx, r.local, r.kind, items); err != nil {
			r.logger.Warn("local save failed", map[string]any{
				"kind":  string(r.kind),
				"error": err.Error(),
			})
		}
	}
	return Result[T]{Items: items, Source: SourceFetched, FetchedAt: now}
}

func (r *Resource[T]) loadLocal(ctx context.Context) []T {
	if r.local == nil {
		return nil
	}
	items, err := localstore.LoadList[T](ctx, r.local, r.kind)
	if err != nil {
		r.logger.Warn("local load failed", map[string]any{
			"kind":  string(r.kind),
			"error": err.Error(),
		})
		return nil
	}
	return items
}
