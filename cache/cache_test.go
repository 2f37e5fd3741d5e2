package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/despacho/connstate"
	"github.com/pithecene-io/despacho/localstore"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/notify"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubFetcher returns queued results and counts calls.
type stubFetcher struct {
	mu    sync.Mutex
	calls int
	items [][]string
	errs  []error
	// gate, when set, is called before returning for the given call number.
	gate func(call int)
}

func (f *stubFetcher) Fetch(_ context.Context) ([]string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	var items []string
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err == nil && len(f.items) > 0 {
		items = f.items[0]
		if len(f.items) > 1 {
			f.items = f.items[1:]
		}
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		gate(call)
	}
	return items, err
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	clock    *fakeClock
	fetcher  *stubFetcher
	recorder *notify.Recorder
	metrics  *metrics.Collector
	local    *localstore.Lode
	res      *Resource[string]
}

func newFixture(t *testing.T, fetcher *stubFetcher) *fixture {
	t.Helper()
	exec, err := retry.New(retry.DefaultPolicy(), connstate.NewTracker(),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("retry.New: %v", err)
	}
	local, err := localstore.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	f := &fixture{
		clock:    newFakeClock(),
		fetcher:  fetcher,
		recorder: &notify.Recorder{},
		metrics:  metrics.NewCollector("", "", ""),
		local:    local,
	}
	f.res = New[string](types.KindClients, fetcher.Fetch, Deps{
		Executor: exec,
		Local:    local,
		Notifier: f.recorder,
		Metrics:  f.metrics,
		Clock:    f.clock.Now,
		Config:   DefaultConfig(),
	})
	return f
}

func TestGet_FreshMakesNoCall(t *testing.T) {
	f := newFixture(t, &stubFetcher{items: [][]string{{"a", "b"}}})
	ctx := t.Context()

	first := f.res.Get(ctx)
	if first.Source != SourceFetched || len(first.Items) != 2 {
		t.Fatalf("first read = %+v", first)
	}

	f.clock.Advance(29 * time.Second)
	second := f.res.Get(ctx)
	if second.Source != SourceFresh {
		t.Errorf("source = %s, want fresh", second.Source)
	}
	if got := f.fetcher.Calls(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if got := f.metrics.Snapshot().CacheReads["fresh"]; got != 1 {
		t.Errorf("fresh reads = %d, want 1", got)
	}
}

func TestGet_StaleServesAndRefreshesOnce(t *testing.T) {
	release := make(chan struct{})
	fetcher := &stubFetcher{
		items: [][]string{{"old"}, {"new"}},
		gate: func(call int) {
			if call == 2 {
				<-release
			}
		},
	}
	f := newFixture(t, fetcher)
	ctx := t.Context()

	f.res.Get(ctx)
	f.clock.Advance(time.Minute)

	for range 10 {
		got := f.res.Get(ctx)
		if got.Source != SourceStale || got.Items[0] != "old" {
			t.Fatalf("stale read = %+v", got)
		}
	}
	close(release)
	f.res.Wait()

	if got := fetcher.Calls(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
	if got := f.metrics.Snapshot().RefreshesStarted; got != 1 {
		t.Errorf("refreshes started = %d, want 1", got)
	}

	after := f.res.Get(ctx)
	if after.Source != SourceFresh || after.Items[0] != "new" {
		t.Errorf("read after refresh = %+v", after)
	}

	saved, err := localstore.LoadList[string](ctx, f.local, types.KindClients)
	if err != nil || len(saved) != 1 || saved[0] != "new" {
		t.Errorf("local copy = %v, %v", saved, err)
	}
}

func TestGet_StaleRefreshFailureKeepsData(t *testing.T) {
	fetcher := &stubFetcher{items: [][]string{{"a"}}}
	f := newFixture(t, fetcher)
	ctx := t.Context()

	f.res.Get(ctx)
	fetcher.mu.Lock()
	fetcher.errs = []error{errors.New("malformed query")}
	fetcher.mu.Unlock()

	f.clock.Advance(2 * time.Minute)
	if got := f.res.Get(ctx); got.Source != SourceStale {
		t.Fatalf("source = %s, want stale", got.Source)
	}
	f.res.Wait()

	if got := f.metrics.Snapshot().RefreshesFailed; got != 1 {
		t.Errorf("refreshes failed = %d, want 1", got)
	}
	if got := f.res.Get(ctx); got.Source != SourceStale || got.Items[0] != "a" {
		t.Errorf("read after failed refresh = %+v", got)
	}
	f.res.Wait()
	if n := len(f.recorder.All()); n != 0 {
		t.Errorf("background failure notified %d times", n)
	}
}

func TestGet_ExpiredFetchesAgain(t *testing.T) {
	f := newFixture(t, &stubFetcher{items: [][]string{{"a"}, {"b"}}})
	ctx := t.Context()

	f.res.Get(ctx)
	f.clock.Advance(5 * time.Minute)

	got := f.res.Get(ctx)
	if got.Source != SourceFetched || got.Items[0] != "b" {
		t.Errorf("expired read = %+v", got)
	}
	if calls := f.fetcher.Calls(); calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestInvalidate_ForcesFetch(t *testing.T) {
	f := newFixture(t, &stubFetcher{items: [][]string{{"a"}, {"a", "b"}}})
	ctx := t.Context()

	f.res.Get(ctx)
	f.res.Invalidate()

	got := f.res.Get(ctx)
	if got.Source != SourceFetched || len(got.Items) != 2 {
		t.Errorf("read after invalidate = %+v", got)
	}
	if calls := f.fetcher.Calls(); calls != 2 {
		t.Errorf("fetch calls = %d, want 2", calls)
	}
}

func TestInvalidate_DuringFetchKeepsEntryExpired(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &stubFetcher{
		items: [][]string{{"before"}, {"after"}},
		gate: func(call int) {
			if call == 1 {
				close(started)
				<-release
			}
		},
	}
	f := newFixture(t, fetcher)
	ctx := t.Context()

	done := make(chan Result[string])
	go func() { done <- f.res.Get(ctx) }()

	<-started
	f.res.Invalidate()
	close(release)
	if got := <-done; got.Items[0] != "before" {
		t.Fatalf("in-flight read = %+v", got)
	}

	got := f.res.Get(ctx)
	if got.Source != SourceFetched || got.Items[0] != "after" {
		t.Errorf("read after invalidate = %+v", got)
	}
}

func TestGet_SharedLoadOutlivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &stubFetcher{
		items: [][]string{{"a"}},
		gate: func(call int) {
			if call == 1 {
				close(started)
				<-release
			}
		},
	}
	f := newFixture(t, fetcher)

	ctxA, cancelA := context.WithCancel(t.Context())
	doneA := make(chan Result[string])
	go func() { doneA <- f.res.Get(ctxA) }()
	<-started

	doneB := make(chan Result[string])
	go func() { doneB <- f.res.Get(t.Context()) }()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if got := <-doneA; got.Source != SourceEmpty {
		t.Errorf("cancelled read = %+v, want empty", got)
	}
	close(release)

	got := <-doneB
	if got.Source != SourceFetched || len(got.Items) != 1 || got.Items[0] != "a" {
		t.Errorf("second read = %+v, want fetched [a]", got)
	}
	if calls := fetcher.Calls(); calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
	if n := f.recorder.Count(notify.LevelError); n != 0 {
		t.Errorf("error notifications = %d, want 0", n)
	}
}

func TestGet_ColdStartFailureReturnsEmpty(t *testing.T) {
	f := newFixture(t, &stubFetcher{errs: []error{errors.New("bad request")}})

	got := f.res.Get(t.Context())
	if got.Source != SourceEmpty {
		t.Errorf("source = %s, want empty", got.Source)
	}
	if got.Items == nil || len(got.Items) != 0 {
		t.Errorf("items = %#v, want empty non-nil", got.Items)
	}
	msgs := f.recorder.Messages(notify.LevelError)
	if len(msgs) != 1 || msgs[0] != "Error loading clients" {
		t.Errorf("error notifications = %v", msgs)
	}
}

func TestGet_WarmStartFallsBackToLocal(t *testing.T) {
	f := newFixture(t, &stubFetcher{errs: []error{errors.New("bad request")}})
	ctx := t.Context()

	if err := localstore.SaveList(ctx, f.local, types.KindClients, []string{"x", "y"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got := f.res.Get(ctx)
	if got.Source != SourceFallback || len(got.Items) != 2 {
		t.Errorf("fallback read = %+v", got)
	}
	msgs := f.recorder.Messages(notify.LevelInfo)
	if len(msgs) != 1 || msgs[0] != MsgUsingCachedData {
		t.Errorf("info notifications = %v", msgs)
	}
	if n := f.recorder.Count(notify.LevelError); n != 0 {
		t.Errorf("error notifications = %d, want 0", n)
	}
}

func TestGet_RetriesTransientFailures(t *testing.T) {
	transient := errors.New("service unavailable")
	f := newFixture(t, &stubFetcher{
		errs:  []error{transient, transient},
		items: [][]string{{"a"}},
	})

	got := f.res.Get(t.Context())
	if got.Source != SourceFetched || len(got.Items) != 1 {
		t.Errorf("read = %+v", got)
	}
	if calls := f.fetcher.Calls(); calls != 3 {
		t.Errorf("fetch calls = %d, want 3", calls)
	}
}

func TestNew_Defaults(t *testing.T) {
	exec, err := retry.New(retry.DefaultPolicy(), nil)
	if err != nil {
		t.Fatalf("retry.New: %v", err)
	}
	r := New[int](types.KindOrders, func(context.Context) ([]int, error) { return nil, nil }, Deps{Executor: exec})
	if r.cfg != DefaultConfig() {
		t.Errorf("config = %+v", r.cfg)
	}
	if r.Kind() != types.KindOrders {
		t.Errorf("kind = %s", r.Kind())
	}
	got := r.Get(t.Context())
	if got.Source != SourceFetched || got.Items == nil {
		t.Errorf("nil fetch result = %#v", got)
	}
}
