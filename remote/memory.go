package remote

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/despacho/types"
)

// Store methods, as counted by MemoryStore.Calls and targeted by FailNext.
const (
	MethodCreate = "create"
	MethodUpdate = "update"
	MethodDelete = "delete"
	MethodQuery  = "query"
	MethodCommit = "commit"
)

// MemoryStore is an in-process Store and Listener.
// It backs offline mode and stands in for the remote service in tests:
// calls are counted per method and failures can be queued per method.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]types.Fields
	order       map[string][]string // insertion order per collection
	calls       map[string]int
	faults      map[string][]error
	listeners   map[int]*memListener
	nextListen  int
	now         func() time.Time
	newID       func() string

	// deliverMu serializes snapshot delivery so listeners see changes
	// in commit order.
	deliverMu sync.Mutex
}

type memListener struct {
	query      Query
	onSnapshot func([]Document)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for server timestamps.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// WithMemoryIDs sets the id generator used by Create.
func WithMemoryIDs(newID func() string) MemoryOption {
	return func(m *MemoryStore) { m.newID = newID }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		collections: make(map[string]map[string]types.Fields),
		order:       make(map[string][]string),
		calls:       make(map[string]int),
		faults:      make(map[string][]error),
		listeners:   make(map[int]*memListener),
		now:         time.Now,
		newID:       NewID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext queues errs to be returned, in order, by the next calls of
// method. Queued failures still count as calls.
func (m *MemoryStore) FailNext(method string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[method] = append(m.faults[method], errs...)
}

// Calls returns how many times method was invoked.
func (m *MemoryStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Len returns the number of documents in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

// Get returns a copy of one document.
func (m *MemoryStore) Get(collection, id string) (types.Fields, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.collections[collection][id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// enter counts a call and pops a queued failure. Must hold mu.
func (m *MemoryStore) enter(method string) error {
	m.calls[method]++
	if q := m.faults[method]; len(q) > 0 {
		m.faults[method] = q[1:]
		return q[0]
	}
	return nil
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, collection string, f types.Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	if err := m.enter(MethodCreate); err != nil {
		m.mu.Unlock()
		return "", err
	}
	id := m.newID()
	m.put(collection, id, f.Resolve(m.now()))
	m.mu.Unlock()

	m.publish(collection)
	return id, nil
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, collection, id string, f types.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	if err := m.enter(MethodUpdate); err != nil {
		m.mu.Unlock()
		return err
	}
	existing, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return notFound(collection, id)
	}
	m.put(collection, id, existing.Clone().Merge(f.Resolve(m.now())))
	m.mu.Unlock()

	m.publish(collection)
	return nil
}

// Delete implements Store. Deleting a missing document succeeds.
func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	if err := m.enter(MethodDelete); err != nil {
		m.mu.Unlock()
		return err
	}
	m.remove(collection, id)
	m.mu.Unlock()

	m.publish(collection)
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(MethodQuery); err != nil {
		return nil, err
	}
	return Apply(q, m.documents(q.Collection)), nil
}

// Commit implements Store. Either every write applies or none does.
func (m *MemoryStore) Commit(ctx context.Context, ops []WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateOps(ops); err != nil {
		return err
	}

	m.mu.Lock()
	if err := m.enter(MethodCommit); err != nil {
		m.mu.Unlock()
		return err
	}

	// Stage against copies so a failed write leaves the store untouched.
	staged := make(map[string]map[string]types.Fields)
	view := func(c string) map[string]types.Fields {
		if s, ok := staged[c]; ok {
			return s
		}
		s := maps.Clone(m.collections[c])
		if s == nil {
			s = make(map[string]types.Fields)
		}
		staged[c] = s
		return s
	}
	now := m.now()
	for _, op := range ops {
		docs := view(op.Collection)
		switch op.Kind {
		case WriteSet:
			docs[op.ID] = op.Fields.Resolve(now)
		case WriteUpdate:
			existing, ok := docs[op.ID]
			if !ok {
				m.mu.Unlock()
				return notFound(op.Collection, op.ID)
			}
			docs[op.ID] = existing.Clone().Merge(op.Fields.Resolve(now))
		case WriteDelete:
			delete(docs, op.ID)
		}
	}

	for _, op := range ops {
		if f, ok := staged[op.Collection][op.ID]; ok {
			m.put(op.Collection, op.ID, f)
		} else {
			m.remove(op.Collection, op.ID)
		}
	}
	touched := slices.Collect(maps.Keys(staged))
	m.mu.Unlock()

	slices.Sort(touched)
	for _, c := range touched {
		m.publish(c)
	}
	return nil
}

// Listen implements Listener. The first snapshot is delivered before
// Listen returns. Queries never fail in memory, so onError is unused.
// onSnapshot runs on the writer's goroutine and must not write to the
// store itself.
func (m *MemoryStore) Listen(ctx context.Context, q Query, onSnapshot func([]Document), _ func(error)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &memListener{query: q, onSnapshot: onSnapshot}

	m.deliverMu.Lock()
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = l
	initial := Apply(q, m.documents(q.Collection))
	m.mu.Unlock()
	onSnapshot(initial)
	m.deliverMu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

// ListenerCount returns the number of active listeners.
func (m *MemoryStore) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// publish re-runs every listener query on collection and delivers the
// results. Must not hold mu.
func (m *MemoryStore) publish(collection string) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	type delivery struct {
		l    *memListener
		docs []Document
	}
	m.mu.Lock()
	ids := slices.Sorted(maps.Keys(m.listeners))
	var pending []delivery
	for _, id := range ids {
		l := m.listeners[id]
		if l.query.Collection != collection {
			continue
		}
		pending = append(pending, delivery{l: l, docs: Apply(l.query, m.documents(collection))})
	}
	m.mu.Unlock()

	for _, d := range pending {
		d.l.onSnapshot(d.docs)
	}
}

// documents returns copies of every document in collection in insertion
// order. Must hold mu.
func (m *MemoryStore) documents(collection string) []Document {
	docs := m.collections[collection]
	out := make([]Document, 0, len(docs))
	for _, id := range m.order[collection] {
		if f, ok := docs[id]; ok {
			out = append(out, Document{ID: id, Fields: f.Clone()})
		}
	}
	return out
}

// put stores f under id. Must hold mu.
func (m *MemoryStore) put(collection, id string, f types.Fields) {
	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]types.Fields)
		m.collections[collection] = docs
	}
	if _, exists := docs[id]; !exists {
		m.order[collection] = append(m.order[collection], id)
	}
	docs[id] = f
}

// remove deletes id. Must hold mu.
func (m *MemoryStore) remove(collection, id string) {
	docs := m.collections[collection]
	if _, ok := docs[id]; !ok {
		return
	}
	delete(docs, id)
	m.order[collection] = slices.DeleteFunc(m.order[collection], func(s string) bool { return s == id })
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ Listener = (*MemoryStore)(nil)
)
