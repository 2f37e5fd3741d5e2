// Package localstore is the durable key-value store that survives
// restarts. It holds the fallback copy of each cached entity list under
// "<kind>_cache" and the delivery cost history under "cost_history".
//
// Entries are msgpack envelopes written through a lode.Store, so the same
// code runs against the local filesystem, memory (tests) or an S3 bucket.
package localstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/despacho/iox"
	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/types"
)

// maxEntryBytes bounds one stored entry.
const maxEntryBytes = 32 << 20

// Store is string-keyed durable storage.
type Store interface {
	// Get decodes the value at key into out. found is false when the key
	// has never been written.
	Get(ctx context.Context, key string, out any) (found bool, err error)
	// Set replaces the value at key.
	Set(ctx context.Context, key string, value any) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Envelope is the on-disk record of one entry.
type Envelope struct {
	Version int                `msgpack:"version"`
	Key     string             `msgpack:"key"`
	SavedAt time.Time          `msgpack:"saved_at"`
	Value   msgpack.RawMessage `msgpack:"value"`
}

// Lode is a Store over a lode.Store.
// Writes are serialized; a Set replaces the previous object.
type Lode struct {
	store   lode.Store
	prefix  string
	backend string
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu sync.Mutex
}

// Option configures a Lode store.
type Option func(*Lode)

// WithPrefix sets the object key prefix.
func WithPrefix(prefix string) Option {
	return func(l *Lode) { l.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(l *Lode) { l.logger = logger.With("localstore") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Lode) { l.metrics = m }
}

// WithClock sets the clock stamped on envelopes.
func WithClock(now func() time.Time) Option {
	return func(l *Lode) { l.now = now }
}

// NewLode creates a store over the lode store built by factory.
func NewLode(factory lode.StoreFactory, backend string, opts ...Option) (*Lode, error) {
	store, err := factory()
	if err != nil {
		return nil, wrap(err, "init", "")
	}
	l := &Lode{
		store:   store,
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewFS creates a filesystem store rooted at root. The directory is
// created if missing.
func NewFS(root string, opts ...Option) (*Lode, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrap(err, "init", "")
	}
	return NewLode(lode.NewFSFactory(root), "fs", opts...)
}

// NewMemory creates a store that lives only as long as the process.
func NewMemory(opts ...Option) (*Lode, error) {
	return NewLode(lode.NewMemoryFactory(), "memory", opts...)
}

// Backend names the storage backend ("fs", "memory", "s3").
func (l *Lode) Backend() string {
	return l.backend
}

func (l *Lode) path(key string) string {
	return l.prefix + "kv/" + url.PathEscape(key) + ".msgpack"
}

// Get implements Store.
func (l *Lode) Get(ctx context.Context, key string, out any) (bool, error) {
	path := l.path(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := l.store.Exists(ctx, path)
	if err != nil {
		return false, wrap(err, "get", key)
	}
	if !exists {
		return false, nil
	}

	rc, err := l.store.Get(ctx, path)
	if err != nil {
		return false, wrap(err, "get", key)
	}
	defer iox.DiscardClose(rc)

	data, err := iox.ReadAllLimit(rc, maxEntryBytes)
	if err != nil {
		return false, wrap(err, "get", key)
	}

	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return false, &StorageError{Kind: ErrCorrupt, Op: "get", Key: key, Err: err}
	}
	if env.Version > types.LocalFormatVersion {
		return false, &StorageError{
			Kind: ErrUnsupportedVersion,
			Op:   "get",
			Key:  key,
			Err:  fmt.Errorf("version %d, max %d", env.Version, types.LocalFormatVersion),
		}
	}
	if err := decode(env.Value, out); err != nil {
		return false, &StorageError{Kind: ErrCorrupt, Op: "get", Key: key, Err: err}
	}
	return true, nil
}

// Set implements Store.
func (l *Lode) Set(ctx context.Context, key string, value any) error {
	raw, err := encode(value)
	if err != nil {
		return &StorageError{Kind: ErrCorrupt, Op: "set", Key: key, Err: err}
	}
	err = l.putEnvelope(ctx, &Envelope{
		Version: types.LocalFormatVersion,
		Key:     key,
		SavedAt: l.now().UTC(),
		Value:   raw,
	})
	if err != nil {
		l.metrics.IncLocalWriteFailure()
		l.logger.Warn("local write failed", map[string]any{"key": key, "error": err.Error()})
		return err
	}
	l.metrics.IncLocalWriteSuccess()
	return nil
}

// putEnvelope replaces the object for env.Key.
func (l *Lode) putEnvelope(ctx context.Context, env *Envelope) error {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return &StorageError{Kind: ErrCorrupt, Op: "set", Key: env.Key, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.remove(ctx, env.Key); err != nil {
		return err
	}
	if err := l.store.Put(ctx, l.path(env.Key), bytes.NewReader(data)); err != nil {
		return wrap(err, "set", env.Key)
	}
	return nil
}

// Delete implements Store.
func (l *Lode) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remove(ctx, key)
}

// remove deletes key if present. Must hold mu.
func (l *Lode) remove(ctx context.Context, key string) error {
	path := l.path(key)
	exists, err := l.store.Exists(ctx, path)
	if err != nil {
		return wrap(err, "delete", key)
	}
	if !exists {
		return nil
	}
	if err := l.store.Delete(ctx, path); err != nil {
		return wrap(err, "delete", key)
	}
	return nil
}

// encode marshals v with JSON field names so entries stay readable by
// tools that only know the JSON shape.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, out any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(out)
}

var _ Store = (*Lode)(nil)
