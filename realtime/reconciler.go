// Package realtime mirrors a live query of the remote store.
//
// A Reconciler subscribes to the most recent documents of one collection
// and republishes the whole decoded list, newest first, on every change.
// A Board layers optimistic local edits over those snapshots.
package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/types"
)

// DefaultLimit bounds the live window.
const DefaultLimit = 30

// Decoder turns one document into a caller-facing record.
type Decoder[T any] func(id string, f types.Fields) T

// Config selects the live window.
type Config struct {
	Collection types.Kind
	// OrderBy is the server timestamp field the window is ordered by.
	OrderBy string
	// Limit is the window size. Zero means DefaultLimit.
	Limit int
	// Where narrows the window.
	Where []remote.Filter
}

// OrdersConfig is the live orders window: the 30 most recently placed.
func OrdersConfig() Config {
	return Config{
		Collection: types.KindOrders,
		OrderBy:    types.FieldPlacedAt,
		Limit:      DefaultLimit,
	}
}

// Reconciler republishes a live window as decoded lists.
type Reconciler[T any] struct {
	listener remote.Listener
	decode   Decoder[T]
	query    remote.Query
	logger   *log.Logger
	metrics  *metrics.Collector
}

// New creates a reconciler. logger and m may be nil.
func New[T any](listener remote.Listener, decode Decoder[T], cfg Config, logger *log.Logger, m *metrics.Collector) (*Reconciler[T], error) {
	if listener == nil || decode == nil {
		return nil, errors.New("reconciler needs a listener and a decoder")
	}
	if cfg.Collection == "" || cfg.OrderBy == "" {
		return nil, fmt.Errorf("reconciler needs a collection and an order field, got %q/%q", cfg.Collection, cfg.OrderBy)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Reconciler[T]{
		listener: listener,
		decode:   decode,
		query: remote.Query{
			Collection: string(cfg.Collection),
			OrderBy:    cfg.OrderBy,
			Desc:       true,
			Limit:      cfg.Limit,
			Where:      cfg.Where,
		},
		logger:  logger.With("realtime"),
		metrics: m,
	}, nil
}

// Query returns the live query the reconciler listens to.
func (r *Reconciler[T]) Query() remote.Query {
	return r.query
}

// Subscribe delivers the full ordered list to callback on every change,
// starting with the current window. Feed errors are logged and counted;
// the subscription stays open. Call unsubscribe to stop.
func (r *Reconciler[T]) Subscribe(ctx context.Context, callback func([]T)) (unsubscribe func(), err error) {
	if callback == nil {
		return nil, errors.New("nil callback")
	}
	stop, err := r.listener.Listen(ctx, r.query,
		func(docs []remote.Document) {
			items := r.normalize(docs)
			r.metrics.IncLiveSnapshot()
			callback(items)
		},
		func(err error) {
			r.metrics.IncLiveError()
			r.logger.Warn("live feed error", map[string]any{
				"collection": r.query.Collection,
				"error":      err.Error(),
			})
		},
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", r.query.Collection, err)
	}
	r.logger.Debug("subscribed", map[string]any{
		"collection": r.query.Collection,
		"limit":      r.query.Limit,
	})
	return stop, nil
}

// normalize orders docs newest first and decodes them. Transports are
// not trusted to deliver the window sorted.
func (r *Reconciler[T]) normalize(docs []remote.Document) []T {
	ordered := remote.Apply(remote.Query{OrderBy: r.query.OrderBy, Desc: true}, docs)
	items := make([]T, len(ordered))
	for i, d := range ordered {
		items[i] = r.decode(d.ID, d.Fields)
	}
	return items
}
