package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/types"
)

// DefaultChangePrefix prefixes the per-collection change channels.
const DefaultChangePrefix = "despacho:changes:"

// DefaultPublishTimeout bounds one change announcement.
const DefaultPublishTimeout = 5 * time.Second

// ChangeCommit marks a change produced by an atomic batch.
const ChangeCommit WriteKind = "commit"

// Change announces that documents in a collection were written.
type Change struct {
	Collection string    `json:"collection"`
	IDs        []string  `json:"ids"`
	Kind       WriteKind `json:"kind"`
}

// ChangeChannel returns the pub/sub channel for collection.
func ChangeChannel(prefix, collection string) string {
	if prefix == "" {
		prefix = DefaultChangePrefix
	}
	return prefix + collection
}

// Publishing decorates a Store: every successful write is announced on
// the collection's Redis change channel. Announcement failures are
// logged and never fail the write.
type Publishing struct {
	Store
	client *goredis.Client
	prefix string
	logger *log.Logger
}

// NewPublishing wraps store. prefix may be empty.
func NewPublishing(store Store, client *goredis.Client, prefix string, logger *log.Logger) *Publishing {
	return &Publishing{
		Store:  store,
		client: client,
		prefix: prefix,
		logger: logger.With("remote"),
	}
}

// Create implements Store.
func (p *Publishing) Create(ctx context.Context, collection string, f types.Fields) (string, error) {
	id, err := p.Store.Create(ctx, collection, f)
	if err != nil {
		return "", err
	}
	p.announce(ctx, Change{Collection: collection, IDs: []string{id}, Kind: WriteSet})
	return id, nil
}

// Update implements Store.
func (p *Publishing) Update(ctx context.Context, collection, id string, f types.Fields) error {
	if err := p.Store.Update(ctx, collection, id, f); err != nil {
		return err
	}
	p.announce(ctx, Change{Collection: collection, IDs: []string{id}, Kind: WriteUpdate})
	return nil
}

// Delete implements Store.
func (p *Publishing) Delete(ctx context.Context, collection, id string) error {
	if err := p.Store.Delete(ctx, collection, id); err != nil {
		return err
	}
	p.announce(ctx, Change{Collection: collection, IDs: []string{id}, Kind: WriteDelete})
	return nil
}

// Commit implements Store. One change is announced per collection.
func (p *Publishing) Commit(ctx context.Context, ops []WriteOp) error {
	if err := p.Store.Commit(ctx, ops); err != nil {
		return err
	}
	byCollection := make(map[string][]string)
	for _, op := range ops {
		byCollection[op.Collection] = append(byCollection[op.Collection], op.ID)
	}
	collections := make([]string, 0, len(byCollection))
	for c := range byCollection {
		collections = append(collections, c)
	}
	slices.Sort(collections)
	for _, c := range collections {
		p.announce(ctx, Change{Collection: c, IDs: byCollection[c], Kind: ChangeCommit})
	}
	return nil
}

func (p *Publishing) announce(ctx context.Context, ch Change) {
	body, err := json.Marshal(ch)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultPublishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, ChangeChannel(p.prefix, ch.Collection), body).Err(); err != nil {
		p.logger.Warn("change announcement failed", map[string]any{
			"collection": ch.Collection,
			"error":      err.Error(),
		})
	}
}

// RedisListener is a Listener driven by change announcements: every
// message on the collection's channel triggers a re-query of the store.
type RedisListener struct {
	client *goredis.Client
	store  Store
	prefix string
}

// NewRedisListener creates a listener. prefix may be empty.
func NewRedisListener(client *goredis.Client, store Store, prefix string) *RedisListener {
	return &RedisListener{client: client, store: store, prefix: prefix}
}

// Listen implements Listener. The subscription is confirmed and the
// initial snapshot delivered before Listen returns.
func (r *RedisListener) Listen(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (func(), error) {
	sub := r.client.Subscribe(ctx, ChangeChannel(r.prefix, q.Collection))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}

	docs, err := r.store.Query(ctx, q)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("initial query: %w", err)
	}
	onSnapshot(docs)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
			}
			docs, err := r.store.Query(ctx, q)
			if err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
				continue
			}
			onSnapshot(docs)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := sub.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) && onError != nil {
				onError(err)
			}
			wg.Wait()
		})
	}, nil
}

var (
	_ Store    = (*Publishing)(nil)
	_ Listener = (*RedisListener)(nil)
)
