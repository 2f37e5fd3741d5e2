package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/despacho/batch"
	"github.com/pithecene-io/despacho/cache"
	"github.com/pithecene-io/despacho/failure"
	"github.com/pithecene-io/despacho/realtime"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

// Codec binds an entity type to its collection.
type Codec[T any] struct {
	Kind types.Kind
	// Noun names one record in operator messages.
	Noun string
	// OrderBy is the field lists are sorted by, newest first.
	OrderBy string
	// Limit caps cached lists; zero reads the whole collection.
	Limit   int
	Decode  func(id string, f types.Fields) T
	Encode  func(T) types.Fields
}

var (
	clientCodec = Codec[types.Client]{
		Kind:    types.KindClients,
		Noun:    "client",
		OrderBy: types.FieldRegisteredAt,
		Decode:  types.DecodeClient,
		Encode:  types.EncodeClient,
	}
	courierCodec = Codec[types.Courier]{
		Kind:    types.KindCouriers,
		Noun:    "courier",
		OrderBy: types.FieldRegisteredAt,
		Decode:  types.DecodeCourier,
		Encode:  types.EncodeCourier,
	}
	orderCodec = Codec[types.Order]{
		Kind:    types.KindOrders,
		Noun:    "order",
		OrderBy: types.FieldPlacedAt,
		Limit:   realtime.DefaultLimit,
		Decode:  types.DecodeOrder,
		Encode:  types.EncodeOrder,
	}
)

// Repository is the cached CRUD surface of one entity type.
type Repository[T any] struct {
	sess  *Session
	codec Codec[T]
	cache *cache.Resource[T]
}

func newRepository[T any](s *Session, codec Codec[T], deps cache.Deps) *Repository[T] {
	r := &Repository[T]{sess: s, codec: codec}
	r.cache = cache.New(codec.Kind, r.fetch, deps)
	return r
}

// Kind returns the entity type.
func (r *Repository[T]) Kind() types.Kind {
	return r.codec.Kind
}

// List returns the cached list. It never fails; see cache.Resource.Get.
func (r *Repository[T]) List(ctx context.Context) []T {
	return r.cache.Get(ctx).Items
}

// Lookup is List with the read's source and age.
func (r *Repository[T]) Lookup(ctx context.Context) cache.Result[T] {
	return r.cache.Get(ctx)
}

// Invalidate forces the next List to fetch.
func (r *Repository[T]) Invalidate() {
	r.cache.Invalidate()
}

func (r *Repository[T]) fetch(ctx context.Context) ([]T, error) {
	docs, err := r.sess.store.Query(ctx, remote.Query{
		Collection: string(r.codec.Kind),
		OrderBy:    r.codec.OrderBy,
		Desc:       true,
		Limit:      r.codec.Limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]T, len(docs))
	for i, d := range docs {
		items[i] = r.codec.Decode(d.ID, d.Fields)
	}
	return items, nil
}

// Create stores item and returns it as the store now holds it.
func (r *Repository[T]) Create(ctx context.Context, item T) (T, error) {
	op := "create " + r.codec.Noun
	fields := r.codec.Encode(item)
	id, err := retry.Do(ctx, r.sess.exec, op, func(ctx context.Context) (string, error) {
		return r.sess.store.Create(ctx, string(r.codec.Kind), fields)
	})
	if err != nil {
		r.sess.notifyError(op, r.failureMessage("saving", err))
		var zero T
		return zero, err
	}
	r.cache.Invalidate()
	r.sess.notifySuccess(op, MsgSaved)
	return r.codec.Decode(id, fields.Resolve(r.sess.now())), nil
}

// Update merges patch into the record with id.
func (r *Repository[T]) Update(ctx context.Context, id string, patch types.Fields) error {
	op := "update " + r.codec.Noun
	if err := r.update(ctx, op, id, patch); err != nil {
		r.sess.notifyError(op, r.failureMessage("updating", err))
		return err
	}
	r.sess.notifySuccess(op, MsgSaved)
	return nil
}

func (r *Repository[T]) update(ctx context.Context, op, id string, patch types.Fields) error {
	if id == "" {
		return fmt.Errorf("%s: %w", op, remote.ErrInvalidID)
	}
	err := r.sess.exec.Run(ctx, op, func(ctx context.Context) error {
		return r.sess.store.Update(ctx, string(r.codec.Kind), id, patch)
	})
	if err != nil {
		return err
	}
	r.cache.Invalidate()
	return nil
}

// Remove deletes the record with id.
func (r *Repository[T]) Remove(ctx context.Context, id string) error {
	op := "delete " + r.codec.Noun
	if id == "" {
		return fmt.Errorf("%s: %w", op, remote.ErrInvalidID)
	}
	err := r.sess.exec.Run(ctx, op, func(ctx context.Context) error {
		return r.sess.store.Delete(ctx, string(r.codec.Kind), id)
	})
	if err != nil {
		r.sess.notifyError(op, r.failureMessage("deleting", err))
		return err
	}
	r.cache.Invalidate()
	r.sess.notifySuccess(op, MsgSaved)
	return nil
}

// ImportBulk writes items in chunks and returns how many were stored.
// key, when non-nil, gives each item an idempotency key: re-running an
// import with the same keys overwrites instead of duplicating. Without
// keys every call writes new documents.
func (r *Repository[T]) ImportBulk(ctx context.Context, items []T, key func(T) string, onProgress batch.ProgressFunc) (int, error) {
	op := "import " + string(r.codec.Kind)
	if len(items) == 0 {
		r.sess.notifyError(op, fmt.Sprintf("No %s to import", r.codec.Kind))
		return 0, nil
	}

	coll := string(r.codec.Kind)
	ops := make([]remote.WriteOp, len(items))
	for i, item := range items {
		id := remote.NewID()
		if key != nil {
			if k := key(item); k != "" {
				id = remote.IDForKey(coll, k)
			}
		}
		ops[i] = remote.SetOp(coll, id, r.codec.Encode(item))
	}

	n, err := r.sess.batch.Commit(ctx, coll, ops, onProgress)
	if n > 0 {
		r.cache.Invalidate()
	}
	if err != nil {
		if failure.Classify(err) == failure.Permission {
			r.sess.notifyError(op, MsgImportPermission)
		} else {
			r.sess.notifyError(op, "Error importing "+coll)
		}
		return n, err
	}
	r.sess.notifySuccess(op, fmt.Sprintf("%d %s saved", n, coll))
	return n, nil
}

// failureMessage builds the operator message for a failed write.
func (r *Repository[T]) failureMessage(verb string, err error) string {
	if errors.Is(err, remote.ErrNotFound) {
		return fmt.Sprintf("Error %s %s: not found", verb, r.codec.Noun)
	}
	return fmt.Sprintf("Error %s %s. Check permissions.", verb, r.codec.Noun)
}
