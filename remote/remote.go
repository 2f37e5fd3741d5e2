// Package remote is the boundary to the remote document store.
//
// The store is a black-box service holding per-collection documents.
// It assigns identifiers, stamps server timestamps, answers ordered and
// filtered queries, applies atomic multi-document commits of at most
// MaxBatchSize writes, and feeds live query snapshots to listeners.
//
// Implementations:
//   - HTTPClient: REST/JSON transport
//   - MemoryStore: in-process store used for offline mode and tests
//   - Publishing + RedisListener: live change feed over Redis pub/sub
//   - Poller: live feed by periodic re-query
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/pithecene-io/despacho/types"
)

// MaxBatchSize is the largest number of writes one Commit accepts.
const MaxBatchSize = 500

// Timestamp is the store's native instant.
type Timestamp = types.Timestamp

// ServerTimestamp asks the store to stamp a field with its own clock.
var ServerTimestamp = types.ServerTimestamp

// Sentinel errors.
var (
	// ErrNotFound is matched by errors for missing documents.
	ErrNotFound = errors.New("document not found")
	// ErrBatchTooLarge is returned when a commit exceeds MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("batch exceeds %d writes", MaxBatchSize)
	// ErrInvalidID is returned for empty document identifiers.
	ErrInvalidID = errors.New("document id is empty")
)

// Document is one stored record.
type Document struct {
	ID     string       `json:"id"`
	Fields types.Fields `json:"fields"`
}

// Filter operators.
const (
	OpEqual = "=="
)

// Filter restricts a query to documents whose field matches Value.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Where returns an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	// OrderBy names the sort field. Empty means store order.
	OrderBy string
	Desc    bool
	// Limit caps the result. Zero means no limit.
	Limit int
	Where []Filter
}

// WriteKind is the type of a batched write.
type WriteKind string

// Write kinds.
const (
	// WriteSet creates or overwrites the document with ID.
	WriteSet WriteKind = "set"
	// WriteUpdate merges fields into an existing document.
	WriteUpdate WriteKind = "update"
	// WriteDelete removes a document. Missing documents are not an error.
	WriteDelete WriteKind = "delete"
)

// WriteOp is one write of an atomic commit.
type WriteOp struct {
	Kind       WriteKind
	Collection string
	ID         string
	Fields     types.Fields
}

// SetOp builds a create-or-overwrite write.
func SetOp(collection, id string, f types.Fields) WriteOp {
	return WriteOp{Kind: WriteSet, Collection: collection, ID: id, Fields: f}
}

// UpdateOp builds a merge write.
func UpdateOp(collection, id string, f types.Fields) WriteOp {
	return WriteOp{Kind: WriteUpdate, Collection: collection, ID: id, Fields: f}
}

// DeleteOp builds a delete write.
func DeleteOp(collection, id string) WriteOp {
	return WriteOp{Kind: WriteDelete, Collection: collection, ID: id}
}

// Store is the request/response side of the remote store.
type Store interface {
	// Create adds a document and returns its store-assigned id.
	Create(ctx context.Context, collection string, f types.Fields) (string, error)
	// Update merges f into an existing document.
	Update(ctx context.Context, collection, id string, f types.Fields) error
	// Delete removes a document.
	Delete(ctx context.Context, collection, id string) error
	// Query returns the documents selected by q.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Commit applies ops atomically. At most MaxBatchSize ops.
	Commit(ctx context.Context, ops []WriteOp) error
}

// Listener streams live query results.
type Listener interface {
	// Listen delivers the current result of q to onSnapshot, then the
	// full result again after every change. onError receives failed
	// re-queries and may be nil. Delivery stops when stop is called or
	// ctx is done.
	Listen(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (stop func(), err error)
}

// StatusError is a failed store request.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus exposes the status to the failure classifier.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// ErrorCode exposes the store's error code to the failure classifier.
func (e *StatusError) ErrorCode() string { return e.Code }

// Is matches ErrNotFound for 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

func notFound(collection, id string) error {
	return &StatusError{
		StatusCode: http.StatusNotFound,
		Code:       "not-found",
		Message:    fmt.Sprintf("%s/%s", collection, id),
	}
}

// idNamespace scopes deterministic ids derived from idempotency keys.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://despacho.pithecene.io/documents"))

// NewID returns a fresh random document id.
func NewID() string {
	return uuid.NewString()
}

// IDForKey derives a stable document id from an idempotency key, so a
// repeated write with the same key lands on the same document.
func IDForKey(collection, key string) string {
	return uuid.NewSHA1(idNamespace, []byte(collection+"/"+key)).String()
}

func validateOps(ops []WriteOp) error {
	if len(ops) > MaxBatchSize {
		return fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(ops))
	}
	for i, op := range ops {
		if op.ID == "" {
			return fmt.Errorf("write %d: %w", i, ErrInvalidID)
		}
		switch op.Kind {
		case WriteSet, WriteUpdate, WriteDelete:
		default:
			return fmt.Errorf("write %d: unknown kind %q", i, op.Kind)
		}
	}
	return nil
}
