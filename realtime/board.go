package realtime

import "sync"

// Token identifies one optimistic patch on a Board.
type Token uint64

type patch[T any] struct {
	token Token
	id    string
	apply func(T) T
	acked bool
}

// Board is the optimistic view of a live list.
//
// It holds the latest snapshot plus local patches keyed by record id.
// A patch shows immediately. Once acknowledged it stays until the next
// snapshot, which is expected to carry the confirmed value. A failed
// patch is dropped, reverting the record.
type Board[T any] struct {
	idOf func(T) string

	mu       sync.Mutex
	snapshot []T
	patches  []*patch[T]
	next     Token
	onChange func([]T)
}

// NewBoard creates an empty board. idOf extracts a record's id.
func NewBoard[T any](idOf func(T) string) *Board[T] {
	return &Board[T]{idOf: idOf}
}

// OnChange registers fn to receive the view after every change.
// fn runs on the goroutine that made the change.
func (b *Board[T]) OnChange(fn func([]T)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Replace installs a new snapshot and drops acknowledged patches.
// Its signature fits Reconciler.Subscribe.
func (b *Board[T]) Replace(snapshot []T) {
	b.mu.Lock()
	b.snapshot = append([]T(nil), snapshot...)
	kept := b.patches[:0]
	for _, p := range b.patches {
		if !p.acked {
			kept = append(kept, p)
		}
	}
	clear(b.patches[len(kept):])
	b.patches = kept
	b.mu.Unlock()
	b.changed()
}

// Patch applies fn to the record with id until the patch is failed or
// superseded by a snapshot after Ack.
func (b *Board[T]) Patch(id string, fn func(T) T) Token {
	b.mu.Lock()
	b.next++
	tok := b.next
	b.patches = append(b.patches, &patch[T]{token: tok, id: id, apply: fn})
	b.mu.Unlock()
	b.changed()
	return tok
}

// Ack marks the patch confirmed by the store.
func (b *Board[T]) Ack(tok Token) {
	b.mu.Lock()
	for _, p := range b.patches {
		if p.token == tok {
			p.acked = true
			break
		}
	}
	b.mu.Unlock()
}

// Fail drops the patch.
func (b *Board[T]) Fail(tok Token) {
	b.mu.Lock()
	dropped := false
	for i, p := range b.patches {
		if p.token == tok {
			b.patches = append(b.patches[:i], b.patches[i+1:]...)
			dropped = true
			break
		}
	}
	b.mu.Unlock()
	if dropped {
		b.changed()
	}
}

// Pending returns the number of patches still layered over the snapshot.
func (b *Board[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.patches)
}

// View returns the snapshot with every live patch applied, in snapshot
// order. Patches for ids not in the snapshot are ignored.
func (b *Board[T]) View() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

// Find returns the current view of the record with id.
func (b *Board[T]) Find(id string) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, item := range b.snapshot {
		if b.idOf(item) == id {
			return b.applyLocked(b.snapshot[i]), true
		}
	}
	var zero T
	return zero, false
}

func (b *Board[T]) viewLocked() []T {
	out := make([]T, len(b.snapshot))
	for i, item := range b.snapshot {
		out[i] = b.applyLocked(item)
	}
	return out
}

func (b *Board[T]) applyLocked(item T) T {
	id := b.idOf(item)
	for _, p := range b.patches {
		if p.id == id {
			item = p.apply(item)
		}
	}
	return item
}

func (b *Board[T]) changed() {
	b.mu.Lock()
	fn := b.onChange
	var view []T
	if fn != nil {
		view = b.viewLocked()
	}
	b.mu.Unlock()
	if fn != nil {
		fn(view)
	}
}
