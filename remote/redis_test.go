package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/despacho/iox"
	"github.com/pithecene-io/despacho/log"
	"github.com/pithecene-io/despacho/types"
)

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(iox.CloseFunc(client))
	return mr, client
}

func waitSnapshot(t *testing.T, ch <-chan []Document) []Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil // unreachable
	}
}

func TestPublishing_AnnouncesWrites(t *testing.T) {
	mr, client := newRedisClient(t)
	store := NewPublishing(newTestStore(), client, "", log.Nop())

	sub := mr.NewSubscriber()
	sub.Subscribe(ChangeChannel("", "orders"))
	got := make(chan miniredis.PubsubMessage, 1)
	go func() { got <- <-sub.Messages() }()

	id, err := store.Create(t.Context(), "orders", types.Fields{"client": "Ana"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case msg := <-got:
		var ch Change
		if err := json.Unmarshal([]byte(msg.Message), &ch); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ch.Collection != "orders" || len(ch.IDs) != 1 || ch.IDs[0] != id || ch.Kind != WriteSet {
			t.Errorf("change = %+v", ch)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change announcement")
	}
}

func TestPublishing_FailedWriteIsNotAnnounced(t *testing.T) {
	mr, client := newRedisClient(t)
	store := NewPublishing(newTestStore(), client, "", log.Nop())

	sub := mr.NewSubscriber()
	sub.Subscribe(ChangeChannel("", "orders"))

	if err := store.Update(t.Context(), "orders", "missing", types.Fields{}); err == nil {
		t.Fatal("expected not-found error")
	}

	select {
	case msg := <-sub.Messages():
		t.Errorf("unexpected announcement: %s", msg.Message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisListener_RequeriesOnAnnouncement(t *testing.T) {
	_, client := newRedisClient(t)
	inner := newTestStore()
	writer := NewPublishing(inner, client, "", log.Nop())
	listener := NewRedisListener(client, inner, "")

	snapshots := make(chan []Document, 4)
	stop, err := listener.Listen(t.Context(),
		Query{Collection: "orders", OrderBy: "placed_at", Desc: true, Limit: 30},
		func(docs []Document) { snapshots <- docs }, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer stop()

	if docs := waitSnapshot(t, snapshots); len(docs) != 0 {
		t.Errorf("initial snapshot = %d docs, want 0", len(docs))
	}

	if _, err := writer.Create(t.Context(), "orders", types.Fields{"placed_at": ServerTimestamp}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if docs := waitSnapshot(t, snapshots); len(docs) != 1 {
		t.Errorf("snapshot after create = %d docs, want 1", len(docs))
	}
}

func TestRedisListener_StopIsIdempotent(t *testing.T) {
	_, client := newRedisClient(t)
	listener := NewRedisListener(client, newTestStore(), "")

	stop, err := listener.Listen(t.Context(), Query{Collection: "orders"}, func([]Document) {}, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	stop()
	stop()
}

func TestPoller_DeliversOnChangeOnly(t *testing.T) {
	store := newTestStore()
	p := NewPoller(store, 10*time.Millisecond)

	snapshots := make(chan []Document, 16)
	stop, err := p.Listen(t.Context(), Query{Collection: "clients"},
		func(docs []Document) { snapshots <- docs }, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer stop()

	if docs := waitSnapshot(t, snapshots); len(docs) != 0 {
		t.Errorf("initial = %d docs", len(docs))
	}

	// Several ticks without changes deliver nothing.
	time.Sleep(50 * time.Millisecond)
	select {
	case docs := <-snapshots:
		t.Fatalf("unexpected snapshot without change: %v", docs)
	default:
	}

	if _, err := store.Create(t.Context(), "clients", types.Fields{"name": "Ana"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if docs := waitSnapshot(t, snapshots); len(docs) != 1 {
		t.Errorf("after create = %d docs, want 1", len(docs))
	}
}

func TestPoller_InitialFailure(t *testing.T) {
	store := newTestStore()
	store.FailNext(MethodQuery, &StatusError{StatusCode: 503, Code: "unavailable"})

	if _, err := NewPoller(store, time.Hour).Listen(t.Context(), Query{Collection: "clients"}, func([]Document) {}, nil); err == nil {
		t.Fatal("expected initial query error")
	}
}
