package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/despacho/cache"
	"github.com/pithecene-io/despacho/localstore"
	"github.com/pithecene-io/despacho/metrics"
	"github.com/pithecene-io/despacho/notify"
	"github.com/pithecene-io/despacho/realtime"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Now()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type harness struct {
	store    *remote.MemoryStore
	local    *localstore.Lode
	recorder *notify.Recorder
	metrics  *metrics.Collector
	sess     *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	local, err := localstore.NewMemory()
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	h := &harness{
		store:    remote.NewMemoryStore(remote.WithMemoryClock(steppingClock())),
		local:    local,
		recorder: &notify.Recorder{},
		metrics:  metrics.NewCollector("test", "memory", "memory"),
	}
	h.sess, err = NewSession(Options{
		Store:    h.store,
		Local:    local,
		Notifier: h.recorder,
		Metrics:  h.metrics,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = h.sess.Close() })
	return h
}

func fatalErr() error {
	return &remote.StatusError{StatusCode: http.StatusBadRequest, Code: "invalid-argument", Message: "bad"}
}

func permissionErr() error {
	return &remote.StatusError{StatusCode: http.StatusForbidden, Code: "permission-denied", Message: "rules"}
}

func TestNewSession_RequiresStore(t *testing.T) {
	if _, err := NewSession(Options{}); err == nil {
		t.Error("session without a store accepted")
	}
}

func TestRepository_ListIsCachedUntilWrite(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	created, err := h.sess.Clients.Create(ctx, types.Client{Name: "Ana", Phone: "300"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Name != "Ana" || created.RegisteredOn == "" {
		t.Errorf("created = %+v", created)
	}

	if got := h.sess.Clients.List(ctx); len(got) != 1 {
		t.Fatalf("list = %+v", got)
	}
	h.sess.Clients.List(ctx)
	if got := h.store.Calls(remote.MethodQuery); got != 1 {
		t.Errorf("queries after two lists = %d, want 1", got)
	}

	if err := h.sess.Clients.Update(ctx, created.ID, types.Fields{"phone": "301"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got := h.sess.Clients.List(ctx)
	if h.store.Calls(remote.MethodQuery) != 2 || got[0].Phone != "301" {
		t.Errorf("list after update = %+v (queries %d)", got, h.store.Calls(remote.MethodQuery))
	}

	if err := h.sess.Clients.Remove(ctx, created.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := h.sess.Clients.List(ctx); len(got) != 0 {
		t.Errorf("list after remove = %+v", got)
	}
	if got := h.store.Calls(remote.MethodQuery); got != 3 {
		t.Errorf("queries = %d, want 3", got)
	}
	if n := h.recorder.Count(notify.LevelSuccess); n != 3 {
		t.Errorf("success notifications = %d, want 3", n)
	}
}

func TestRepository_UpdateRejectsEmptyID(t *testing.T) {
	h := newHarness(t)
	err := h.sess.Couriers.Update(t.Context(), "", types.Fields{"available": false})
	if !errors.Is(err, remote.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
	if got := h.store.Calls(remote.MethodUpdate); got != 0 {
		t.Errorf("store updates = %d, want 0", got)
	}
}

func TestRepository_UpdateMissingNotifies(t *testing.T) {
	h := newHarness(t)
	err := h.sess.Couriers.Update(t.Context(), "ghost", types.Fields{"available": false})
	if !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	msgs := h.recorder.Messages(notify.LevelError)
	if len(msgs) != 1 || msgs[0] != "Error updating courier: not found" {
		t.Errorf("error notifications = %v", msgs)
	}
}

func TestRepository_ColdAndWarmStart(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.store.FailNext(remote.MethodQuery, fatalErr())
	if got := h.sess.Couriers.Lookup(ctx); got.Source != cache.SourceEmpty || len(got.Items) != 0 {
		t.Errorf("cold start = %+v", got)
	}

	stored := []types.Courier{{ID: "k1", Name: "Luis", Available: true}}
	if err := localstore.SaveList(ctx, h.local, types.KindCouriers, stored); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.store.FailNext(remote.MethodQuery, fatalErr())
	got := h.sess.Couriers.Lookup(ctx)
	if got.Source != cache.SourceFallback || len(got.Items) != 1 || got.Items[0].Name != "Luis" {
		t.Errorf("warm start = %+v", got)
	}
}

func TestRepository_PermissionRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.store.FailNext(remote.MethodQuery, permissionErr())
	got := h.sess.Clients.Lookup(ctx)
	if got.Source != cache.SourceFetched {
		t.Fatalf("source = %s", got.Source)
	}
	if errs := h.recorder.Messages(notify.LevelError); len(errs) != 1 || errs[0] != retry.MsgPermissionRetry {
		t.Errorf("error notifications = %v", errs)
	}
	if ok := h.recorder.Messages(notify.LevelSuccess); len(ok) != 1 || ok[0] != retry.MsgConnectionRestored {
		t.Errorf("success notifications = %v", ok)
	}
	if st := h.sess.ConnectionState(); st.PermissionDeniedCount != 0 || st.HasPermissionIssues {
		t.Errorf("state = %+v", st)
	}
}

func TestRepository_ImportBulk(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	clients := make([]types.Client, 1200)
	for i := range clients {
		clients[i] = types.Client{Name: fmt.Sprintf("client %d", i), Phone: fmt.Sprintf("300%04d", i)}
	}
	phone := func(c types.Client) string { return c.Phone }

	var percents []int
	n, err := h.sess.Clients.ImportBulk(ctx, clients, phone, func(p int, _ string) { percents = append(percents, p) })
	if err != nil || n != 1200 {
		t.Fatalf("import = %d, %v", n, err)
	}
	if got := h.store.Calls(remote.MethodCommit); got != 3 {
		t.Errorf("commits = %d, want 3", got)
	}
	if len(percents) != 3 || percents[2] != 100 {
		t.Errorf("progress = %v", percents)
	}

	// Same keys land on the same documents.
	if _, err := h.sess.Clients.ImportBulk(ctx, clients[:10], phone, nil); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if got := h.store.Len("clients"); got != 1200 {
		t.Errorf("stored = %d, want 1200", got)
	}
	if got := len(h.sess.Clients.List(ctx)); got != 1200 {
		t.Errorf("listed = %d, want 1200", got)
	}
}

func TestRepository_ImportBulkEmpty(t *testing.T) {
	h := newHarness(t)
	n, err := h.sess.Clients.ImportBulk(t.Context(), nil, nil, nil)
	if n != 0 || err != nil {
		t.Errorf("import = %d, %v", n, err)
	}
	if msgs := h.recorder.Messages(notify.LevelError); len(msgs) != 1 || msgs[0] != "No clients to import" {
		t.Errorf("error notifications = %v", msgs)
	}
}

func TestRepository_ImportBulkPermissionFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailNext(remote.MethodCommit, permissionErr(), permissionErr(), permissionErr())

	n, err := h.sess.Clients.ImportBulk(t.Context(), []types.Client{{Name: "Ana"}}, nil, nil)
	if n != 0 || err == nil {
		t.Fatalf("import = %d, %v", n, err)
	}
	msgs := h.recorder.Messages(notify.LevelError)
	if len(msgs) != 2 || msgs[0] != retry.MsgPermissionRetry || msgs[1] != MsgImportPermission {
		t.Errorf("error notifications = %v", msgs)
	}
	if st := h.sess.ConnectionState(); st.PermissionDeniedCount != 3 {
		t.Errorf("permission count = %d, want 3", st.PermissionDeniedCount)
	}
}

func seedOrder(t *testing.T, h *harness, o types.Order) types.Order {
	t.Helper()
	created, err := h.sess.Orders.Create(t.Context(), o)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return created
}

func TestOrders_ToggleWritesAndPatchesBoard(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	order := seedOrder(t, h, types.Order{Client: "Ana", OrderValue: 20000})

	var mu sync.Mutex
	var views [][]types.Order
	stop, err := h.sess.Orders.SubscribeLive(ctx, func(v []types.Order) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	if err := h.sess.Orders.TogglePaymentStatus(ctx, order.ID); err != nil {
		t.Fatalf("toggle status: %v", err)
	}
	if err := h.sess.Orders.TogglePaymentMethod(ctx, order.ID); err != nil {
		t.Fatalf("toggle method: %v", err)
	}
	if err := h.sess.Orders.ToggleDelivered(ctx, order.ID); err != nil {
		t.Fatalf("toggle delivered: %v", err)
	}
	if err := h.sess.Orders.AssignCourier(ctx, order.ID, types.Courier{ID: "k1", Name: "Luis"}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	f, _ := h.store.Get("orders", order.ID)
	got := types.DecodeOrder(order.ID, f)
	if got.PaymentStatus != types.PaymentPaid || got.PaymentMethod != types.PaymentCard ||
		!got.Delivered || got.Status != types.OrderDelivered || got.CourierName != "Luis" || got.CourierID != "k1" {
		t.Errorf("stored order = %+v", got)
	}

	view := h.sess.Orders.Board().View()
	if len(view) != 1 || view[0].PaymentStatus != types.PaymentPaid || view[0].CourierName != "Luis" {
		t.Errorf("board view = %+v", view)
	}
	mu.Lock()
	n := len(views)
	mu.Unlock()
	if n == 0 {
		t.Error("callback never ran")
	}

	if err := h.sess.Orders.AssignCourier(ctx, order.ID, types.Courier{}); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	f, _ = h.store.Get("orders", order.ID)
	if got := types.DecodeOrder(order.ID, f); got.CourierName != types.Unassigned || got.CourierID != "" {
		t.Errorf("unassigned order = %+v", got)
	}
}

func TestOrders_FailedToggleReverts(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	order := seedOrder(t, h, types.Order{Client: "Ana"})

	stop, err := h.sess.Orders.SubscribeLive(ctx, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	h.store.FailNext(remote.MethodUpdate, fatalErr())
	if err := h.sess.Orders.TogglePaymentStatus(ctx, order.ID); err == nil {
		t.Fatal("toggle succeeded against a failing store")
	}
	board := h.sess.Orders.Board()
	if board.Pending() != 0 {
		t.Errorf("pending patches = %d", board.Pending())
	}
	if v := board.View(); v[0].PaymentStatus != types.PaymentPending {
		t.Errorf("status not reverted: %+v", v[0])
	}
	if msgs := h.recorder.Messages(notify.LevelError); len(msgs) != 1 || msgs[0] != MsgOrderUpdateError {
		t.Errorf("error notifications = %v", msgs)
	}
}

func TestOrders_ToggleUnknownOrder(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Orders.ToggleDelivered(t.Context(), "nope"); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("expected ErrUnknownOrder, got %v", err)
	}
	if err := h.sess.Orders.ToggleDelivered(t.Context(), ""); !errors.Is(err, remote.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestOrders_ArchiveOrders(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if _, err := h.sess.Orders.ArchiveOrders(ctx, []string{"", ""}, nil); err == nil {
		t.Error("archive with no ids accepted")
	}

	a := seedOrder(t, h, types.Order{Client: "Ana"})
	b := seedOrder(t, h, types.Order{Client: "Beto"})
	h.sess.Orders.List(ctx)
	queries := h.store.Calls(remote.MethodQuery)

	n, err := h.sess.Orders.ArchiveOrders(ctx, []string{a.ID, "", b.ID}, nil)
	if err != nil || n != 2 {
		t.Fatalf("archive = %d, %v", n, err)
	}
	for _, o := range h.sess.Orders.List(ctx) {
		if !o.Archived {
			t.Errorf("order %s not archived", o.ID)
		}
	}
	if h.store.Calls(remote.MethodQuery) != queries+1 {
		t.Error("archive did not invalidate the orders cache")
	}
}

func TestOrders_ListCappedOfDayReadsAll(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	const total = realtime.DefaultLimit + 5
	for i := range total {
		if _, err := h.store.Create(ctx, string(types.KindOrders), types.EncodeOrder(types.Order{Client: fmt.Sprintf("c%d", i)})); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	archived, err := h.store.Create(ctx, string(types.KindOrders), types.EncodeOrder(types.Order{Archived: true}))
	if err != nil {
		t.Fatalf("seed archived: %v", err)
	}
	older, err := h.store.Create(ctx, string(types.KindOrders), types.EncodeOrder(types.Order{}))
	if err != nil {
		t.Fatalf("seed older: %v", err)
	}
	if err := h.store.Update(ctx, string(types.KindOrders), older, types.Fields{types.FieldPlacedAt: time.Now().AddDate(0, 0, -2)}); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if n := len(h.sess.Orders.List(ctx)); n != realtime.DefaultLimit {
		t.Errorf("cached list = %d orders, want %d", n, realtime.DefaultLimit)
	}

	day, err := h.sess.Orders.OfDay(ctx, types.FormatDate(time.Now()))
	if err != nil {
		t.Fatalf("OfDay: %v", err)
	}
	if len(day) != total {
		t.Errorf("orders of day = %d, want %d", len(day), total)
	}
	for _, o := range day {
		if o.ID == archived || o.ID == older {
			t.Errorf("order %s should be excluded", o.ID)
		}
	}
}

func TestOrders_OfDayIgnoresLocalCopy(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if err := localstore.SaveList(ctx, h.local, types.KindOrders, []types.Order{{ID: "old", Date: "1/3/2026"}}); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	h.store.FailNext(remote.MethodQuery, fatalErr())

	day, err := h.sess.Orders.OfDay(ctx, "1/3/2026")
	if err == nil || day != nil {
		t.Fatalf("OfDay = %v, %v; want error", day, err)
	}
	if msgs := h.recorder.Messages(notify.LevelError); len(msgs) != 1 || msgs[0] != "Error loading orders" {
		t.Errorf("error notifications = %v", msgs)
	}
}

func TestVerifyConnection(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.store.FailNext(remote.MethodQuery, permissionErr())
	if err := h.sess.VerifyConnection(ctx); err == nil {
		t.Fatal("expected permission failure")
	}
	st := h.sess.ConnectionState()
	if st.PermissionDeniedCount != 1 || !st.HasPermissionIssues || st.LastPermissionCheck == nil || !st.IsOnline {
		t.Errorf("after permission failure = %+v", st)
	}

	h.store.FailNext(remote.MethodQuery, &remote.StatusError{StatusCode: http.StatusServiceUnavailable})
	if err := h.sess.VerifyConnection(ctx); err == nil {
		t.Fatal("expected transient failure")
	}
	if st := h.sess.ConnectionState(); st.IsOnline || st.Status != "offline" {
		t.Errorf("after outage = %+v", st)
	}

	if err := h.sess.VerifyConnection(ctx); err != nil {
		t.Fatalf("verify: %v", err)
	}
	st = h.sess.ConnectionState()
	if !st.IsOnline || st.PermissionDeniedCount != 0 || st.Status != "online" {
		t.Errorf("after recovery = %+v", st)
	}
}

func TestResetPermissionErrors(t *testing.T) {
	h := newHarness(t)
	h.sess.Tracker().RecordPermissionDenied(time.Now())
	h.sess.ResetPermissionErrors()
	st := h.sess.ConnectionState()
	if st.PermissionDeniedCount != 0 || st.LastPermissionCheck != nil {
		t.Errorf("state after reset = %+v", st)
	}
}

func TestCompanySettings(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if got := h.sess.CompanySettings(ctx).CompanyName; got != types.DefaultCompanyName {
		t.Errorf("default name = %q", got)
	}
	if _, err := h.store.Create(ctx, "settings", types.Fields{"company_name": "Rapidos"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got := h.sess.CompanySettings(ctx).CompanyName; got != "Rapidos" {
		t.Errorf("name = %q", got)
	}
	h.store.FailNext(remote.MethodQuery, permissionErr())
	if got := h.sess.CompanySettings(ctx).CompanyName; got != types.DefaultCompanyName {
		t.Errorf("name on failure = %q", got)
	}
}

func TestShiftsAndClosings(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	for _, s := range []types.CourierShift{
		{CourierID: "k1", Name: "Luis", Deliveries: 4},
		{CourierID: "k2", Name: "Eva", Deliveries: 2},
		{CourierID: "k1", Name: "Luis", Deliveries: 7},
	} {
		if _, err := h.sess.AddShift(ctx, s); err != nil {
			t.Fatalf("add shift: %v", err)
		}
	}
	shifts, err := h.sess.ListShifts(ctx, "k1")
	if err != nil {
		t.Fatalf("list shifts: %v", err)
	}
	if len(shifts) != 2 || shifts[0].Deliveries != 7 || shifts[1].Deliveries != 4 {
		t.Errorf("shifts = %+v", shifts)
	}

	for i := range 3 {
		if _, err := h.sess.SaveClosing(ctx, types.DailyClosing{Day: fmt.Sprintf("day %d", i), OrdersCount: i}); err != nil {
			t.Fatalf("save closing: %v", err)
		}
	}
	closings, err := h.sess.ListClosings(ctx, 2)
	if err != nil {
		t.Fatalf("list closings: %v", err)
	}
	if len(closings) != 2 || closings[0].Day != "day 2" || closings[0].CreatedAt == "" {
		t.Errorf("closings = %+v", closings)
	}
}

func TestCostHistory(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if ok, err := h.sess.RecordCost(ctx, "Calle 5", 4000); !ok || err != nil {
		t.Fatalf("record = %v, %v", ok, err)
	}
	if ok, _ := h.sess.RecordCost(ctx, "", 4000); ok {
		t.Error("empty address recorded")
	}
	hist, err := h.sess.CostHistory(ctx)
	if err != nil || hist["Calle 5"] != 4000 || len(hist) != 1 {
		t.Errorf("history = %v, %v", hist, err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
