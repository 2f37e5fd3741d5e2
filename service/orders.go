package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/despacho/batch"
	"github.com/pithecene-io/despacho/cache"
	"github.com/pithecene-io/despacho/realtime"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

// ErrUnknownOrder is returned by toggles for orders outside the live
// window and the cached list.
var ErrUnknownOrder = errors.New("unknown order")

// Orders is the order repository plus the live board.
type Orders struct {
	*Repository[types.Order]

	recon *realtime.Reconciler[types.Order]
	board *realtime.Board[types.Order]
}

func newOrders(s *Session, deps cache.Deps, live realtime.Config) (*Orders, error) {
	recon, err := realtime.New(s.listener, types.DecodeOrder, live, s.base, s.metrics)
	if err != nil {
		return nil, err
	}
	return &Orders{
		Repository: newRepository(s, orderCodec, deps),
		recon:      recon,
		board:      realtime.NewBoard(types.Order.EntityID),
	}, nil
}

// Board returns the optimistic live board.
func (o *Orders) Board() *realtime.Board[types.Order] {
	return o.board
}

// SubscribeLive feeds the live window into the board and delivers the
// board's view to callback on every snapshot or local patch. callback
// may be nil when the caller reads Board directly.
func (o *Orders) SubscribeLive(ctx context.Context, callback func([]types.Order)) (unsubscribe func(), err error) {
	if callback != nil {
		o.board.OnChange(callback)
	}
	stop, err := o.recon.Subscribe(ctx, o.board.Replace)
	if err != nil {
		o.board.OnChange(nil)
		return nil, err
	}
	return func() {
		stop()
		o.board.OnChange(nil)
	}, nil
}

// TogglePaymentMethod switches between cash and card.
func (o *Orders) TogglePaymentMethod(ctx context.Context, id string) error {
	return o.toggle(ctx, "toggle payment method", id, func(cur types.Order) (types.Fields, func(types.Order) types.Order) {
		next := types.PaymentCard
		if cur.PaymentMethod == types.PaymentCard {
			next = types.PaymentCash
		}
		return types.Fields{"payment_method": next}, func(x types.Order) types.Order {
			x.PaymentMethod = next
			return x
		}
	})
}

// TogglePaymentStatus switches between pending and paid.
func (o *Orders) TogglePaymentStatus(ctx context.Context, id string) error {
	return o.toggle(ctx, "toggle payment status", id, func(cur types.Order) (types.Fields, func(types.Order) types.Order) {
		next := types.PaymentPaid
		if cur.PaymentStatus == types.PaymentPaid {
			next = types.PaymentPending
		}
		return types.Fields{"payment_status": next}, func(x types.Order) types.Order {
			x.PaymentStatus = next
			return x
		}
	})
}

// ToggleDelivered flips the delivered flag and the matching status.
func (o *Orders) ToggleDelivered(ctx context.Context, id string) error {
	return o.toggle(ctx, "toggle delivered", id, func(cur types.Order) (types.Fields, func(types.Order) types.Order) {
		delivered := !cur.Delivered
		status := types.OrderReceived
		if delivered {
			status = types.OrderDelivered
		}
		return types.Fields{"delivered": delivered, "status": status}, func(x types.Order) types.Order {
			x.Delivered = delivered
			x.Status = status
			return x
		}
	})
}

// AssignCourier sets the courier of an order. A zero courier unassigns.
func (o *Orders) AssignCourier(ctx context.Context, id string, courier types.Courier) error {
	return o.toggle(ctx, "assign courier", id, func(types.Order) (types.Fields, func(types.Order) types.Order) {
		name := courier.Name
		if courier.ID == "" {
			name = types.Unassigned
		}
		var courierID any
		if courier.ID != "" {
			courierID = courier.ID
		}
		return types.Fields{types.FieldCourierID: courierID, "courier_name": name}, func(x types.Order) types.Order {
			x.CourierID = courier.ID
			x.CourierName = name
			return x
		}
	})
}

// toggle applies an optimistic patch, writes it through the executor and
// reverts the patch if the write gives up.
func (o *Orders) toggle(ctx context.Context, op, id string, change func(types.Order) (types.Fields, func(types.Order) types.Order)) error {
	if id == "" {
		return fmt.Errorf("%s: %w", op, remote.ErrInvalidID)
	}
	cur, ok := o.find(ctx, id)
	if !ok {
		return fmt.Errorf("%s %s: %w", op, id, ErrUnknownOrder)
	}
	fields, apply := change(cur)

	tok := o.board.Patch(id, apply)
	if err := o.update(ctx, op, id, fields); err != nil {
		o.board.Fail(tok)
		o.sess.notifyError(op, MsgOrderUpdateError)
		return err
	}
	o.board.Ack(tok)
	return nil
}

func (o *Orders) find(ctx context.Context, id string) (types.Order, bool) {
	if cur, ok := o.board.Find(id); ok {
		return cur, true
	}
	for _, cur := range o.List(ctx) {
		if cur.ID == id {
			return cur, true
		}
	}
	return types.Order{}, false
}

// OfDay reads the day's orders that are not archived straight from the
// store, bypassing the cache and its local fallback. The day is derived
// from placed_at, so the whole collection is scanned.
func (o *Orders) OfDay(ctx context.Context, day string) ([]types.Order, error) {
	const op = "load orders of day"
	docs, err := retry.Do(ctx, o.sess.exec, op, func(ctx context.Context) ([]remote.Document, error) {
		return o.sess.store.Query(ctx, remote.Query{
			Collection: string(types.KindOrders),
			OrderBy:    types.FieldPlacedAt,
			Desc:       true,
		})
	})
	if err != nil {
		o.sess.notifyError(op, "Error loading orders")
		return nil, err
	}
	var out []types.Order
	for _, d := range docs {
		order := types.DecodeOrder(d.ID, d.Fields)
		if order.Date == day && !order.Archived {
			out = append(out, order)
		}
	}
	return out, nil
}

// ArchiveOrders marks orders archived in chunked commits.
// Empty ids are skipped; a list with no ids is an error.
func (o *Orders) ArchiveOrders(ctx context.Context, ids []string, onProgress batch.ProgressFunc) (int, error) {
	ops := make([]remote.WriteOp, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			ops = append(ops, remote.UpdateOp(string(types.KindOrders), id, types.Fields{types.FieldArchived: true}))
		}
	}
	if len(ops) == 0 {
		return 0, errors.New("archive orders: no order ids")
	}

	n, err := o.sess.batch.Commit(ctx, string(types.KindOrders), ops, onProgress)
	if n > 0 {
		o.cache.Invalidate()
	}
	if err != nil {
		o.sess.notifyError("archive orders", "Error archiving orders")
		return n, err
	}
	o.sess.notifySuccess("archive orders", MsgOrdersArchived)
	return n, nil
}
