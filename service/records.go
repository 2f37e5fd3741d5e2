package service

import (
	"context"

	"github.com/pithecene-io/despacho/localstore"
	"github.com/pithecene-io/despacho/remote"
	"github.com/pithecene-io/despacho/retry"
	"github.com/pithecene-io/despacho/types"
)

// AddShift records a courier's working day. The date is stamped by the
// store.
func (s *Session) AddShift(ctx context.Context, shift types.CourierShift) (string, error) {
	const op = "save courier shift"
	id, err := retry.Do(ctx, s.exec, op, func(ctx context.Context) (string, error) {
		return s.store.Create(ctx, string(types.KindCourierShifts), types.EncodeCourierShift(shift))
	})
	if err != nil {
		s.notifyError(op, "Error saving courier shift")
		return "", err
	}
	return id, nil
}

// ListShifts returns a courier's shifts, newest first.
func (s *Session) ListShifts(ctx context.Context, courierID string) ([]types.CourierShift, error) {
	const op = "list courier shifts"
	docs, err := retry.Do(ctx, s.exec, op, func(ctx context.Context) ([]remote.Document, error) {
		return s.store.Query(ctx, remote.Query{
			Collection: string(types.KindCourierShifts),
			Where:      []remote.Filter{remote.Where(types.FieldCourierID, courierID)},
			OrderBy:    types.FieldShiftDate,
			Desc:       true,
		})
	})
	if err != nil {
		s.notifyError(op, "Error loading courier history")
		return nil, err
	}
	out := make([]types.CourierShift, len(docs))
	for i, d := range docs {
		out[i] = types.DecodeCourierShift(d.ID, d.Fields)
	}
	return out, nil
}

// SaveClosing records an end-of-day closing stamped with the store's
// clock.
func (s *Session) SaveClosing(ctx context.Context, closing types.DailyClosing) (string, error) {
	const op = "save daily closing"
	id, err := retry.Do(ctx, s.exec, op, func(ctx context.Context) (string, error) {
		return s.store.Create(ctx, string(types.KindDailyClosings), types.EncodeDailyClosing(closing))
	})
	if err != nil {
		s.notifyError(op, "Error saving daily closing")
		return "", err
	}
	s.notifySuccess(op, MsgSaved)
	return id, nil
}

// ListClosings returns the most recent closings, newest first. A
// non-positive limit returns all of them.
func (s *Session) ListClosings(ctx context.Context, limit int) ([]types.DailyClosing, error) {
	const op = "list daily closings"
	docs, err := retry.Do(ctx, s.exec, op, func(ctx context.Context) ([]remote.Document, error) {
		return s.store.Query(ctx, remote.Query{
			Collection: string(types.KindDailyClosings),
			OrderBy:    types.FieldCreatedAt,
			Desc:       true,
			Limit:      max(limit, 0),
		})
	})
	if err != nil {
		s.notifyError(op, "Error loading daily closings")
		return nil, err
	}
	out := make([]types.DailyClosing, len(docs))
	for i, d := range docs {
		out[i] = types.DecodeDailyClosing(d.ID, d.Fields)
	}
	return out, nil
}

// CompanySettings returns the first settings document, or the defaults
// when there is none or the store cannot be read.
func (s *Session) CompanySettings(ctx context.Context) types.CompanySettings {
	docs, err := s.store.Query(ctx, remote.Query{Collection: string(types.KindSettings), Limit: 1})
	if err != nil {
		s.logger.Warn("settings unavailable", map[string]any{"error": err.Error()})
		return types.CompanySettings{CompanyName: types.DefaultCompanyName}
	}
	if len(docs) == 0 {
		return types.CompanySettings{CompanyName: types.DefaultCompanyName}
	}
	return types.DecodeCompanySettings(docs[0].Fields)
}

// RecordCost remembers the delivery cost charged for address.
// It reports false when the entry was ignored.
func (s *Session) RecordCost(ctx context.Context, address string, cost float64) (bool, error) {
	return localstore.RecordCost(ctx, s.local, address, cost)
}

// CostHistory returns the last cost charged per address.
func (s *Session) CostHistory(ctx context.Context) (localstore.CostHistory, error) {
	return localstore.LoadCostHistory(ctx, s.local)
}
