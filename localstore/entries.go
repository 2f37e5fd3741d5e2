package localstore

import (
	"context"
	"maps"
	"strings"

	"github.com/pithecene-io/despacho/types"
)

// CostHistoryKey holds the last delivery cost charged per address.
const CostHistoryKey = "cost_history"

// CostHistory maps a delivery address to its last charged cost.
type CostHistory map[string]float64

// LoadList reads the fallback list stored under kind's cache key.
// A missing entry yields nil with no error.
func LoadList[T any](ctx context.Context, s Store, kind types.Kind) ([]T, error) {
	var items []T
	if _, err := s.Get(ctx, kind.CacheKey(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveList replaces the fallback list stored under kind's cache key.
func SaveList[T any](ctx context.Context, s Store, kind types.Kind, items []T) error {
	if items == nil {
		items = []T{}
	}
	return s.Set(ctx, kind.CacheKey(), items)
}

// LoadCostHistory reads the cost history. A missing entry yields an
// empty, non-nil map.
func LoadCostHistory(ctx context.Context, s Store) (CostHistory, error) {
	h := CostHistory{}
	if _, err := s.Get(ctx, CostHistoryKey, &h); err != nil {
		return CostHistory{}, err
	}
	if h == nil {
		h = CostHistory{}
	}
	return h, nil
}

// RecordCost remembers cost for address. An empty address or a
// non-positive cost is ignored and reports false.
func RecordCost(ctx context.Context, s Store, address string, cost float64) (bool, error) {
	address = strings.TrimSpace(address)
	if address == "" || cost <= 0 {
		return false, nil
	}
	h, err := LoadCostHistory(ctx, s)
	if err != nil {
		// An unreadable history starts over.
		h = CostHistory{}
	}
	next := maps.Clone(h)
	next[address] = cost
	if err := s.Set(ctx, CostHistoryKey, next); err != nil {
		return false, err
	}
	return true, nil
}
