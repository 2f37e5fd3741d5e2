package remote

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/pithecene-io/despacho/types"
)

// Apply evaluates q over docs: filter, order, limit. docs is not modified.
// Documents missing the order field sort after every document that has it.
func Apply(q Query, docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if matches(d.Fields, q.Where) {
			out = append(out, d)
		}
	}

	if q.OrderBy != "" {
		slices.SortStableFunc(out, func(a, b Document) int {
			av, aok := a.Fields[q.OrderBy]
			bv, bok := b.Fields[q.OrderBy]
			switch {
			case !aok && !bok:
				return 0
			case !aok:
				return 1
			case !bok:
				return -1
			}
			c := CompareValues(av, bv)
			if q.Desc {
				return -c
			}
			return c
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matches(f types.Fields, filters []Filter) bool {
	for _, flt := range filters {
		v, ok := f[flt.Field]
		if !ok {
			return false
		}
		switch flt.Op {
		case OpEqual, "":
			if CompareValues(v, flt.Value) != 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// CompareValues orders two field values. Instants compare as instants,
// numbers as numbers and everything else by its string form.
func CompareValues(a, b any) int {
	if at, ok := instant(a); ok {
		if bt, ok := instant(b); ok {
			return at.Compare(bt)
		}
	}
	if an, ok := number(a); ok {
		if bn, ok := number(b); ok {
			return cmp.Compare(an, bn)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func instant(v any) (time.Time, bool) {
	switch t := v.(type) {
	case types.Timestamp:
		return t.Time, true
	case *types.Timestamp:
		if t == nil {
			return time.Time{}, false
		}
		return t.Time, true
	case time.Time:
		return t, true
	}
	return time.Time{}, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
