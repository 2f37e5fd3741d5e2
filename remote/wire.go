package remote

import (
	"time"

	"github.com/pithecene-io/despacho/types"
)

// Wire keys for values JSON cannot carry natively.
const (
	wireTimestamp       = "timestampValue"
	wireServerTimestamp = "serverTimestamp"
)

// encodeFields converts f to JSON-ready values. Instants become
// {"timestampValue": RFC 3339} and the ServerTimestamp sentinel becomes
// {"serverTimestamp": true}.
func encodeFields(f types.Fields) map[string]any {
	if f == nil {
		return nil
	}
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	if types.IsServerTimestamp(v) {
		return map[string]any{wireServerTimestamp: true}
	}
	switch x := v.(type) {
	case types.Timestamp:
		return map[string]any{wireTimestamp: x.UTC().Format(time.RFC3339Nano)}
	case *types.Timestamp:
		if x == nil {
			return nil
		}
		return map[string]any{wireTimestamp: x.UTC().Format(time.RFC3339Nano)}
	case time.Time:
		return map[string]any{wireTimestamp: x.UTC().Format(time.RFC3339Nano)}
	case types.Fields:
		return encodeFields(x)
	case map[string]any:
		return encodeFields(types.Fields(x))
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = encodeValue(x[i])
		}
		return out
	}
	return v
}

// decodeFields reverses encodeFields on a JSON-decoded map.
func decodeFields(raw map[string]any) types.Fields {
	out := make(types.Fields, len(raw))
	for k, v := range raw {
		out[k] = decodeValue(v)
	}
	return out
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if s, ok := x[wireTimestamp].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return types.NewTimestamp(t)
				}
			}
		}
		return map[string]any(decodeFields(x))
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = decodeValue(x[i])
		}
		return out
	}
	return v
}
