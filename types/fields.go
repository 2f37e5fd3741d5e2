package types

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Fields is the field map of one remote document.
// Values are whatever the transport decoded: strings, float64, bool,
// []any, map[string]any, Timestamp or nil.
type Fields map[string]any

// Timestamp is an instant assigned by the remote store.
// It is never handed to callers; decoders render it as strings.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t as a store timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

type serverTime struct{}

// ServerTimestamp is a write-side sentinel. The remote store replaces it
// with its own clock when the write commits.
var ServerTimestamp any = serverTime{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTime)
	return ok
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge copies every key of patch over f and returns f.
// A nil f is allocated.
func (f Fields) Merge(patch Fields) Fields {
	if f == nil {
		f = make(Fields, len(patch))
	}
	for k, v := range patch {
		f[k] = v
	}
	return f
}

// Resolve returns a copy of f with every ServerTimestamp sentinel
// replaced by a Timestamp for now.
func (f Fields) Resolve(now time.Time) Fields {
	out := f.Clone()
	for k, v := range out {
		if IsServerTimestamp(v) {
			out[k] = NewTimestamp(now)
		}
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TimeOf returns the instant stored at key. Timestamp, time.Time and
// RFC 3339 strings are accepted.
func (f Fields) TimeOf(key string) (time.Time, bool) {
	switch v := f[key].(type) {
	case Timestamp:
		return v.Time, true
	case *Timestamp:
		if v == nil {
			return time.Time{}, false
		}
		return v.Time, true
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// String coerces the value at key to a string. Missing, nil and empty
// values yield def.
func (f Fields) String(key, def string) string {
	switch v := f[key].(type) {
	case nil:
		return def
	case string:
		if v == "" {
			return def
		}
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case Timestamp:
		return FormatDate(v.Time)
	case time.Time:
		return FormatDate(v)
	default:
		return def
	}
}

// Number coerces the value at key to a float64. Anything that does not
// parse as a number yields 0.
func (f Fields) Number(key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0
		}
		return n
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return n
	case bool:
		if v {
			return 1
		}
		return 0
	}
	return 0
}

// Int is Number truncated to an int.
func (f Fields) Int(key string) int {
	return int(f.Number(key))
}

// Bool coerces the value at key to a bool. A missing or nil key yields def.
// Non-bool values follow truthiness: non-zero numbers and non-empty
// strings are true.
func (f Fields) Bool(key string, def bool) bool {
	switch v := f[key].(type) {
	case nil:
		return def
	case bool:
		return v
	case string:
		return v != ""
	default:
		return f.Number(key) != 0
	}
}

// Strings coerces the value at key to a string slice. Non-slice values
// yield an empty, non-nil slice.
func (f Fields) Strings(key string) []string {
	out := []string{}
	switch v := f[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for i := range v {
			out = append(out, Fields{"v": normalizeValue(v[i])}.String("v", ""))
		}
	}
	return out
}
