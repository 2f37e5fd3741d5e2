package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout renders calendar dates day-first, as operators read them.
const DateLayout = "2/1/2006"

// ISOLayout matches the millisecond UTC form used for ordering keys.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// FormatDate renders t as a local calendar date.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(DateLayout)
}

// FormatISO renders t as a UTC timestamp with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// DateOf returns the date and ISO strings for the instant at key.
// When the key holds no instant, date falls back to the raw value (or
// "N/A") and iso to now.
func (f Fields) DateOf(key string, now time.Time) (date, iso string) {
	if t, ok := f.TimeOf(key); ok {
		return FormatDate(t), FormatISO(t)
	}
	return f.String(key, "N/A"), FormatISO(now)
}

// Normalize coerces every field of f to a primitive so that no
// store-native type escapes the data layer:
//   - nil becomes ""
//   - timestamps become a local date string
//   - maps and structs become their JSON text
//   - slices are kept, with their elements normalized
//   - strings, numbers and bools are kept
func Normalize(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string, bool, float64, float32, int, int32, int64, uint64, json.Number:
		return x
	case Timestamp:
		return FormatDate(x.Time)
	case *Timestamp:
		if x == nil {
			return ""
		}
		return FormatDate(x.Time)
	case time.Time:
		return FormatDate(x)
	case []string:
		return append([]string(nil), x...)
	case []any:
		items := make([]any, len(x))
		for i := range x {
			items[i] = normalizeValue(x[i])
		}
		return items
	default:
		if IsServerTimestamp(x) {
			return FormatDate(time.Now())
		}
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
