package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Options carries the resolved type options a coercion needs. Parse and
// Location only apply to timestamp cells that arrive as text or numbers; a
// native time.Time cell is the instant the driver reports and is only
// converted to UTC. Drivers that return zone-less columns as UTC wall
// clocks (lib/pq DATE and TIMESTAMP) keep that reading.
type Options struct {
	Parse    TimeParser
	Location *time.Location
}

// CoerceFunc converts a raw cell value into the Go value of a logical type.
// A nil cell converts to nil for every type.
type CoerceFunc func(cell any, opts Options) (any, error)

// TextLayout is the text form engines use for timestamps without a zone
const TextLayout = "2006-01-02 15:04:05.999999999"

var errNotConvertible = errors.New("value is not convertible")

var coercers = map[Type]CoerceFunc{
	String:    coerceString,
	Long:      coerceLong,
	Double:    coerceDouble,
	Boolean:   coerceBoolean,
	Timestamp: coerceTimestamp,
}

// Coerce converts cell to the Go representation of t: string, int64,
// float64, bool or time.Time (always UTC).
func Coerce(t Type, cell any, opts Options) (any, error) {
	fn, ok := coercers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return fn(cell, opts)
}

// Text renders a cell the way a cursor's string accessor would
func Text(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(TextLayout)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func coerceString(cell any, _ Options) (any, error) {
	if cell == nil {
		return nil, nil
	}
	return Text(cell), nil
}

// integer returns cell as an int64 when it holds an integer kind that fits
func integer(cell any) (int64, bool) {
	switch v := cell.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v), true
		}
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return int64(v), true
		}
	}
	return 0, false
}

func coerceLong(cell any, _ Options) (any, error) {
	if n, ok := integer(cell); ok {
		return n, nil
	}
	switch v := cell.(type) {
	case nil:
		return nil, nil
	case uint64, uint:
		return nil, fmt.Errorf("%d overflows long", v)
	case float64:
		return floatToLong(v)
	case float32:
		return floatToLong(float64(v))
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string, []byte:
		s := strings.TrimSpace(Text(v))
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as long: %w", s, errors.Unwrap(err))
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%T to long: %w", cell, errNotConvertible)
	}
}

func floatToLong(f float64) (any, error) {
	// float64(math.MaxInt64) is 2^63, one past the largest int64
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%v overflows long", f)
	}
	return int64(f), nil
}

func coerceDouble(cell any, _ Options) (any, error) {
	if n, ok := integer(cell); ok {
		return float64(n), nil
	}
	switch v := cell.(type) {
	case nil:
		return nil, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case string, []byte:
		s := strings.TrimSpace(Text(v))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as double: %w", s, errors.Unwrap(err))
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%T to double: %w", cell, errNotConvertible)
	}
}

func coerceBoolean(cell any, _ Options) (any, error) {
	if n, ok := integer(cell); ok {
		return n != 0, nil
	}
	switch v := cell.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case uint64:
		return v != 0, nil
	case uint:
		return v != 0, nil
	case float32:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string, []byte:
		s := strings.TrimSpace(Text(v))
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as boolean: %w", s, errors.Unwrap(err))
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%T to boolean: %w", cell, errNotConvertible)
	}
}

func coerceTimestamp(cell any, opts Options) (any, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	switch v := cell.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v.UTC(), nil
	}

	if opts.Parse != nil {
		s := strings.TrimSpace(Text(cell))
		t, err := opts.Parse(s, loc)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as timestamp: %w", s, err)
		}
		return t.UTC(), nil
	}

	if ms, ok := integer(cell); ok {
		return time.UnixMilli(ms).UTC(), nil
	}
	switch v := cell.(type) {
	case string, []byte:
		return parseTimestampText(strings.TrimSpace(Text(v)), loc)
	default:
		return nil, fmt.Errorf("%T to timestamp: %w", cell, errNotConvertible)
	}
}

var timestampTextLayouts = []string{
	TextLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	time.DateOnly,
}

func parseTimestampText(s string, loc *time.Location) (any, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range timestampTextLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as timestamp", s)
}
