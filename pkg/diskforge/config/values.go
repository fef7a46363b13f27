package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Values wraps a parsed document for type-safe value extraction.
// Keys may be dotted paths into nested maps ("writer.buffer_size").
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Values struct {
	data map[string]any
}

// New creates Values from the given map.
// If data is nil, empty Values are returned.
func New(data map[string]any) Values {
	if data == nil {
		data = make(map[string]any)
	}
	return Values{data: data}
}

// Lookup returns the raw value at key.
func (v Values) Lookup(key string) (any, bool) {
	var cur any = v.data
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// asMap accepts both JSON-style and YAML-style nested maps.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// Section returns the nested map at key as Values.
// Returns empty Values if key is missing or not a map.
func (v Values) Section(key string) Values {
	raw, ok := v.Lookup(key)
	if !ok {
		return New(nil)
	}
	m, ok := asMap(raw)
	if !ok {
		return New(nil)
	}
	return New(m)
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (v Values) String(key, defaultVal string) string {
	raw, ok := v.Lookup(key)
	if !ok {
		return defaultVal
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (v Values) Duration(key string, defaultVal time.Duration) time.Duration {
	raw, ok := v.Lookup(key)
	if !ok {
		return defaultVal
	}
	if d, err := toDuration(raw); err == nil {
		return d
	}
	return defaultVal
}

func toDuration(raw any) (time.Duration, error) {
	switch val := raw.(type) {
	case string:
		return time.ParseDuration(val)
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case int:
		return time.Duration(val) * time.Second, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case time.Duration:
		return val, nil
	}
	return 0, fmt.Errorf("cannot use %T as a duration", raw)
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (v Values) Bool(key string, defaultVal bool) bool {
	raw, ok := v.Lookup(key)
	if !ok {
		return defaultVal
	}
	if b, ok := raw.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
// A float64 converts only when it has no fractional part.
func (v Values) Int(key string, defaultVal int) int {
	raw, ok := v.Lookup(key)
	if !ok {
		return defaultVal
	}
	if n, err := toInt(raw); err == nil {
		return n
	}
	return defaultVal
}

func toInt(raw any) (int, error) {
	switch val := raw.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val == math.Trunc(val) {
			return int(val), nil
		}
	}
	return 0, fmt.Errorf("cannot use %v as an integer", raw)
}

// Bytes returns a byte count for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with humanize.ParseBytes ("1MiB", "500 GB", "4096")
//   - int, int64, float64: a plain byte count
func (v Values) Bytes(key string, defaultVal int64) int64 {
	raw, ok := v.Lookup(key)
	if !ok {
		return defaultVal
	}
	if n, err := ParseBytes(raw); err == nil {
		return n
	}
	return defaultVal
}

// ParseBytes converts a human size string or a number to a byte count.
func ParseBytes(raw any) (int64, error) {
	switch val := raw.(type) {
	case string:
		n, err := humanize.ParseBytes(val)
		if err != nil {
			return 0, err
		}
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("size %q too large", val)
		}
		return int64(n), nil
	default:
		n, err := toInt(raw)
		if err != nil {
			return 0, fmt.Errorf("cannot use %v as a size", raw)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative size %d", n)
		}
		return int64(n), nil
	}
}

// Has returns true if the key exists.
func (v Values) Has(key string) bool {
	_, ok := v.Lookup(key)
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (v Values) Raw() map[string]any {
	return v.data
}
