package rules

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// firstPresent returns the first candidate key present in data.
func firstPresent(data domain.Record, keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			return k, v, true
		}
	}
	return "", nil, false
}

// itemsKey names the line-item list of a record.
func itemsKey(data domain.Record) string {
	key, _, ok := firstPresent(data, "line_items", "items")
	if !ok {
		return "items"
	}
	return key
}

// toNumber converts numeric values. Booleans and strings are not numbers.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// number converts a value that arithmetic depends on; anything non-numeric is a rule failure.
func number(v any, field string) (float64, error) {
	f, ok := toNumber(v)
	if !ok {
		return 0, fmt.Errorf("%s: expected a number, got %T", field, v)
	}
	return f, nil
}

// numberOrZero treats nil as zero.
func numberOrZero(v any, field string) (float64, error) {
	if v == nil {
		return 0, nil
	}
	return number(v, field)
}

// truthy reports whether v is set and not zero or empty.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	if f, ok := toNumber(v); ok {
		return f != 0
	}
	return true
}

// firstTruthy returns the first candidate value of m that is truthy. When
// none is, it falls back to the last candidate present, so an explicit zero
// price still takes part in the arithmetic.
func firstTruthy(m map[string]any, keys ...string) any {
	var present any
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if truthy(v) {
			return v
		}
		present = v
	}
	return present
}

// asList converts a line-item list.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	case []domain.Record:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = map[string]any(m)
		}
		return out, true
	default:
		return nil, false
	}
}

// asMap converts a line item; non-mapping items are ignored by every rule.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case domain.Record:
		return m, true
	default:
		return nil, false
	}
}

// formatValue renders a record value for a finding message.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	if f, ok := toNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// itemName labels a line item in messages.
func itemName(item map[string]any, i int) string {
	if name, ok := item["name"]; ok {
		return formatValue(name)
	}
	return fmt.Sprintf("item #%d", i+1)
}
