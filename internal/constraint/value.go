package constraint

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Numeric converts a parameter value to float64. Numeric strings count; anything
// else (booleans, objects, free text) reports false.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Text renders a scalar value the way it would appear in a request.
func Text(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// Elements returns the members of a list value, or the value itself.
func Elements(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// SameLiteral compares values as normalized strings so 5, "5" and 5.0 match.
func SameLiteral(a, b any) bool {
	if fa, ok := Numeric(a); ok {
		if fb, ok := Numeric(b); ok {
			return fa == fb
		}
	}
	return strings.EqualFold(strings.TrimSpace(Text(a)), strings.TrimSpace(Text(b)))
}
