package tools

import (
	"encoding/json"
	"fmt"
)

// Args are validated tool arguments. Values have already been coerced to
// their declared types: int for integer, float64 for number, bool for
// boolean, string for string.
type Args map[string]any

// String returns the string argument key, or "" if absent.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the integer argument key, or 0 if absent.
func (a Args) Int(key string) int {
	switch n := a[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// Float returns the number argument key, or 0 if absent.
func (a Args) Float(key string) float64 {
	switch n := a[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

// Bool returns the boolean argument key, or false if absent.
func (a Args) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

// Strings returns the array argument key rendered as strings.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	}
	return nil
}

// FormatResult renders a tool result as conversation text. Strings pass
// through unchanged; anything else is encoded as JSON.
func FormatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
