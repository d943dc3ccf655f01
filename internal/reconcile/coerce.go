package reconcile

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Model output is decoded into map[string]any, so every reader here tolerates
// the wrong JSON type by reporting "absent" rather than failing.

func asString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func asOptString(v any) *string {
	if s, ok := asString(v); ok {
		return &s
	}
	return nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n), "%")), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asNumber(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// asItems returns a non-empty list; an empty list counts as absent.
func asItems(v any) ([]any, bool) {
	items, ok := v.([]any)
	return items, ok && len(items) > 0
}

func asStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := asString(it); ok {
			out = append(out, s)
		}
	}
	return out
}

// Clamp bounds c to [0,1]; NaN becomes 0.
func Clamp(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// confidence reads an optional confidence, using def when absent.
func confidence(v any, def float64) float64 {
	if f, ok := asNumber(v); ok {
		return Clamp(f)
	}
	return Clamp(def)
}
