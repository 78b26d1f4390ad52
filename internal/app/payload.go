package app

import (
	"strconv"
	"time"
)

// Helpers for reading serialized conflict payloads back out of storage.
// Values arrive either as native Go values (same process) or as the result of
// a JSON round-trip (numbers become float64), so the accessors are flexible
// about numeric types.

func payloadAny(m map[string]any, path ...string) any {
	cur := any(m)
	for _, part := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func payloadMap(m map[string]any, path ...string) map[string]any {
	if v, ok := payloadAny(m, path...).(map[string]any); ok {
		return v
	}
	return nil
}

func payloadStr(m map[string]any, path ...string) string {
	if s, ok := payloadAny(m, path...).(string); ok {
		return s
	}
	return ""
}

// payloadStrPtr keeps the missing/null vs empty distinction for optional
// contact fields.
func payloadStrPtr(m map[string]any, path ...string) *string {
	if s, ok := payloadAny(m, path...).(string); ok {
		return &s
	}
	return nil
}

func payloadInt64(m map[string]any, path ...string) int64 {
	switch v := payloadAny(m, path...).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func payloadFloatPtr(m map[string]any, path ...string) *float64 {
	switch v := payloadAny(m, path...).(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

func payloadDate(m map[string]any, path ...string) (time.Time, bool) {
	s := payloadStr(m, path...)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
