// Package sanitize bounds arbitrary nested metadata before it is logged,
// embedded in prompts, or echoed back to callers.
package sanitize

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

const (
	DefaultMaxDepth     = 4
	DefaultMaxKeys      = 32
	DefaultMaxItems     = 32
	DefaultMaxStringLen = 512

	// TruncationMarker replaces containers nested beyond the depth bound.
	TruncationMarker = "[truncated]"
)

// Keys that would be prototype-pollution vectors for downstream consumers.
var blockedKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Limits bounds the sanitized output. Zero fields fall back to defaults.
type Limits struct {
	MaxDepth     int
	MaxKeys      int
	MaxItems     int
	MaxStringLen int
}

func normalizeLimits(lim Limits) Limits {
	if lim.MaxDepth <= 0 {
		lim.MaxDepth = DefaultMaxDepth
	}
	if lim.MaxKeys <= 0 {
		lim.MaxKeys = DefaultMaxKeys
	}
	if lim.MaxItems <= 0 {
		lim.MaxItems = DefaultMaxItems
	}
	if lim.MaxStringLen <= 0 {
		lim.MaxStringLen = DefaultMaxStringLen
	}
	return lim
}

// Metadata sanitizes value with the default limits. The result is always
// plain data; any top-level value that is not an object yields an empty map.
func Metadata(value any) map[string]any {
	return MetadataWithLimits(value, Limits{})
}

// MetadataWithLimits sanitizes value with explicit limits. It never fails.
func MetadataWithLimits(value any, lim Limits) map[string]any {
	lim = normalizeLimits(lim)
	obj, ok := value.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	cleaned, ok := clean(obj, 1, lim).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return cleaned
}

func clean(value any, depth int, lim Limits) any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool, float64, int, int64:
		return v
	case string:
		return truncateString(v, lim.MaxStringLen)
	case map[string]any:
		if depth > lim.MaxDepth {
			return TruncationMarker
		}
		keys := make([]string, 0, len(v))
		for key := range v {
			if _, blocked := blockedKeys[key]; blocked {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		if len(keys) > lim.MaxKeys {
			keys = keys[:lim.MaxKeys]
		}
		out := make(map[string]any, len(keys))
		for _, key := range keys {
			out[truncateString(key, lim.MaxStringLen)] = clean(v[key], depth+1, lim)
		}
		return out
	case []any:
		if depth > lim.MaxDepth {
			return TruncationMarker
		}
		items := v
		if len(items) > lim.MaxItems {
			items = items[:lim.MaxItems]
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, clean(item, depth+1, lim))
		}
		return out
	default:
		// Non-plain values are coerced to bounded strings.
		return truncateString(fmt.Sprint(v), lim.MaxStringLen)
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
