// Package metadata flattens the loosely typed member and package fields of
// the document API into plain strings.
package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/crec-cli/internal/model"
)

// nameKeys are consulted in order when a field arrives as an object.
var nameKeys = []string{"authority-fnf", "authority-lnf", "name", "#text", "value"}

// Sanitize reduces an arbitrary decoded JSON value to a trimmed, non-empty
// string. Lists collapse to their first element, objects to the first
// non-empty name-like key, and anything absent or blank becomes "Unknown".
func Sanitize(v any) string {
	return SanitizeOr(v, model.Unknown)
}

// SanitizeOr is Sanitize with a caller-chosen fallback for absent values.
// An empty fallback is replaced by "Unknown" so the result is never blank.
func SanitizeOr(v any, fallback string) string {
	if strings.TrimSpace(fallback) == "" {
		fallback = model.Unknown
	}

	for {
		list, ok := v.([]any)
		if !ok {
			break
		}
		if len(list) == 0 {
			v = nil
			break
		}
		v = list[0]
	}

	if m, ok := v.(map[string]any); ok {
		v = pick(m)
	}

	s := strings.TrimSpace(render(v))
	if s == "" {
		return fallback
	}
	return s
}

func pick(m map[string]any) any {
	for _, k := range nameKeys {
		val, ok := m[k]
		if !ok || val == nil {
			continue
		}
		// Nested values are flattened the same way, so a name that is
		// itself a list or object still resolves.
		if s := strings.TrimSpace(render(unwrap(val))); s != "" {
			return s
		}
	}
	if len(m) == 0 {
		return nil
	}
	// json.Marshal sorts map keys, which keeps the rendering stable.
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(b)
}

func unwrap(v any) any {
	for {
		switch t := v.(type) {
		case []any:
			if len(t) == 0 {
				return nil
			}
			v = t[0]
		case map[string]any:
			return pick(t)
		default:
			return v
		}
	}
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
