package metadata

import (
	"bytes"
	"encoding/json"
)

// Value holds a raw JSON field whose shape varies between records (string,
// list, object or number). It is decoded only when sanitized.
type Value json.RawMessage

// UnmarshalJSON stores the raw bytes.
func (v *Value) UnmarshalJSON(b []byte) error {
	*v = append((*v)[:0], b...)
	return nil
}

// MarshalJSON returns the raw bytes, or null when unset.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return []byte(v), nil
}

// IsZero reports whether the field was absent or null.
func (v Value) IsZero() bool {
	t := bytes.TrimSpace([]byte(v))
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// String sanitizes the value. Undecodable bytes yield "Unknown".
func (v Value) String() string {
	return v.Or("")
}

// Or sanitizes the value, returning fallback when it is absent.
func (v Value) Or(fallback string) string {
	if v.IsZero() {
		return SanitizeOr(nil, fallback)
	}
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err != nil {
		return SanitizeOr(nil, fallback)
	}
	return SanitizeOr(decoded, fallback)
}

// Known reports whether the value sanitizes to something other than "Unknown".
func (v Value) Known() bool {
	return v.String() != "Unknown"
}
