package bus

import (
	"encoding/json"
	"unicode/utf8"
)

// Truncation limits. String fields longer than truncateOver characters are
// clipped to truncateTo characters plus an ellipsis marker.
const (
	truncateOver = 100
	truncateTo   = 97
	ellipsis     = "..."
)

// truncatePayload walks a JSON payload and clips every string field longer
// than truncateOver characters. Returns the re-marshaled payload and whether
// anything was clipped. Non-object payloads are returned unchanged.
func truncatePayload(data json.RawMessage) (json.RawMessage, bool, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return data, false, err
	}

	clipped, changed := clipStrings(value)
	if !changed {
		return data, false, nil
	}

	out, err := json.Marshal(clipped)
	if err != nil {
		return data, false, err
	}
	return out, true, nil
}

// clipStrings recursively clips oversized strings in decoded JSON values.
func clipStrings(value any) (any, bool) {
	switch v := value.(type) {
	case string:
		if len(v) > truncateOver {
			// Back up to a rune boundary so clipping never splits a
			// multibyte character into invalid UTF-8.
			cut := truncateTo
			for cut > 0 && !utf8.RuneStart(v[cut]) {
				cut--
			}
			return v[:cut] + ellipsis, true
		}
		return v, false
	case map[string]any:
		changed := false
		for key, item := range v {
			clipped, c := clipStrings(item)
			if c {
				v[key] = clipped
				changed = true
			}
		}
		return v, changed
	case []any:
		changed := false
		for i, item := range v {
			clipped, c := clipStrings(item)
			if c {
				v[i] = clipped
				changed = true
			}
		}
		return v, changed
	default:
		return value, false
	}
}
