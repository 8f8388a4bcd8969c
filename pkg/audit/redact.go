package audit

import "strings"

// RedactionMarker replaces sensitive values at emission boundaries.
const RedactionMarker = "[REDACTED]"

// sensitiveKeyFragments drives the key-name heuristic. Matching is
// case-insensitive substring: API_KEY, authToken and dbPassword all match.
var sensitiveKeyFragments = []string{
	"key", "secret", "password", "token", "credential", "auth",
}

// Redacted returns a copy of the entry with every sensitive-keyed value in
// Details replaced by the redaction marker. It is applied just before
// emission to any shared or observable sink; the authoritative in-memory
// record is never redacted.
func Redacted(e Entry) Entry {
	out := e.clone()
	out.Details = redactMap(out.Details)
	return out
}

// SensitiveKey reports whether the key name matches the heuristic.
func SensitiveKey(key string) bool {
	folded := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(folded, fragment) {
			return true
		}
	}
	return false
}

func redactMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if SensitiveKey(k) {
			out[k] = RedactionMarker
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e)
		}
		return out
	default:
		return v
	}
}
