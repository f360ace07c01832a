package audit

import (
	"encoding/json"
	"strings"
)

// globalRedactPatterns are key substrings that always trigger redaction.
var globalRedactPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"authorization",
	"cookie",
	"credential",
}

// Redacted is the placeholder written in place of sensitive values.
const Redacted = "[REDACTED]"

// Redact replaces sensitive values in a JSON params object with the
// placeholder. Keys match against the global patterns plus per-integration
// hints (typically the integration's secret key names). Nested objects are
// handled recursively.
func Redact(params json.RawMessage, hints []string) json.RawMessage {
	if len(params) == 0 {
		return params
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err != nil {
		return params
	}

	changed := false
	for key, val := range obj {
		if ShouldRedact(key, hints) {
			redacted, _ := json.Marshal(Redacted)
			obj[key] = redacted
			changed = true
			continue
		}
		if redacted := Redact(val, hints); string(redacted) != string(val) {
			obj[key] = redacted
			changed = true
		}
	}

	if !changed {
		return params
	}

	result, err := json.Marshal(obj)
	if err != nil {
		return params
	}
	return result
}

// RedactMap masks sensitive entries of a string-keyed config map.
func RedactMap(m map[string]any, hints []string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if ShouldRedact(k, hints) {
			out[k] = Redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactMap(nested, hints)
			continue
		}
		out[k] = v
	}
	return out
}

// ShouldRedact checks if a key matches any global pattern or hint.
func ShouldRedact(key string, hints []string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range globalRedactPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	for _, hint := range hints {
		if strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}
