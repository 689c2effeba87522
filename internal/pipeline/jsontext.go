package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNotJSONObject = errors.New("model output is not a JSON object")

// extractJSONObject decodes model text that is entirely one JSON object,
// optionally wrapped in a single code fence. Prose around the object is
// rejected.
func extractJSONObject(text string) (map[string]json.RawMessage, []byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil, errors.New("empty model output")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}

	if object, ok := decodeObject(trimmed); ok {
		return object, []byte(trimmed), nil
	}
	return nil, nil, errNotJSONObject
}

func decodeObject(text string) (map[string]json.RawMessage, bool) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &object); err != nil || object == nil {
		return nil, false
	}
	return object, true
}

// stripCodeFence removes one surrounding ```/```json fence. Text without a
// closing fence is returned unchanged so it fails decoding.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 6 || !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return trimmed
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

func isNullOrAbsent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
