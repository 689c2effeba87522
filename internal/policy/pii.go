// Package policy redacts personal data before transcript or model text
// reaches the logs.
package policy

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

const minPhoneDigits = 10

type redaction struct {
	pattern *regexp.Regexp
	replace func(match string) string
}

// Order matters: card numbers are long digit runs that would also match the
// phone rule.
var redactions = []redaction{
	{
		pattern: regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`),
		replace: func(string) string { return "[email_redacted]" },
	},
	{
		pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
		replace: redactCard,
	},
	{
		// Short digit runs such as dates and times stay readable.
		pattern: regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`),
		replace: func(match string) string {
			if len(digitsOf(match)) < minPhoneDigits {
				return match
			}
			return "[phone_redacted]"
		},
	},
}

// MaskPIIString redacts emails, card numbers and phone numbers.
func MaskPIIString(value string) string {
	for _, rule := range redactions {
		value = rule.pattern.ReplaceAllStringFunc(value, rule.replace)
	}
	return value
}

// Preview masks value, collapses whitespace and cuts it to at most limit runes.
func Preview(value string, limit int) string {
	masked := strings.Join(strings.Fields(MaskPIIString(value)), " ")
	if limit <= 0 || utf8.RuneCountInString(masked) <= limit {
		return masked
	}
	return string([]rune(masked)[:limit]) + "..."
}

// MaskPIIJSON masks every string value in a JSON document. Input that is not
// JSON is masked as plain text; the result is always safe to log.
func MaskPIIJSON(payload []byte) json.RawMessage {
	if strings.TrimSpace(string(payload)) == "" {
		return json.RawMessage(`""`)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		encoded, _ := json.Marshal(MaskPIIString(string(payload)))
		return encoded
	}
	encoded, err := json.Marshal(maskTree(decoded))
	if err != nil {
		return json.RawMessage(`""`)
	}
	return encoded
}

func maskTree(value any) any {
	switch typed := value.(type) {
	case string:
		return MaskPIIString(typed)
	case []any:
		for i := range typed {
			typed[i] = maskTree(typed[i])
		}
		return typed
	case map[string]any:
		for key, child := range typed {
			typed[key] = maskTree(child)
		}
		return typed
	default:
		return value
	}
}

func redactCard(match string) string {
	digits := digitsOf(match)
	if len(digits) < 8 {
		return "[card_redacted]"
	}
	return "**** **** **** " + digits[len(digits)-4:]
}

func digitsOf(value string) string {
	var builder strings.Builder
	for _, char := range value {
		if char >= '0' && char <= '9' {
			builder.WriteRune(char)
		}
	}
	return builder.String()
}
