package util

import "strings"

// SanitizeText prepares model-produced text for a TEXT column: invalid
// UTF-8 and NUL bytes are dropped and surrounding whitespace is trimmed.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}
	value = strings.ToValidUTF8(value, "")
	value = strings.ReplaceAll(value, "\x00", "")
	return strings.TrimSpace(value)
}
