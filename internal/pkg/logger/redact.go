package logger

import "strings"

// RedactContact masks a recipient contact address for safe logging.
// "taro.yamada@example.com" → "ta***@example.com"
// Opaque contact refs without an @ are masked to their first two runes.
func RedactContact(contact string) string {
	parts := strings.Split(contact, "@")
	if len(parts) != 2 {
		if len(contact) > 2 {
			return contact[:2] + "***"
		}
		return "***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
