package security

import "strings"

const redactedPlaceholder = "***REDACTED***"

// Redact removes known secret values from text before it reaches logs,
// history records, or HTTP responses.
func Redact(text string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			text = strings.ReplaceAll(text, secret, redactedPlaceholder)
		}
	}
	return text
}
