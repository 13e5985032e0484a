package respond

import (
	"regexp"
)

var (
	// Webhook URLs embed a secret token as the last path segment.
	webhookTokenPattern = regexp.MustCompile(`(/api/webhooks/\d+/)[A-Za-z0-9._-]+`)

	// Connection-string passwords inside a DSN.
	dbPasswordPattern = regexp.MustCompile(`://([^:/]+):([^@]+)@`)
)

// SanitizeError returns the error message with credentials masked. Safe to
// log and to embed in coordination messages.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = webhookTokenPattern.ReplaceAllString(msg, "$1****")
	msg = dbPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
