package logger

import (
	"log/slog"
	"strings"
)

// sensitiveQueryParams never reach request logs
var sensitiveQueryParams = []string{
	"password",
	"token",
	"secret",
	"email",
	"csrf",
	"fingerprint",
	"auth",
}

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" || domain == "" {
		return "[invalid-email]"
	}

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	labels := strings.Split(domain, ".")
	if len(labels) > 1 {
		for i := 0; i < len(labels)-1; i++ {
			labels[i] = strings.Repeat("*", len(labels[i]))
		}
		domain = strings.Join(labels, ".")
	}

	return local + "@" + domain
}

// EmailAttr is a slog attribute carrying a masked email
func EmailAttr(email string) slog.Attr {
	return slog.String("email", SanitizedEmail(email))
}

// SanitizeQueryString reports whether rawQuery names a sensitive parameter
// and must be redacted as a whole
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
