// Package logging builds the process logger and scrubs secrets from values
// before they reach it.
package logging

import (
	"regexp"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

type redactor struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter.
	passwordRedactor = redactor{
		pattern:     regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`),
		replacement: "${1}=" + RedactedText,
	}

	// user:pass@host in URLs.
	userinfoRedactor = redactor{
		pattern:     regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`),
		replacement: "://" + RedactedText + "@",
	}

	// Bearer tokens, which carry the caller's identity and tenant.
	bearerRedactor = redactor{
		pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`),
		replacement: "Bearer " + RedactedText,
	}
)

func redact(s string, redactors ...redactor) string {
	for _, r := range redactors {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// SanitizeConnectionString removes credentials from a database or Redis URL or DSN.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redact(connStr, passwordRedactor, userinfoRedactor)
}

// SanitizeError renders err with credentials and tokens removed.
// Use this before logging any error from the pool, the database driver or auth.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error(), passwordRedactor, bearerRedactor, userinfoRedactor)
}
