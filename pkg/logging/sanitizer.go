package logging

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxSearchLogLength bounds how much of a user search query reaches the logs.
	MaxSearchLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host in postgres:// and redis:// URLs
	connStringPattern = regexp.MustCompile(`://[^:/\s]*:[^@]+@[^/\s]+`)

	// owner and share terms carry user identifiers
	principalPattern = regexp.MustCompile(`\b(owner|share):[^\s)]+`)
)

// SanitizeConnectionString removes credentials from a database or Redis URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain credentials or
// access terms. Use this before logging errors from storage backends.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
	return principalPattern.ReplaceAllString(sanitized, "${1}:"+RedactedText)
}

// SanitizeSearchQuery prepares user search text for logging: control
// characters become spaces, whitespace runs collapse, and the result is
// truncated to MaxSearchLogLength runes.
func SanitizeSearchQuery(query string) string {
	if query == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, query)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return TruncateString(cleaned, MaxSearchLogLength)
}

// TruncateString truncates s to maxLen runes and adds an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen < 0 {
		maxLen = 0
	}
	return string([]rune(s)[:maxLen]) + "..."
}
