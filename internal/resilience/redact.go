package resilience

import "regexp"

// Credential-shaped substrings are stripped from every error message before it
// is logged or returned to the caller.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`(?i)api[-_]?key["':\s=]+[A-Za-z0-9._-]{16,}`),
	regexp.MustCompile(`\b[0-9a-f]{32,}\b`),
}

// Redact replaces credential-shaped substrings with a placeholder.
func Redact(s string) string {
	for _, pattern := range credentialPatterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}

	return s
}
