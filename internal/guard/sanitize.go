package guard

import "regexp"

type sanitizeRule struct {
	re          *regexp.Regexp
	replacement string
}

// sanitizeRules implements spec §4.4's credential/PII sanitizer: recognized
// secret formats, vault references, absolute home paths, email addresses,
// and numeric-secret patterns, each substituted with a stable replacement
// token. Applying the rules twice is a no-op (spec §8 "sanitize(sanitize(s))
// = sanitize(s)") because every rule's replacement token never itself
// matches the rule that produced it.
var sanitizeRules = []sanitizeRule{
	// Vault references, before generic secret patterns so they don't get
	// double-redacted as tokens.
	{regexp.MustCompile(`vault:[A-Za-z0-9_\-./]+`), "[VAULT_REF]"},

	// Provider API keys and personal access tokens.
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), "[REDACTED]"},
	{regexp.MustCompile(`gho_[A-Za-z0-9]{36}`), "[REDACTED]"},
	{regexp.MustCompile(`glpat-[A-Za-z0-9\-_]{20}`), "[REDACTED]"},
	{regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`), "[REDACTED]"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.]{20,}`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), "[REDACTED]"},
	{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "[REDACTED]"},

	// Absolute user home paths, any OS.
	{regexp.MustCompile(`/(Users|home)/[^/\s]+`), "/REDACTED_PATH"},
	{regexp.MustCompile(`[Cc]:\\Users\\[^\\\s]+`), "/REDACTED_PATH"},

	// Email addresses.
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL]"},

	// Numeric secrets: SSNs, card numbers, phone numbers.
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "[REDACTED]"},
	{regexp.MustCompile(`\b\+?1?[ -]?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`), "[REDACTED]"},
}

// Sanitize redacts every recognized secret/PII pattern in text, substituting
// stable replacement tokens. Safe to call on already-sanitized text.
func Sanitize(text string) string {
	out := text
	for _, rule := range sanitizeRules {
		out = rule.re.ReplaceAllString(out, rule.replacement)
	}
	return out
}
