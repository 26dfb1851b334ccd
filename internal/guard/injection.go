// Package guard implements the external-content taint/injection guard:
// pattern-based prompt-injection detection, credential/PII sanitization,
// and a unified-diff scanner for untrusted sub-process output (spec §4.4).
package guard

import "regexp"

// InjectionPattern is one named, case-insensitive detection rule.
type InjectionPattern struct {
	Name string
	re   *regexp.Regexp
}

// injectionPatterns is the fixed table from spec §4.4. Detection is
// advisory: it annotates a result but never discards or modifies the
// underlying payload.
var injectionPatterns = []InjectionPattern{
	{Name: "instruction_override", re: regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions?`)},
	{Name: "new_system_prompt", re: regexp.MustCompile(`(?i)(new|updated)\s+system\s+prompt`)},
	{Name: "role_switch", re: regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\b`)},
	{Name: "system_override_claim", re: regexp.MustCompile(`(?i)\[?(system|admin|root)\s*(override|mode)\]?`)},
	{Name: "secrecy_directive", re: regexp.MustCompile(`(?i)do\s+not\s+(tell|mention|reveal)\s+(the\s+)?user`)},
	{Name: "delimiter_attack", re: regexp.MustCompile(`(?i)(---+\s*end\s+of|<<<+\s*system|\[/?system\])`)},
	{Name: "base64_block", re: regexp.MustCompile(`[A-Za-z0-9+/]{80,}={0,2}`)},
	{Name: "exfiltration_request", re: regexp.MustCompile(`(?i)(send|email|post)\s+(the\s+)?(api[_ ]?key|secret|token|vault)`)},
	{Name: "memory_persistence", re: regexp.MustCompile(`(?i)remember\s+this\s+(forever|permanently|for\s+all\s+future)`)},
}

// DetectInjection scans text against the fixed pattern table and returns the
// names of every pattern that matched (spec §4.4 "Injection patterns").
func DetectInjection(text string) []string {
	if text == "" {
		return nil
	}
	var matched []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.Name)
		}
	}
	return matched
}
