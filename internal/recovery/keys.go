package recovery

import "strings"

// writablePrefixes are the only config key prefixes `/config set` may
// touch (spec §4.6 "Safe-key policy").
var writablePrefixes = []string{
	"llm.providers.",
	"llm.provider_priority",
	"llm.routing.",
	"llm.budget.",
	"browser.enabled",
	"gateway.session_timeout_hours",
}

// blockedPrefixes always reject a write, even if a writable prefix would
// otherwise match (spec §4.6: "Blocked prefixes: any permission*,
// shell.blacklist*, and channel allow-lists").
var blockedPrefixes = []string{
	"permission",
	"shell.blacklist",
	"telegram.allowed_users",
	"discord.allowed_guilds",
	"slack.allowed_channels",
}

// IsWritableKey reports whether a dotted config key may be mutated by
// `/config set`. Violations reject without mutation.
func IsWritableKey(key string) bool {
	for _, blocked := range blockedPrefixes {
		if strings.HasPrefix(key, blocked) {
			return false
		}
	}
	for _, allowed := range writablePrefixes {
		if strings.HasPrefix(key, allowed) {
			return true
		}
	}
	return false
}

// reloadableSections are the only top-level config sections `/config
// reload` re-applies from disk (spec §4.6 "Persistence": "config reload ...
// applies only LLM and browser sections; security-critical fields keep
// their running values").
var reloadableSections = map[string]struct{}{
	"llm":     {},
	"browser": {},
}

// IsReloadableSection reports whether a top-level config section is
// refreshed by `/config reload`.
func IsReloadableSection(section string) bool {
	_, ok := reloadableSections[section]
	return ok
}
