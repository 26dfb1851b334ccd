// Package authority resolves the access tier for an inbound message and
// exposes the primitives the agent package uses to filter the tool set
// visible to the model accordingly (spec §3, §4.4). It deliberately has no
// dependency on internal/agent so that package can depend on it instead.
package authority

import (
	"strings"
)

// Tier is the access class assigned to an inbound message's (channel, user)
// pair. It determines which tools are visible to the model.
type Tier string

const (
	// Owner has unrestricted access to every registered tool.
	Owner Tier = "owner"
	// Trusted may only invoke the read-only TrustedTools set.
	Trusted Tier = "trusted"
	// Public may invoke no tools at all.
	Public Tier = "public"
)

// TrustedTools is the static, explicit enumeration of read/search/status
// tools visible to the TRUSTED tier (spec §3). Exactly 18 entries, matching
// the spec's "default 18 tool names covering read, search, and status
// queries".
var TrustedTools = map[string]struct{}{
	"read_file":           {},
	"list_directory":      {},
	"search_files":        {},
	"search_web":          {},
	"get_status":          {},
	"get_health":          {},
	"list_sessions":       {},
	"get_weather":         {},
	"read_email":          {},
	"list_calendar":       {},
	"get_process_list":    {},
	"list_mcp_servers":    {},
	"get_config":          {},
	"search_documents":    {},
	"get_cost_summary":    {},
	"list_tools":          {},
	"get_time":            {},
	"ping":                {},
}

// IsTrustedTool reports whether a tool name is in the static TRUSTED_TOOLS
// set.
func IsTrustedTool(name string) bool {
	_, ok := TrustedTools[name]
	return ok
}

// TierTable is the configured owner/trusted membership, keyed by either a
// composite "channel:user_id" string or a bare user_id.
type TierTable struct {
	Owner   []string
	Trusted []string
}

// Empty reports whether both lists are empty, triggering the spec's
// "unconfigured mode" (every user treated as OWNER).
func (t TierTable) Empty() bool {
	return len(t.Owner) == 0 && len(t.Trusted) == 0
}

// localChannels are always resolved as OWNER regardless of the tier table,
// matching the spec's "CLI/local/direct channels -> always OWNER (local
// process trust)" invariant.
var localChannels = map[string]struct{}{
	"cli":    {},
	"local":  {},
	"direct": {},
}

// IsLocalChannel reports whether a channel name is treated as a local,
// always-OWNER channel.
func IsLocalChannel(channel string) bool {
	_, ok := localChannels[strings.ToLower(strings.TrimSpace(channel))]
	return ok
}

// Resolve computes the Tier for an inbound (channel, user_id) pair per
// spec §3: local channels are always OWNER; an empty/absent tier table
// treats everyone as OWNER (unconfigured mode); otherwise the composite key
// "channel:user_id" or the bare user_id is checked against Owner first, then
// Trusted, else Public.
func Resolve(table TierTable, channel, userID string) Tier {
	if IsLocalChannel(channel) {
		return Owner
	}
	if table.Empty() {
		return Owner
	}

	composite := channel + ":" + userID
	if containsAny(table.Owner, composite, userID) {
		return Owner
	}
	if containsAny(table.Trusted, composite, userID) {
		return Trusted
	}
	return Public
}

func containsAny(list []string, keys ...string) bool {
	for _, v := range list {
		for _, k := range keys {
			if v == k {
				return true
			}
		}
	}
	return false
}

// CheckToolAuthority implements spec §4.3 step 2: OWNER may invoke any tool;
// TRUSTED only the static TRUSTED_TOOLS set; PUBLIC none.
func CheckToolAuthority(name string, tier Tier) bool {
	switch tier {
	case Owner:
		return true
	case Trusted:
		return IsTrustedTool(name)
	default:
		return false
	}
}

// CapForSubAgent implements the swarm/sub-agent security posture
// supplemented from the original implementation: a sub-agent spawned by a
// tool call inherits the parent's tier capped at TRUSTED, even when the
// parent is OWNER, bounding the blast radius of an autonomously spawned
// sub-agent. A PUBLIC parent's sub-agent stays PUBLIC.
func CapForSubAgent(parent Tier) Tier {
	if parent == Owner {
		return Trusted
	}
	return parent
}
