package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/authority"
)

// PermissionLevel is the per-tool risk label governing approval prompts
// (spec §3 "Tool Descriptor").
type PermissionLevel string

const (
	// SAFE tools auto-approve even in strict (ask_always) permission mode.
	SAFE PermissionLevel = "safe"
	// MODERATE tools require an approval prompt outside full_auto mode.
	MODERATE PermissionLevel = "moderate"
	// DESTRUCTIVE tools mutate or delete state and always prompt.
	DESTRUCTIVE PermissionLevel = "destructive"
	// CRITICAL tools (e.g. payments) carry the strictest approval gates.
	CRITICAL PermissionLevel = "critical"
)

// ToolDescriptor is the immutable `(name, description, input_schema,
// permission_level, origin)` tuple from spec §3. A descriptor is never
// mutated in place; replacing a tool means registering a new descriptor
// under the same name.
type ToolDescriptor struct {
	Name            string
	Description     string
	InputSchema     json.RawMessage
	PermissionLevel PermissionLevel
	Origin          string // "native" or "mcp:<server>"
}

// IsMCP reports whether the descriptor originated from a federated MCP
// server.
func (d ToolDescriptor) IsMCP() bool {
	return strings.HasPrefix(d.Origin, "mcp:")
}

var mcpNameSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeMCPName implements spec §3's MCP tool renaming:
// mcp_<sanitized_server>_<tool>, where sanitization lowercases and replaces
// non-alphanumerics with `_` then trims leading/trailing underscores.
func SanitizeMCPName(server, tool string) string {
	s := mcpNameSanitizer.ReplaceAllString(strings.ToLower(server), "_")
	s = strings.Trim(s, "_")
	return "mcp_" + s + "_" + tool
}

// externalContentTools is the static enumeration of tools whose output is
// untrusted (spec §4.4). Browser/email/document/shell tools are named
// individually; every MCP tool (origin starting with "mcp:", equivalently
// name starting with "mcp_") is untrusted regardless of name.
var externalContentTools = map[string]struct{}{
	"browser_navigate":  {},
	"browser_extract":   {},
	"browser_screenshot": {},
	"browser_click":      {},
	"read_email":         {},
	"send_email":         {},
	"document_extract":   {},
	"document_convert":   {},
	"shell_execute":      {},
}

// IsExternalContent reports whether a tool's output must be taint-wrapped
// and injection-scanned before it reaches the loop.
func IsExternalContent(name string) bool {
	if strings.HasPrefix(name, "mcp_") {
		return true
	}
	_, ok := externalContentTools[name]
	return ok
}

// paymentTools is the static enumeration of tools subject to the payments
// gate (spec §4.3 step 5, §4.7).
var paymentTools = map[string]struct{}{
	"payment_send":       {},
	"payment_transfer":   {},
	"wallet_send":        {},
	"crypto_send":        {},
}

// IsPaymentTool reports whether a tool call must pass the spending-limit and
// approval-tier gates.
func IsPaymentTool(name string) bool {
	_, ok := paymentTools[name]
	return ok
}

// ToolRegistry is the process-wide, thread-safe snapshot of registered
// tools merging native and federated (MCP) entries (spec §4.3
// "Registration"). Name collisions are rejected first-wins.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	descs map[string]ToolDescriptor
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
		descs: make(map[string]ToolDescriptor),
	}
}

// Register adds a tool and its descriptor. First registration for a name
// wins; subsequent registrations under the same name are rejected.
func (r *ToolRegistry) Register(tool Tool, desc ToolDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("tool registry: name %q already registered", desc.Name)
	}
	r.tools[desc.Name] = tool
	r.descs[desc.Name] = desc
	return nil
}

// Unregister removes a tool (its MCP connection closed permanently, or a
// native tool is being retired). No-op if the name doesn't exist.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.descs, name)
}

// UnregisterServer removes every tool whose origin is "mcp:<server>",
// called when an MCP connection closes permanently.
func (r *ToolRegistry) UnregisterServer(server string) {
	origin := "mcp:" + server
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, desc := range r.descs {
		if desc.Origin == origin {
			delete(r.tools, name)
			delete(r.descs, name)
		}
	}
}

// Get returns the tool body and descriptor for a name.
func (r *ToolRegistry) Get(name string) (Tool, ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, ToolDescriptor{}, false
	}
	return t, r.descs[name], true
}

// Snapshot returns every registered descriptor, the tool-schema list handed
// to the model (after authority filtering).
func (r *ToolRegistry) Snapshot() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(r.descs))
	for _, d := range r.descs {
		out = append(out, d)
	}
	return out
}

// FilterTools implements spec §8's round-trip laws:
// filter_tools_for_authority(T, OWNER) = T, filter_tools_for_authority(T, PUBLIC) = ∅.
// It is applied once per inbound message; the Executor re-checks
// authority.CheckToolAuthority at dispatch time to defend against
// hallucinated tool names outside the filtered set.
func FilterTools(tools []ToolDescriptor, tier authority.Tier) []ToolDescriptor {
	if tier == authority.Owner {
		return tools
	}
	if tier == authority.Public {
		return nil
	}
	filtered := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if authority.CheckToolAuthority(t.Name, tier) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
