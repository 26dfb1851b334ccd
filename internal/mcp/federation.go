package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/agent"
)

// VaultResolver resolves a `vault:<name>` reference to its secret value
// (spec §4.5 "resolve vault:<ref> placeholders in the environment/headers
// map; a missing vault entry drops the var silently").
type VaultResolver interface {
	Resolve(name string) (string, bool)
}

// MapVault is a minimal in-memory VaultResolver, the default wiring for
// deployments that keep secrets in a loaded config map rather than an
// external secret manager.
type MapVault struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMapVault builds a MapVault seeded from an initial set of entries.
func NewMapVault(values map[string]string) *MapVault {
	v := &MapVault{values: make(map[string]string, len(values))}
	for k, val := range values {
		v.values[k] = val
	}
	return v
}

func (v *MapVault) Resolve(name string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[name]
	return val, ok
}

const vaultPrefix = "vault:"

// ResolveVaultRefs rewrites any `vault:<name>` value in a string map,
// dropping entries whose reference cannot be resolved rather than leaking
// the placeholder string to the subprocess/HTTP header it populates.
func ResolveVaultRefs(values map[string]string, resolver VaultResolver) map[string]string {
	if len(values) == 0 {
		return values
	}
	out := make(map[string]string, len(values))
	for key, val := range values {
		if !strings.HasPrefix(val, vaultPrefix) {
			out[key] = val
			continue
		}
		if resolver == nil {
			continue
		}
		ref := strings.TrimPrefix(val, vaultPrefix)
		resolved, ok := resolver.Resolve(ref)
		if !ok {
			continue
		}
		out[key] = resolved
	}
	return out
}

// ResolveServerSecrets returns a copy of cfg with vault:<ref> placeholders
// in Env and Headers resolved against resolver. The original ServerConfig
// is left untouched.
func ResolveServerSecrets(cfg *ServerConfig, resolver VaultResolver) *ServerConfig {
	resolved := *cfg
	resolved.Env = ResolveVaultRefs(cfg.Env, resolver)
	resolved.Headers = ResolveVaultRefs(cfg.Headers, resolver)
	return &resolved
}

// defaultPermission maps a server's declared default_permission string to a
// PermissionLevel, falling back to MODERATE on anything unrecognized (spec
// §4.5 "Permission mapping").
func defaultPermission(cfg *ServerConfig) agent.PermissionLevel {
	switch agent.PermissionLevel(strings.ToLower(cfg.DefaultPermission)) {
	case agent.SAFE:
		return agent.SAFE
	case agent.MODERATE:
		return agent.MODERATE
	case agent.DESTRUCTIVE:
		return agent.DESTRUCTIVE
	case agent.CRITICAL:
		return agent.CRITICAL
	default:
		return agent.MODERATE
	}
}

func serverConfig(mgr *Manager, serverID string) *ServerConfig {
	if mgr.config == nil {
		return nil
	}
	for _, cfg := range mgr.config.Servers {
		if cfg.ID == serverID {
			return cfg
		}
	}
	return nil
}

// RegisterAll federates every tool, resource-list/read pair, and
// prompt-list/get pair exposed by mgr's Connected sessions into registry as
// agent.ToolDescriptors, tagging each with the owning server's permission
// level and an origin of "mcp:<server>" (spec §3 "Tool Descriptor",
// §4.5 "Permission mapping"). Returns the registered tool names.
//
// Name collisions with an already-registered tool are skipped (spec §3
// "Name collisions are rejected (first-wins)").
func RegisterAll(registry *agent.ToolRegistry, mgr *Manager, registrar ToolPolicyRegistrar) []string {
	if registry == nil || mgr == nil {
		return nil
	}

	tools := listToolsSorted(mgr)
	used := make(map[string]struct{})
	registered := make([]string, 0, len(tools))
	serverTools := make(map[string][]string)

	for _, entry := range tools {
		name := safeToolName(entry.serverID, entry.tool.Name, used)
		perm := agent.MODERATE
		if cfg := serverConfig(mgr, entry.serverID); cfg != nil {
			perm = defaultPermission(cfg)
		}

		desc := agent.ToolDescriptor{
			Name:            name,
			Description:     fmt.Sprintf("MCP tool %s.%s", entry.serverID, entry.tool.Name),
			InputSchema:     entry.tool.InputSchema,
			PermissionLevel: perm,
			Origin:          "mcp:" + entry.serverID,
		}
		if err := registry.Register(NewToolBridge(mgr, entry.serverID, entry.tool, name), desc); err != nil {
			continue
		}
		registered = append(registered, name)
		serverTools[entry.serverID] = append(serverTools[entry.serverID], entry.tool.Name)
		if registrar != nil {
			registrar.RegisterAlias(name, canonicalToolName(entry.serverID, entry.tool.Name))
		}
	}

	for _, serverID := range listServerIDs(mgr) {
		perm := agent.MODERATE
		if cfg := serverConfig(mgr, serverID); cfg != nil {
			perm = defaultPermission(cfg)
		}

		registerAuxTool(registry, used, serverID, "resources_list", perm,
			NewResourceListBridge(mgr, serverID, safeToolName(serverID, "resources_list", used)),
			canonicalResourceList(serverID), &registered, serverTools, registrar)
		registerAuxTool(registry, used, serverID, "resource_read", perm,
			NewResourceReadBridge(mgr, serverID, safeToolName(serverID, "resource_read", used)),
			canonicalResourceRead(serverID), &registered, serverTools, registrar)
		registerAuxTool(registry, used, serverID, "prompts_list", perm,
			NewPromptListBridge(mgr, serverID, safeToolName(serverID, "prompts_list", used)),
			canonicalPromptList(serverID), &registered, serverTools, registrar)
		registerAuxTool(registry, used, serverID, "prompt_get", perm,
			NewPromptGetBridge(mgr, serverID, safeToolName(serverID, "prompt_get", used)),
			canonicalPromptGet(serverID), &registered, serverTools, registrar)
	}

	if registrar != nil {
		for serverID, names := range serverTools {
			registrar.RegisterMCPServer(serverID, names)
		}
	}

	return registered
}

// registerAuxTool registers one of the four per-server resource/prompt
// bridge tools. used has already allocated tool's safe name by the time
// this is called; this just performs the Register + bookkeeping shared by
// all four call sites in RegisterAll.
func registerAuxTool(registry *agent.ToolRegistry, used map[string]struct{}, serverID, kind string, perm agent.PermissionLevel, tool agent.Tool, canonical string, registered *[]string, serverTools map[string][]string, registrar ToolPolicyRegistrar) {
	desc := agent.ToolDescriptor{
		Name:            tool.Name(),
		Description:     tool.Description(),
		InputSchema:     tool.Schema(),
		PermissionLevel: perm,
		Origin:          "mcp:" + serverID,
	}
	if err := registry.Register(tool, desc); err != nil {
		return
	}
	*registered = append(*registered, tool.Name())
	serverTools[serverID] = append(serverTools[serverID], strings.ReplaceAll(kind, "_", "."))
	if registrar != nil {
		registrar.RegisterAlias(tool.Name(), canonical)
	}
}

// UnfederateServer removes every tool a now-permanently-closed MCP
// connection had registered (spec §3 "unregistered when its MCP connection
// closes permanently").
func UnfederateServer(registry *agent.ToolRegistry, serverID string) {
	if registry == nil {
		return
	}
	registry.UnregisterServer(serverID)
}

// ConnectAll connects every auto_start server (resolving vault references
// first) and federates its tools into registry. It does not fail fast: one
// server's connection failure is logged and skipped so the rest of the
// federation still comes up (spec §4.5 "on failure, log and remain
// Disconnected").
func ConnectAll(ctx context.Context, mgr *Manager, registry *agent.ToolRegistry, resolver VaultResolver, registrar ToolPolicyRegistrar) error {
	if mgr == nil || mgr.config == nil || !mgr.config.Enabled {
		return nil
	}

	for _, cfg := range mgr.config.Servers {
		if !cfg.AutoStart {
			continue
		}
		resolved := ResolveServerSecrets(cfg, resolver)
		mgr.mu.Lock()
		for i, existing := range mgr.config.Servers {
			if existing.ID == cfg.ID {
				mgr.config.Servers[i] = resolved
				break
			}
		}
		mgr.mu.Unlock()

		if err := mgr.Connect(ctx, cfg.ID); err != nil {
			mgr.logger.Error("mcp federation: connect failed", "server", cfg.ID, "error", err)
			continue
		}
		RegisterAll(registry, mgr, registrar)
	}
	return nil
}

// Shutdown disconnects every connected server and unregisters its tools
// from registry.
func Shutdown(mgr *Manager, registry *agent.ToolRegistry) error {
	if mgr == nil {
		return nil
	}
	var firstErr error
	for serverID := range mgr.Clients() {
		UnfederateServer(registry, serverID)
		if err := mgr.Disconnect(serverID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
