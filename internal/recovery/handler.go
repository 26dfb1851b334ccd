// Package recovery implements the out-of-band recovery channel (spec §4.6):
// a text command set, parsed without an LLM, that stays reachable even when
// every model provider is down.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent/routing"
)

// HealthTracker is the subset of *routing.HealthTracker the dispatcher
// needs, kept as an interface so tests can substitute a fake.
type HealthTracker interface {
	RunHealthChecks(ctx context.Context)
	AllUnhealthy() bool
	SetEnabled(name string, enabled bool)
	Snapshot() map[string]routing.ProviderHealth
}

// ProviderPrioritizer is the subset of *routing.Router the dispatcher needs.
type ProviderPrioritizer interface {
	SetProviderPriority(order []string)
}

// ExtendedProbe runs the extra diagnostics `/health full` layers on top of
// provider health (spec §4.6 "providers + browser bridge + scheduler + DB
// ping"). Supplied by the wiring layer; nil disables the extra section.
type ExtendedProbe func(ctx context.Context) map[string]string

// Handler dispatches recovery-channel commands. It holds no LLM dependency:
// every command is parsed and executed directly against its target.
type Handler struct {
	health   HealthTracker
	router   ProviderPrioritizer
	config   *ConfigStore
	state    *state
	extended ExtendedProbe
}

// NewHandler wires a Handler. router and config may be nil when those
// command families are unavailable in a given deployment; the corresponding
// commands then report a clear "not configured" error instead of panicking.
func NewHandler(health HealthTracker, router ProviderPrioritizer, config *ConfigStore, extended ExtendedProbe) *Handler {
	return &Handler{
		health:   health,
		router:   router,
		config:   config,
		state:    newState(),
		extended: extended,
	}
}

// Mode reports whether the recovery channel currently considers itself
// active (i.e. the assistant's ordinary path is presumed degraded).
func (h *Handler) Mode() Mode {
	return h.state.Mode()
}

// Dispatch parses and executes one recovery command line. It never returns
// an error for a malformed command — the response text carries usage help
// instead, matching the channel's job of staying usable under duress.
func (h *Handler) Dispatch(ctx context.Context, line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "empty command"
	}

	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/health":
		return h.dispatchHealth(ctx, args)
	case "/config":
		return h.dispatchConfig(args)
	case "/provider":
		return h.dispatchProvider(args)
	case "/restart":
		return h.dispatchRestart()
	case "/recovery":
		return h.dispatchRecovery(args)
	default:
		return fmt.Sprintf("unrecognized command %q", cmd)
	}
}

func (h *Handler) dispatchHealth(ctx context.Context, args []string) string {
	if h.health == nil {
		return "health tracker not configured"
	}

	switch {
	case len(args) == 0:
		return formatHealth(h.health.Snapshot())

	case args[0] == "recheck":
		h.health.RunHealthChecks(ctx)
		snapshot := h.health.Snapshot()
		if h.health.AllUnhealthy() {
			h.state.Enter("all providers unhealthy after recheck")
			return formatHealth(snapshot) + "\nall providers unhealthy; recovery mode entered"
		}
		return formatHealth(snapshot)

	case args[0] == "full":
		h.health.RunHealthChecks(ctx)
		out := formatHealth(h.health.Snapshot())
		if h.extended == nil {
			return out
		}
		results := h.extended(ctx)
		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)
		var b strings.Builder
		b.WriteString(out)
		for _, name := range names {
			fmt.Fprintf(&b, "\n%s: %s", name, results[name])
		}
		return b.String()

	default:
		return fmt.Sprintf("unrecognized /health subcommand %q", args[0])
	}
}

func formatHealth(snapshot map[string]routing.ProviderHealth) string {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		rec := snapshot[name]
		status := "healthy"
		if !rec.Enabled {
			status = "disabled"
		} else if !rec.Healthy {
			status = "unhealthy"
		}
		fmt.Fprintf(&b, "%s: %s", name, status)
	}
	if b.Len() == 0 {
		return "no providers registered"
	}
	return b.String()
}

func (h *Handler) dispatchConfig(args []string) string {
	if h.config == nil {
		return "config store not configured"
	}
	if len(args) == 0 {
		return "usage: /config get|set|reload ..."
	}

	switch args[0] {
	case "get":
		if len(args) != 2 {
			return "usage: /config get <dot.key>"
		}
		value, ok := h.config.Get(args[1])
		if !ok {
			return fmt.Sprintf("%s: not set", args[1])
		}
		h.state.record("config get " + args[1])
		return fmt.Sprintf("%s = %v", args[1], value)

	case "set":
		if len(args) < 3 {
			return "usage: /config set <dot.key> <json-or-string>"
		}
		key := args[1]
		value := strings.Join(args[2:], " ")
		if err := h.config.Set(key, value); err != nil {
			return err.Error()
		}
		h.state.record(fmt.Sprintf("config set %s = %s", key, value))
		return fmt.Sprintf("%s set", key)

	case "reload":
		if err := h.config.Reload(); err != nil {
			return err.Error()
		}
		h.state.record("config reload")
		return "config reloaded (llm, browser sections)"

	default:
		return fmt.Sprintf("unrecognized /config subcommand %q", args[0])
	}
}

func (h *Handler) dispatchProvider(args []string) string {
	if len(args) == 0 {
		return "usage: /provider enable|disable|priority ..."
	}

	switch args[0] {
	case "enable", "disable":
		if h.health == nil {
			return "health tracker not configured"
		}
		if len(args) != 2 {
			return fmt.Sprintf("usage: /provider %s <name>", args[0])
		}
		h.health.SetEnabled(args[1], args[0] == "enable")
		h.state.record(fmt.Sprintf("provider %s %s", args[0], args[1]))
		return fmt.Sprintf("%s %sd", args[1], args[0])

	case "priority":
		if h.router == nil {
			return "router not configured"
		}
		if len(args) < 2 {
			return "usage: /provider priority <a,b,c | a b c>"
		}
		order := parsePriorityOrder(args[1:])
		h.router.SetProviderPriority(order)
		h.state.record("provider priority " + strings.Join(order, ","))
		return "priority set: " + strings.Join(order, ", ")

	default:
		return fmt.Sprintf("unrecognized /provider subcommand %q", args[0])
	}
}

// parsePriorityOrder accepts either "a,b,c" as one argument or "a b c" as
// multiple (spec §4.6 "/provider priority <a,b,c | a b c>").
func parsePriorityOrder(args []string) []string {
	if len(args) == 1 && strings.Contains(args[0], ",") {
		parts := strings.Split(args[0], ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return args
}

func (h *Handler) dispatchRestart() string {
	h.state.record("restart requested")
	return "restart requested; process supervisor will recycle the service"
}

func (h *Handler) dispatchRecovery(args []string) string {
	if len(args) == 0 {
		return "usage: /recovery on|off|log"
	}

	switch args[0] {
	case "on":
		h.state.Enter("manual")
		return "recovery mode on"

	case "off":
		duration, was := h.state.Exit()
		if !was {
			return "recovery mode already off"
		}
		return fmt.Sprintf("recovery mode off (was active for %s)", duration)

	case "log":
		entries := h.state.Log()
		if len(entries) == 0 {
			return "no recorded actions"
		}
		var b strings.Builder
		for i, e := range entries {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s %s", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Action)
		}
		return b.String()

	default:
		return fmt.Sprintf("unrecognized /recovery subcommand %q", args[0])
	}
}
