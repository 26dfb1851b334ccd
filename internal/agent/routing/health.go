package routing

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
)

// ProviderHealth records the liveness of one provider (spec §3 "Provider
// Health Record"). Healthy starts true; a completion failure on a local
// provider sets it false and stamps LastFailedAt. Cloud providers are never
// marked unhealthy by a transient failure — they stay eligible for
// selection, but a run of failures still feeds recovery-mode detection via
// AnyUnhealthy/AllUnhealthy.
type ProviderHealth struct {
	Enabled      bool
	Healthy      bool
	LastFailedAt time.Time
}

// HealthTracker is a mutex-guarded map of per-provider health records. It is
// shared across every loop in the process (spec §5 "shared-resource
// policy"), so every access goes through its own lock.
type HealthTracker struct {
	mu       sync.Mutex
	records  map[string]*ProviderHealth
	local    map[string]struct{}
	provider map[string]agent.LLMProvider
}

// NewHealthTracker builds a tracker seeded with the given providers, all
// enabled and healthy. localNames marks which provider names are "local"
// (failure implies a hard local outage and gates selection); all other
// providers remain eligible after a completion failure.
func NewHealthTracker(providers map[string]agent.LLMProvider, localNames []string) *HealthTracker {
	local := make(map[string]struct{}, len(localNames))
	for _, n := range localNames {
		local[normalizeID(n)] = struct{}{}
	}
	records := make(map[string]*ProviderHealth, len(providers))
	for name := range providers {
		records[name] = &ProviderHealth{Enabled: true, Healthy: true}
	}
	return &HealthTracker{records: records, local: local, provider: providers}
}

// IsLocal reports whether a provider name was configured as local.
func (h *HealthTracker) IsLocal(name string) bool {
	_, ok := h.local[normalizeID(name)]
	return ok
}

// Eligible reports whether a provider may currently be selected: enabled,
// and (if local) healthy. Cloud providers remain eligible regardless of
// Healthy, matching spec §3's "only local providers ... are gated by
// failure".
func (h *HealthTracker) Eligible(name string) bool {
	name = normalizeID(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[name]
	if !ok {
		return false
	}
	if !rec.Enabled {
		return false
	}
	if h.IsLocal(name) && !rec.Healthy {
		return false
	}
	return true
}

// MarkFailure records a completion failure. Only local providers flip to
// unhealthy; cloud providers keep Healthy=true.
func (h *HealthTracker) MarkFailure(name string) {
	name = normalizeID(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[name]
	if !ok {
		rec = &ProviderHealth{Enabled: true}
		h.records[name] = rec
	}
	if h.IsLocal(name) {
		rec.Healthy = false
	}
	rec.LastFailedAt = time.Now()
}

// MarkSuccess resets Healthy and clears LastFailedAt after a successful
// completion or health probe.
func (h *HealthTracker) MarkSuccess(name string) {
	name = normalizeID(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[name]
	if !ok {
		rec = &ProviderHealth{}
		h.records[name] = rec
	}
	rec.Healthy = true
	rec.Enabled = true
	rec.LastFailedAt = time.Time{}
}

// SetEnabled implements `/provider enable|disable <name>` from the recovery
// handler.
func (h *HealthTracker) SetEnabled(name string, enabled bool) {
	name = normalizeID(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[name]
	if !ok {
		rec = &ProviderHealth{Healthy: true}
		h.records[name] = rec
	}
	rec.Enabled = enabled
}

// Snapshot returns a copy of the current health records, keyed by provider
// name, for `/health` reporting.
func (h *HealthTracker) Snapshot() map[string]ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]ProviderHealth, len(h.records))
	for name, rec := range h.records {
		out[name] = *rec
	}
	return out
}

// AllUnhealthy reports whether every tracked provider is currently
// ineligible — the signal the Recovery Handler uses to auto-enter recovery
// mode (spec §4.6).
func (h *HealthTracker) AllUnhealthy() bool {
	h.mu.Lock()
	names := make([]string, 0, len(h.records))
	for name := range h.records {
		names = append(names, name)
	}
	h.mu.Unlock()
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if h.Eligible(name) {
			return false
		}
	}
	return true
}

// HealthCheckTimeout bounds each provider probe (spec §4.2: "short timeout,
// <=5s").
const HealthCheckTimeout = 5 * time.Second

// RunHealthChecks probes every tracked provider in parallel with a bounded
// timeout and resets Healthy on success. It never returns an error; probe
// failures simply leave (or set) the provider unhealthy.
func (h *HealthTracker) RunHealthChecks(ctx context.Context) {
	h.mu.Lock()
	names := make([]string, 0, len(h.provider))
	for name := range h.provider {
		names = append(names, name)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
			defer cancel()
			h.probe(probeCtx, name)
		}()
	}
	wg.Wait()
}

func (h *HealthTracker) probe(ctx context.Context, name string) {
	provider, ok := h.provider[name]
	if !ok || provider == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = provider.Models()
	}()
	select {
	case <-done:
		h.MarkSuccess(name)
	case <-ctx.Done():
		h.MarkFailure(name)
	}
}
