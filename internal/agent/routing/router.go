// Package routing implements the LLM Router: provider/model selection under
// health and budget constraints, with failover across the remaining
// candidates within a single turn.
package routing

import (
	"context"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/agent"
)

// Target names a provider and, optionally, a specific model.
type Target struct {
	Provider string
	Model    string
}

// RouteRule is one entry of the `llm.routing` config table: a preferred
// provider/model for a task type and a fallback to try if the preferred one
// is unavailable (spec §4.2, selection step 2).
type RouteRule struct {
	Preferred Target
	Fallback  Target
}

// Config configures a Router.
type Config struct {
	// DefaultTaskType is used when a request carries no TaskType.
	DefaultTaskType string

	// Routing maps task_type to its preferred/fallback targets.
	Routing map[string]RouteRule

	// ProviderPriority is the global fallback order (selection step 3).
	ProviderPriority []string

	// DefaultModels maps provider -> task_type -> model, the "default model
	// known for that task_type" referenced in selection step 3. A provider
	// with no entry for a task type is still eligible with its zero-value
	// (provider-default) model.
	DefaultModels map[string]map[string]string

	// LocalProviders names providers gated by health (spec §3).
	LocalProviders []string

	Budget Budget
	Prices PriceTable
}

// Router selects a healthy, in-budget provider/model for each completion
// request and fails over to the next candidate within the same turn on
// failure (spec §4.2).
type Router struct {
	providers        map[string]agent.LLMProvider
	health           *HealthTracker
	ledger           *CostLedger
	routing          map[string]RouteRule
	providerPriority []string
	defaultModels    map[string]map[string]string
	defaultTaskType  string
	budget           Budget
	prices           PriceTable

	mu sync.Mutex
}

// NewRouter builds a Router over the given named providers.
func NewRouter(cfg Config, providers map[string]agent.LLMProvider) *Router {
	normalized := make(map[string]agent.LLMProvider, len(providers))
	for name, p := range providers {
		normalized[normalizeID(name)] = p
	}
	defaultTaskType := cfg.DefaultTaskType
	if defaultTaskType == "" {
		defaultTaskType = "default"
	}
	return &Router{
		providers:        normalized,
		health:           NewHealthTracker(normalized, cfg.LocalProviders),
		ledger:           NewCostLedger(),
		routing:          cfg.Routing,
		providerPriority: cfg.ProviderPriority,
		defaultModels:    cfg.DefaultModels,
		defaultTaskType:  defaultTaskType,
		budget:           cfg.Budget,
		prices:           cfg.Prices,
	}
}

// Health returns the shared health tracker, for the Recovery Handler and
// `/health` reporting.
func (r *Router) Health() *HealthTracker { return r.health }

// Ledger returns the shared cost ledger.
func (r *Router) Ledger() *CostLedger { return r.ledger }

// SetProviderPriority implements `/provider priority a,b,c`.
func (r *Router) SetProviderPriority(order []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providerPriority = order
}

// Name identifies the router as an agent.LLMProvider.
func (r *Router) Name() string { return "router" }

// Models returns the union of models across every wired provider.
func (r *Router) Models() []agent.Model {
	seen := make(map[string]struct{})
	var out []agent.Model
	for _, p := range r.providers {
		for _, m := range p.Models() {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// SupportsTools reports true if any wired provider supports tools.
func (r *Router) SupportsTools() bool {
	for _, p := range r.providers {
		if p.SupportsTools() {
			return true
		}
	}
	return false
}

// Complete implements the spec §4.2 contract. It enforces the budget gate,
// selects an ordered candidate list, and tries each in turn until one
// succeeds or the list is exhausted (ErrNoProviderAvailable).
func (r *Router) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, ErrNoProviderAvailable
	}
	if err := r.ledger.CheckBudget(r.budget); err != nil {
		return nil, err
	}

	candidates := r.selectCandidates(req)
	if len(candidates) == 0 {
		return nil, ErrNoProviderAvailable
	}

	var lastErr error
	for _, c := range candidates {
		provider, ok := r.providers[c.Provider]
		if !ok {
			continue
		}
		reqCopy := *req
		if reqCopy.Model == "" {
			reqCopy.Model = c.Model
		}
		if needsReshape(c.Provider) {
			reqCopy.Messages = reshapeForRestrictedProvider(req.Messages)
		}

		stream, err := provider.Complete(ctx, &reqCopy)
		if err != nil {
			r.health.MarkFailure(c.Provider)
			lastErr = err
			continue
		}
		return r.instrument(c.Provider, c.Model, req.TaskType, stream), nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoProviderAvailable
}

// instrument wraps a provider's raw stream so the final chunk's usage is
// recorded to the ledger and a successful completion clears the provider's
// unhealthy flag, without the agent loop needing to know about routing
// bookkeeping.
func (r *Router) instrument(provider, model, taskType string, in <-chan *agent.CompletionChunk) <-chan *agent.CompletionChunk {
	out := make(chan *agent.CompletionChunk)
	go func() {
		defer close(out)
		sawError := false
		for chunk := range in {
			if chunk.Error != nil {
				sawError = true
			}
			if chunk.Done {
				cost := EstimateCost(r.prices, provider, model, chunk.InputTokens, chunk.OutputTokens)
				r.ledger.Record(CostRecord{
					Provider:     provider,
					Model:        model,
					InputTokens:  chunk.InputTokens,
					OutputTokens: chunk.OutputTokens,
					CostUSD:      cost,
					TaskType:     taskType,
				})
			}
			out <- chunk
		}
		if sawError {
			r.health.MarkFailure(provider)
		} else {
			r.health.MarkSuccess(provider)
		}
	}()
	return out
}

// selectCandidates implements spec §4.2's four-step selection algorithm and
// appends the remaining provider-priority order as failover candidates for
// the same turn.
func (r *Router) selectCandidates(req *agent.CompletionRequest) []Target {
	r.mu.Lock()
	priority := append([]string(nil), r.providerPriority...)
	routing := r.routing
	defaultModels := r.defaultModels
	r.mu.Unlock()

	taskType := req.TaskType
	if taskType == "" {
		taskType = ClassifyTaskType(req)
		if taskType == "default" {
			taskType = r.defaultTaskType
		}
	}

	var ordered []Target
	seen := make(map[string]struct{})
	add := func(t Target) {
		name := normalizeID(t.Provider)
		if name == "" {
			return
		}
		if _, ok := r.providers[name]; !ok {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		ordered = append(ordered, Target{Provider: name, Model: t.Model})
	}

	// Step 1: explicit model override. Infer provider from a "provider/model"
	// prefix, or fall back to scanning provider model lists.
	if req.Model != "" {
		if provider, model, ok := splitProviderModel(req.Model); ok {
			add(Target{Provider: provider, Model: model})
		} else if owner := r.findModelOwner(req.Model); owner != "" {
			add(Target{Provider: owner, Model: req.Model})
		}
	}

	// Step 2: task-type routing table, preferred then fallback.
	if rule, ok := routing[taskType]; ok {
		if r.health.Eligible(rule.Preferred.Provider) {
			add(rule.Preferred)
		}
		if r.health.Eligible(rule.Fallback.Provider) {
			add(rule.Fallback)
		}
	}

	// Step 3: walk global provider_priority for the first eligible provider
	// with a known default model for this task type (absence of an entry is
	// still eligible, using the provider's own default).
	for _, name := range priority {
		name = normalizeID(name)
		if !r.health.Eligible(name) {
			continue
		}
		model := ""
		if m, ok := defaultModels[name]; ok {
			model = m[taskType]
		}
		add(Target{Provider: name, Model: model})
	}

	// Filter to tool-capable providers when tools are requested.
	if len(req.Tools) > 0 {
		filtered := ordered[:0:0]
		for _, t := range ordered {
			if p, ok := r.providers[t.Provider]; ok && p.SupportsTools() {
				filtered = append(filtered, t)
			}
		}
		return filtered
	}

	return ordered
}

func (r *Router) findModelOwner(model string) string {
	for name, p := range r.providers {
		for _, m := range p.Models() {
			if m.ID == model {
				return name
			}
		}
	}
	return ""
}

func splitProviderModel(value string) (provider, model string, ok bool) {
	idx := strings.IndexByte(value, '/')
	if idx <= 0 || idx == len(value)-1 {
		return "", "", false
	}
	return normalizeID(value[:idx]), value[idx+1:], true
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
