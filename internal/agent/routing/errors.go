package routing

import "errors"

// Sentinel errors surfaced by the router. The agent loop treats these as
// terminal for the turn (see internal/agent/loop.go).
var (
	// ErrNoProviderAvailable is returned when selection finds no enabled,
	// healthy provider for the request.
	ErrNoProviderAvailable = errors.New("router: no provider available")

	// ErrBudgetExceeded is returned when the daily or per-task spending cap
	// has already been reached before a provider is contacted.
	ErrBudgetExceeded = errors.New("router: budget exceeded")

	// ErrRouterMessageShape is logged when a provider rejects a message
	// sequence that survived reshaping; the router marks the provider
	// unhealthy and tries the next candidate within the same turn.
	ErrRouterMessageShape = errors.New("router: provider rejected message shape")
)
