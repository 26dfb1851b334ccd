package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/authority"
	"github.com/haasonsaas/nexus/pkg/models"
)

// paymentArgs is the subset of a payment tool call's JSON arguments the gate
// needs to run spec §4.7's checks. Tool bodies may carry additional fields;
// unrecognized ones are ignored.
type paymentArgs struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Recipient string  `json:"recipient"`
	Type      string  `json:"type"`
	Provider  string  `json:"provider"`
	Chain     string  `json:"chain"`
}

// Gate implements the agent package's PaymentGate interface: it runs the
// spec §4.7 limit checks and the §4.3 step-5 approval-tier gate before a
// payment tool call is allowed to proceed to execution. Writing the
// pending/executed/failed audit records is the payment tool body's
// responsibility (out of scope here); Gate exposes the shared Ledger via
// Ledger() so the tool can do so against the same store the limit checks
// read from.
type Gate struct {
	ledger *Ledger
	limits Limits
	policy ApprovalPolicy

	mu               sync.Mutex
	cooldownDuration time.Duration
	lastPaidAt       map[string]time.Time
}

// NewGate builds a payment gate. cooldownDuration governs TierCooldown; a
// zero value defaults to 24h.
func NewGate(ledger *Ledger, limits Limits, policy ApprovalPolicy, cooldownDuration time.Duration) *Gate {
	if cooldownDuration <= 0 {
		cooldownDuration = 24 * time.Hour
	}
	return &Gate{
		ledger:           ledger,
		limits:           limits,
		policy:           policy,
		cooldownDuration: cooldownDuration,
		lastPaidAt:       make(map[string]time.Time),
	}
}

// Ledger returns the shared ledger for the payment tool body to write its
// pending/executed/failed transitions against.
func (g *Gate) Ledger() *Ledger { return g.ledger }

// Authorize implements agent.PaymentGate.
func (g *Gate) Authorize(ctx context.Context, call models.ToolCall, tier authority.Tier) error {
	var args paymentArgs
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &args); err != nil {
			return fmt.Errorf("payments: invalid tool arguments: %w", err)
		}
	}

	tierFor := TierStandard
	if g.policy != nil {
		tierFor = g.policy.TierFor(args.Amount, args.Recipient)
	}

	if tierFor == TierCooldown {
		g.mu.Lock()
		last, ok := g.lastPaidAt[args.Recipient]
		g.mu.Unlock()
		if ok && time.Since(last) < g.cooldownDuration {
			return exceeded(fmt.Sprintf("cooldown tier: recipient %q paid %s ago, cooldown is %s", args.Recipient, time.Since(last), g.cooldownDuration))
		}
	}

	return g.ledger.CheckLimits(g.limits, args.Amount, args.Recipient)
}

// RecordExecuted should be called by the payment tool body (or its wrapper)
// once a payment authorized by this gate actually executes, so TierCooldown
// accounting and limit checks for this recipient stay current.
func (g *Gate) RecordExecuted(recipient string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPaidAt[recipient] = time.Now()
}
