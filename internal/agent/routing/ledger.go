package routing

import (
	"sync"
	"time"
)

// CostRecord is one append-only entry in the cost ledger (spec §3 "Cost
// Ledger").
type CostRecord struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	TaskType     string
	Timestamp    time.Time
}

// ModelPrice is a per-million-token price pair used to estimate cost from
// usage when a provider reports it.
type ModelPrice struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// PriceTable maps "provider/model" to its price. Unknown models price at
// zero, matching spec §4.2's "if usage is absent, record zeros" degrade
// path (we extend the same degrade path to unknown prices).
type PriceTable map[string]ModelPrice

// Lookup returns the price for provider/model, or the zero price if unknown.
func (t PriceTable) Lookup(provider, model string) ModelPrice {
	if t == nil {
		return ModelPrice{}
	}
	return t[priceKey(provider, model)]
}

func priceKey(provider, model string) string {
	return normalizeID(provider) + "/" + normalizeID(model)
}

// EstimateCost computes USD cost from token usage and a price table.
func EstimateCost(table PriceTable, provider, model string, inputTokens, outputTokens int) float64 {
	price := table.Lookup(provider, model)
	cost := float64(inputTokens)/1_000_000*price.InputPerMTok + float64(outputTokens)/1_000_000*price.OutputPerMTok
	return cost
}

// Budget configures the router's spending caps (spec §4.2 "Budget gate").
type Budget struct {
	DailyLimitUSD float64
	TaskLimitUSD  float64
}

// CostLedger is the process-wide, mutex-guarded append-only record of LLM
// spend (spec §3 "Cost Ledger", §5 "shared-resource policy"). Daily total is
// a rolling 24h window; task total resets at each new user turn.
type CostLedger struct {
	mu        sync.Mutex
	records   []CostRecord
	taskTotal float64
}

// NewCostLedger creates an empty ledger.
func NewCostLedger() *CostLedger {
	return &CostLedger{}
}

// Record appends a cost entry. Loss of un-flushed records (e.g. on crash
// before a durable-store flush) is acceptable per spec — budget enforcement
// degrades gracefully rather than blocking.
func (l *CostLedger) Record(rec CostRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	l.taskTotal += rec.CostUSD
}

// DailyTotal sums cost over the trailing 24h window.
func (l *CostLedger) DailyTotal() float64 {
	cutoff := time.Now().Add(-24 * time.Hour)
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, rec := range l.records {
		if rec.Timestamp.After(cutoff) {
			total += rec.CostUSD
		}
	}
	return total
}

// TaskTotal returns the running total since the last ResetTask call.
func (l *CostLedger) TaskTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.taskTotal
}

// ResetTask zeroes the per-task running total. The agent loop calls this at
// the start of each new user turn.
func (l *CostLedger) ResetTask() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taskTotal = 0
}

// Records returns a copy of all recorded entries, for durable-store flush or
// inspection.
func (l *CostLedger) Records() []CostRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CostRecord, len(l.records))
	copy(out, l.records)
	return out
}

// CheckBudget implements spec §4.2's gate: daily_total < daily_limit AND
// task_total < task_limit. A zero limit disables that particular check.
func (l *CostLedger) CheckBudget(b Budget) error {
	if b.DailyLimitUSD > 0 && l.DailyTotal() >= b.DailyLimitUSD {
		return ErrBudgetExceeded
	}
	if b.TaskLimitUSD > 0 && l.TaskTotal() >= b.TaskLimitUSD {
		return ErrBudgetExceeded
	}
	return nil
}
