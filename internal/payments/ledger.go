// Package payments enforces the spending-limit gates and tamper-evident
// audit trail required before a payment-type tool call is allowed to
// execute (spec §4.3 step 5, §4.7).
package payments

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is a Payment Audit Record's lifecycle state (spec §4.7 "status
// transitions pending -> executed|failed").
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Record is a Payment Audit Record: `(id, timestamp, tool_name, amount,
// currency, recipient, type, provider, chain, status, refs, error)` (spec
// §4.7).
type Record struct {
	ID             string
	Timestamp      time.Time
	ToolName       string
	Amount         float64
	Currency       string
	Recipient      string
	Type           string
	Provider       string
	Chain          string
	Status         Status
	TransactionRef string
	Error          string
}

// ApprovalTier mirrors spec §4.3 step 5's per-amount approval policy.
type ApprovalTier string

const (
	// TierStandard auto-approves once the limit checks pass.
	TierStandard ApprovalTier = "standard"
	// TierAlwaysAsk always prompts regardless of amount.
	TierAlwaysAsk ApprovalTier = "always_ask"
	// TierConfirm requires a second explicit confirmation step.
	TierConfirm ApprovalTier = "confirm"
	// TierCooldown imposes a mandatory wait before the same recipient can
	// be paid again.
	TierCooldown ApprovalTier = "cooldown"
)

// Limits is the configured spending-limit surface (spec §4.7 "Limit
// check"). A zero value for any field disables that particular check.
type Limits struct {
	PerTransactionUSD  float64
	DailyUSD           float64
	MonthlyUSD         float64
	PerRecipientDailyUSD float64
	HourlyRateCount    int // default 10, spec §4.7(e)
	DuplicateWindow    time.Duration // default 1h, spec §4.7(f)
}

func (l Limits) withDefaults() Limits {
	if l.HourlyRateCount <= 0 {
		l.HourlyRateCount = 10
	}
	if l.DuplicateWindow <= 0 {
		l.DuplicateWindow = time.Hour
	}
	return l
}

// ErrSpendingLimitExceeded is returned by CheckLimits; the message states
// which bound was hit (spec §7 "SpendingLimitExceeded").
var ErrSpendingLimitExceeded = errors.New("spending limit exceeded")

// limitError wraps ErrSpendingLimitExceeded with the specific bound name so
// callers can both errors.Is against the sentinel and read which check
// failed.
type limitError struct {
	reason string
}

func (e *limitError) Error() string { return fmt.Sprintf("spending limit exceeded: %s", e.reason) }
func (e *limitError) Unwrap() error  { return ErrSpendingLimitExceeded }

func exceeded(reason string) error { return &limitError{reason: reason} }

// ApprovalPolicy maps a payment amount/recipient to the tier governing its
// approval path. A nil policy defaults every payment to TierStandard.
type ApprovalPolicy interface {
	TierFor(amount float64, recipient string) ApprovalTier
}

// Ledger is the thread-safe, in-memory Payment Audit Record store and
// limit-checker. Durable persistence is the SQL-embedded store named in
// spec §5; Ledger is the in-process cache the Executor consults on every
// payment-tool dispatch, backed by a PersistFunc for the audit write.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	persist func(Record)
}

// NewLedger creates an empty ledger. persist, if non-nil, is invoked
// synchronously every time a record is appended or transitioned — wiring
// point for the SQL-embedded audit table.
func NewLedger(persist func(Record)) *Ledger {
	return &Ledger{persist: persist}
}

// Pending writes a pending record before execution, per spec §4.7's audit
// protocol, and returns its ID for the later transition call.
func (l *Ledger) Pending(toolName string, amount float64, currency, recipient, kind, provider, chain string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := fmt.Sprintf("pay_%d_%d", time.Now().UnixNano(), len(l.records))
	rec := Record{
		ID:        id,
		Timestamp: time.Now(),
		ToolName:  toolName,
		Amount:    amount,
		Currency:  currency,
		Recipient: recipient,
		Type:      kind,
		Provider:  provider,
		Chain:     chain,
		Status:    StatusPending,
	}
	l.records = append(l.records, rec)
	if l.persist != nil {
		l.persist(rec)
	}
	return id
}

// Executed transitions a pending record to executed with its transaction
// reference.
func (l *Ledger) Executed(id, transactionRef string) {
	l.transition(id, StatusExecuted, transactionRef, "")
}

// Failed transitions a pending record to failed with an error string.
func (l *Ledger) Failed(id, errMsg string) {
	l.transition(id, StatusFailed, "", errMsg)
}

func (l *Ledger) transition(id string, status Status, ref, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.records {
		if l.records[i].ID == id {
			l.records[i].Status = status
			l.records[i].TransactionRef = ref
			l.records[i].Error = errMsg
			if l.persist != nil {
				l.persist(l.records[i])
			}
			return
		}
	}
}

// Records returns a copy of every record currently held, newest last.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// executedSince returns every executed record with a timestamp after cutoff.
// Callers must hold l.mu.
func (l *Ledger) executedSince(cutoff time.Time) []Record {
	var out []Record
	for _, r := range l.records {
		if r.Status == StatusExecuted && r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// monthStart returns the first instant of t's calendar month in t's
// location, implementing spec §4.7(c)'s "calendar-month cap".
func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// CheckLimits runs every spec §4.7 limit check against executed history for
// a prospective payment of amount to recipient. It returns the first bound
// hit, wrapping ErrSpendingLimitExceeded.
func (l *Ledger) CheckLimits(limits Limits, amount float64, recipient string) error {
	limits = limits.withDefaults()
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// (a) per-transaction cap.
	if limits.PerTransactionUSD > 0 && amount > limits.PerTransactionUSD {
		return exceeded("per-transaction cap")
	}

	daily := l.executedSince(now.Add(-24 * time.Hour))

	// (b) rolling-24h daily cap.
	if limits.DailyUSD > 0 {
		var sum float64
		for _, r := range daily {
			sum += r.Amount
		}
		if sum+amount > limits.DailyUSD {
			return exceeded("rolling 24h daily cap")
		}
	}

	// (c) calendar-month cap.
	if limits.MonthlyUSD > 0 {
		var sum float64
		for _, r := range l.executedSince(monthStart(now)) {
			sum += r.Amount
		}
		if sum+amount > limits.MonthlyUSD {
			return exceeded("calendar-month cap")
		}
	}

	// (d) per-recipient-per-24h cap.
	if limits.PerRecipientDailyUSD > 0 {
		var sum float64
		for _, r := range daily {
			if r.Recipient == recipient {
				sum += r.Amount
			}
		}
		if sum+amount > limits.PerRecipientDailyUSD {
			return exceeded("per-recipient 24h cap")
		}
	}

	// (e) hourly rate cap: at most limits.HourlyRateCount executed
	// payments (regardless of recipient) in the last hour.
	hourly := l.executedSince(now.Add(-time.Hour))
	if len(hourly) >= limits.HourlyRateCount {
		return exceeded("hourly rate cap")
	}

	// (f) duplicate check: same amount+recipient executed within the
	// duplicate window.
	for _, r := range l.executedSince(now.Add(-limits.DuplicateWindow)) {
		if r.Recipient == recipient && r.Amount == amount {
			return exceeded("duplicate payment")
		}
	}

	return nil
}
