package usageledger

import (
	"context"
	"time"
)

// Decision is the outcome of a counter increment attempt. When Allowed is
// false the counter was left untouched and Value holds the pre-increment
// value.
type Decision struct {
	Allowed  bool
	Value    int64
	ResetsAt time.Time
}

// SpendDecision is the outcome of a spend attempt against a USD budget.
type SpendDecision struct {
	Allowed  bool
	SpentUSD float64
	ResetsAt time.Time
}

// Ledger tracks fixed-window counters and spend totals. A window is created
// lazily the first time a key is touched after its resets_at has passed.
// Both operations are all-or-nothing: a denied attempt never mutates the
// stored value, and the check-and-update is atomic per key.
type Ledger interface {
	IncrementWithLimit(ctx context.Context, key string, limit int64, window time.Duration, amount int64, now time.Time) (Decision, error)
	AddSpendWithLimit(ctx context.Context, key string, budgetUSD, spendUSD float64, window time.Duration, now time.Time) (SpendDecision, error)
}

func orNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now()
	}
	return now
}
