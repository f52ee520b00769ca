package usageledger

import (
	"context"
	"sync"
	"time"
)

type window struct {
	Value    float64
	ResetsAt time.Time
}

// MemoryLedger is the process-local Ledger. State is lost on restart, which
// is acceptable for trial counters in a single scheduler process.
type MemoryLedger struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{windows: make(map[string]*window)}
}

func (l *MemoryLedger) touch(key string, windowDur time.Duration, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok || !now.Before(w.ResetsAt) {
		w = &window{Value: 0, ResetsAt: now.Add(windowDur)}
		l.windows[key] = w
	}
	return w
}

func (l *MemoryLedger) IncrementWithLimit(ctx context.Context, key string, limit int64, windowDur time.Duration, amount int64, now time.Time) (Decision, error) {
	now = orNow(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.touch(key, windowDur, now)
	if int64(w.Value)+amount > limit {
		return Decision{Allowed: false, Value: int64(w.Value), ResetsAt: w.ResetsAt}, nil
	}

	w.Value += float64(amount)
	return Decision{Allowed: true, Value: int64(w.Value), ResetsAt: w.ResetsAt}, nil
}

func (l *MemoryLedger) AddSpendWithLimit(ctx context.Context, key string, budgetUSD, spendUSD float64, windowDur time.Duration, now time.Time) (SpendDecision, error) {
	now = orNow(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.touch(key, windowDur, now)
	if w.Value+spendUSD > budgetUSD {
		return SpendDecision{Allowed: false, SpentUSD: w.Value, ResetsAt: w.ResetsAt}, nil
	}

	w.Value += spendUSD
	return SpendDecision{Allowed: true, SpentUSD: w.Value, ResetsAt: w.ResetsAt}, nil
}
