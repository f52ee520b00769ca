package usageledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type fileWindow struct {
	Value    float64   `json:"value"`
	ResetsAt time.Time `json:"resets_at"`
}

// FileLedger is the durable Ledger variant. The whole state is one JSON
// object mapping counter key to {value, resets_at}, rewritten atomically
// (temp file + rename) under an advisory flock. The critical section is a
// single document read-modify-write and must stay short.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

func (l *FileLedger) IncrementWithLimit(ctx context.Context, key string, limit int64, windowDur time.Duration, amount int64, now time.Time) (Decision, error) {
	now = orNow(now)

	var out Decision
	err := l.update(func(windows map[string]fileWindow) {
		w, ok := windows[key]
		if !ok || !now.Before(w.ResetsAt) {
			w = fileWindow{Value: 0, ResetsAt: now.Add(windowDur)}
		}
		if int64(w.Value)+amount > limit {
			windows[key] = w
			out = Decision{Allowed: false, Value: int64(w.Value), ResetsAt: w.ResetsAt}
			return
		}
		w.Value += float64(amount)
		windows[key] = w
		out = Decision{Allowed: true, Value: int64(w.Value), ResetsAt: w.ResetsAt}
	})
	return out, err
}

func (l *FileLedger) AddSpendWithLimit(ctx context.Context, key string, budgetUSD, spendUSD float64, windowDur time.Duration, now time.Time) (SpendDecision, error) {
	now = orNow(now)

	var out SpendDecision
	err := l.update(func(windows map[string]fileWindow) {
		w, ok := windows[key]
		if !ok || !now.Before(w.ResetsAt) {
			w = fileWindow{Value: 0, ResetsAt: now.Add(windowDur)}
		}
		if w.Value+spendUSD > budgetUSD {
			windows[key] = w
			out = SpendDecision{Allowed: false, SpentUSD: w.Value, ResetsAt: w.ResetsAt}
			return
		}
		w.Value += spendUSD
		windows[key] = w
		out = SpendDecision{Allowed: true, SpentUSD: w.Value, ResetsAt: w.ResetsAt}
	})
	return out, err
}

// update runs fn against the decoded document while holding both the
// in-process mutex and the OS advisory lock, then writes the document back
// via temp file + rename.
func (l *FileLedger) update(fn func(map[string]fileWindow)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	windows, err := l.read()
	if err != nil {
		return err
	}

	fn(windows)

	return l.write(windows)
}

func (l *FileLedger) read() (map[string]fileWindow, error) {
	windows := make(map[string]fileWindow)

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return windows, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return windows, nil
	}

	if err := json.Unmarshal(data, &windows); err != nil {
		return nil, err
	}
	return windows, nil
}

func (l *FileLedger) write(windows map[string]fileWindow) error {
	data, err := json.Marshal(windows)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".ledger-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), l.path)
}
