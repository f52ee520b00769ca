package trading

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StatusFunc reads the current state of an order.
type StatusFunc func(ctx context.Context, orderID string) (string, error)

// DefaultTrackTimeout bounds how long Track will poll one order.
const DefaultTrackTimeout = 120 * time.Second

// trackBackoff is the delay before poll n+1: doubling up to 8s, then a
// steady 15s.
func trackBackoff(attempt int) time.Duration {
	if attempt < 4 {
		return time.Duration(1<<attempt) * time.Second
	}
	return 15 * time.Second
}

// TrackResult is the outcome of following one order to a terminal state —
// or failing to.
type TrackResult struct {
	State    string
	Polls    int
	TimedOut bool
}

// Tracker polls an order until it is filled, cancelled or rejected.
type Tracker struct {
	status  StatusFunc
	timeout time.Duration

	// injectable for tests
	sleep func(time.Duration)
	now   func() time.Time
}

func NewTracker(status StatusFunc, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTrackTimeout
	}
	return &Tracker{
		status:  status,
		timeout: timeout,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Track polls with backoff until the order reaches a terminal state or the
// timeout passes. On timeout it takes one last best-effort read: a terminal
// answer there is still an answer, just a late one, so TimedOut stays true
// and State carries whatever the final read produced — UNKNOWN if it
// failed.
func (t *Tracker) Track(ctx context.Context, orderID string) (TrackResult, error) {
	deadline := t.now().Add(t.timeout)
	result := TrackResult{State: OrderStateUnknown}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		state, err := t.status(ctx, orderID)
		result.Polls++
		if err != nil {
			zap.L().Warn("order status poll failed",
				zap.String("order_id", orderID),
				zap.Int("poll", result.Polls),
				zap.Error(err),
			)
		} else {
			result.State = state
			if isTerminal(state) {
				return result, nil
			}
		}

		if !t.now().Before(deadline) {
			return t.finalRead(ctx, orderID, result), nil
		}

		t.sleep(trackBackoff(attempt))
	}
}

func (t *Tracker) finalRead(ctx context.Context, orderID string, result TrackResult) TrackResult {
	result.TimedOut = true

	state, err := t.status(ctx, orderID)
	result.Polls++
	if err != nil {
		zap.L().Warn("final order status read failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		result.State = OrderStateUnknown
		return result
	}

	result.State = state
	return result
}

func isTerminal(state string) bool {
	switch state {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	}
	return false
}
