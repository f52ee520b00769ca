package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the tracker sleeps.
type fakeClock struct {
	t      time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.delays = append(c.delays, d)
	c.t = c.t.Add(d)
}

func newFakeTracker(status StatusFunc, timeout time.Duration) (*Tracker, *fakeClock) {
	clock := newFakeClock()
	tr := NewTracker(status, timeout)
	tr.sleep = clock.sleep
	tr.now = clock.now
	return tr, clock
}

func TestTrack_PollsUntilTerminal(t *testing.T) {
	states := []string{"open", "open", "open", OrderStateFilled}
	calls := 0
	status := func(context.Context, string) (string, error) {
		s := states[calls]
		calls++
		return s, nil
	}

	tr, clock := newFakeTracker(status, 0)

	result, err := tr.Track(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, OrderStateFilled, result.State)
	require.Equal(t, 4, result.Polls)
	require.False(t, result.TimedOut)

	// doubling backoff between polls
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clock.delays)
}

func TestTrackBackoff_CapsAtSteadyInterval(t *testing.T) {
	require.Equal(t, time.Second, trackBackoff(0))
	require.Equal(t, 2*time.Second, trackBackoff(1))
	require.Equal(t, 4*time.Second, trackBackoff(2))
	require.Equal(t, 8*time.Second, trackBackoff(3))
	require.Equal(t, 15*time.Second, trackBackoff(4))
	require.Equal(t, 15*time.Second, trackBackoff(9))
}

func TestTrack_TimeoutTakesFinalRead(t *testing.T) {
	calls := 0
	status := func(context.Context, string) (string, error) {
		calls++
		return "open", nil
	}

	tr, _ := newFakeTracker(status, 10*time.Second)

	result, err := tr.Track(context.Background(), "ord-1")
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	// the final best-effort read still reported a live state
	require.Equal(t, "open", result.State)
	require.Greater(t, result.Polls, 1)
}

func TestTrack_TimeoutWithFailingFinalRead(t *testing.T) {
	calls := 0
	status := func(context.Context, string) (string, error) {
		calls++
		if calls > 3 {
			return "", errors.New("exchange unreachable")
		}
		return "open", nil
	}

	tr, _ := newFakeTracker(status, 5*time.Second)

	result, err := tr.Track(context.Background(), "ord-1")
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.Equal(t, OrderStateUnknown, result.State)
}

func TestTrack_LateTerminalStateStillTimedOut(t *testing.T) {
	calls := 0
	status := func(context.Context, string) (string, error) {
		calls++
		if calls >= 4 {
			return OrderStateCancelled, nil
		}
		return "open", nil
	}

	// deadline passes before the order terminates; the final read happens
	// to catch the terminal state
	tr, _ := newFakeTracker(status, 3*time.Second)

	result, err := tr.Track(context.Background(), "ord-1")
	require.NoError(t, err)
	require.True(t, result.TimedOut)
	require.Equal(t, OrderStateCancelled, result.State)
}

func TestTrack_PollErrorsDoNotAbort(t *testing.T) {
	calls := 0
	status := func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky network")
		}
		return OrderStateFilled, nil
	}

	tr, _ := newFakeTracker(status, 0)

	result, err := tr.Track(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, OrderStateFilled, result.State)
	require.Equal(t, 2, result.Polls)
}

func TestTrack_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, _ := newFakeTracker(func(context.Context, string) (string, error) {
		return "open", nil
	}, 0)

	_, err := tr.Track(ctx, "ord-1")
	require.ErrorIs(t, err, context.Canceled)
}
