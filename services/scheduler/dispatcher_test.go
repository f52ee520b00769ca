package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	pkgasynq "waooaw-plant/pkg/asynq"
	"waooaw-plant/pkg/config"
	"waooaw-plant/services/goalrun"
	"waooaw-plant/services/metering"
	"waooaw-plant/services/schedule"
	"waooaw-plant/services/testutil"
	"waooaw-plant/services/usageledger"
)

type recordingEnqueuer struct {
	payloads []pkgasynq.GoalExecutePayload
}

func (e *recordingEnqueuer) EnqueueGoal(_ context.Context, p pkgasynq.GoalExecutePayload) error {
	e.payloads = append(e.payloads, p)
	return nil
}

type fakeExecutor struct {
	calls int
	err   error
}

func (e *fakeExecutor) ExecuteGoal(_ context.Context, _ ExecuteRequest) (ExecuteResult, error) {
	e.calls++
	if e.err != nil {
		return ExecuteResult{}, e.err
	}
	return ExecuteResult{DeliverableID: "deliverable-1"}, nil
}

type nopBudgets struct{}

func (nopBudgets) MonthlyBudgetUSD(context.Context, string) (*float64, error) {
	return nil, nil
}

type dispatcherFixture struct {
	d        *Dispatcher
	repo     schedule.Repository
	runs     *goalrun.IdempotencyService
	dlq      *DLQService
	state    *StateService
	enqueuer *recordingEnqueuer
	executor *fakeExecutor
	cfg      *config.Config
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&schedule.ScheduledGoalRun{},
		&goalrun.GoalRun{},
		&SchedulerState{},
		&SchedulerActionLog{},
		&SchedulerDLQ{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Scheduler.TickInterval = 30 * time.Second
	cfg.Scheduler.MissedRunMaxAge = 24 * time.Hour
	cfg.Scheduler.RetentionDays = 30
	cfg.Scheduler.MaxRetries = 2
	cfg.Trial.DailyTaskCap = 10
	cfg.Trial.MaxCostPerCallUSD = 1.0
	cfg.Budget.WindowDays = 30

	repo := schedule.NewRepository(db)
	runs := goalrun.NewIdempotencyService(goalrun.Params{DB: db, Node: node})
	state := NewStateService(db, node)
	dlq := NewDLQService(db, node, cfg.Scheduler.DLQAlertThreshold)
	enforcer := metering.NewEnforcer(metering.Params{
		Cfg:     cfg,
		Ledger:  usageledger.NewMemoryLedger(),
		Budgets: nopBudgets{},
	})
	enq := &recordingEnqueuer{}
	exec := &fakeExecutor{}

	d := NewDispatcher(cfg, repo, runs, state, dlq, enforcer, enq, exec, node)
	require.NoError(t, state.EnsureDefault(context.Background()))

	return &dispatcherFixture{
		d: d, repo: repo, runs: runs, dlq: dlq, state: state,
		enqueuer: enq, executor: exec, cfg: cfg,
	}
}

func (f *dispatcherFixture) schedule(t *testing.T, id, goalID string, at time.Time, meta GoalMeta) *schedule.ScheduledGoalRun {
	t.Helper()
	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	run := &schedule.ScheduledGoalRun{
		ScheduledRunID:  id,
		GoalInstanceID:  goalID,
		HiredInstanceID: "hire-1",
		ScheduledTime:   at,
		Status:          schedule.StatusPending,
		Metadata:        raw,
	}
	require.NoError(t, f.repo.Create(context.Background(), run))
	return run
}

func TestTickDispatchesDueRuns(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	f.schedule(t, "s1", "goal-1", now.Add(-time.Minute), GoalMeta{CustomerID: "cust-1"})
	f.schedule(t, "future", "goal-2", now.Add(time.Hour), GoalMeta{})

	f.d.Tick(ctx, now)

	require.Len(t, f.enqueuer.payloads, 1)
	p := f.enqueuer.payloads[0]
	require.Equal(t, "s1", p.ScheduledRunID)
	require.Equal(t, "goal-1", p.GoalInstanceID)
	require.Equal(t, goalrun.GenerateIdempotencyKey("goal-1", now.Add(-time.Minute)), p.IdempotencyKey)

	// a pending run record exists for the key
	run, err := f.runs.GetRun(ctx, p.RunID)
	require.NoError(t, err)
	require.Equal(t, goalrun.StatusPending, run.Status)
}

func TestTickSkipsWhenPaused(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.schedule(t, "s1", "goal-1", now.Add(-time.Minute), GoalMeta{})

	_, err := f.state.Pause(ctx, "ops", "maintenance")
	require.NoError(t, err)

	f.d.Tick(ctx, now)
	require.Empty(t, f.enqueuer.payloads)

	_, err = f.state.Resume(ctx, "ops")
	require.NoError(t, err)

	f.d.Tick(ctx, now)
	require.Len(t, f.enqueuer.payloads, 1)
}

func TestTickCancelsVeryOldMissedRuns(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	// missed by 25h: beyond the 24h threshold
	stale := f.schedule(t, "stale", "goal-1", now.Add(-25*time.Hour), GoalMeta{})
	// missed by 1h: still dispatched
	f.schedule(t, "recent", "goal-2", now.Add(-time.Hour), GoalMeta{})

	f.d.Tick(ctx, now)

	require.Len(t, f.enqueuer.payloads, 1)
	require.Equal(t, "recent", f.enqueuer.payloads[0].ScheduledRunID)

	got, err := f.repo.GetByID(ctx, stale.ScheduledRunID)
	require.NoError(t, err)
	require.Equal(t, schedule.StatusCancelled, got.Status)
}

func TestExecuteScheduled_Success(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	f.schedule(t, "s1", "goal-1", now.Add(-time.Minute), GoalMeta{CustomerID: "cust-1"})
	f.d.Tick(ctx, now)
	require.Len(t, f.enqueuer.payloads, 1)

	require.NoError(t, f.d.ExecuteScheduled(ctx, f.enqueuer.payloads[0]))
	require.Equal(t, 1, f.executor.calls)

	run, err := f.runs.GetRun(ctx, f.enqueuer.payloads[0].RunID)
	require.NoError(t, err)
	require.Equal(t, goalrun.StatusCompleted, run.Status)
	require.Equal(t, "deliverable-1", run.DeliverableID)

	sched, err := f.repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, schedule.StatusCompleted, sched.Status)

	// replaying the payload serves the cached outcome, no second execution
	require.NoError(t, f.d.ExecuteScheduled(ctx, f.enqueuer.payloads[0]))
	require.Equal(t, 1, f.executor.calls)

	// next tick finds nothing due
	f.enqueuer.payloads = nil
	f.d.Tick(ctx, now)
	require.Empty(t, f.enqueuer.payloads)
}

func TestExecuteScheduled_TransientFailuresReachDLQ(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	f.executor.err = errors.New("upstream 503")

	f.schedule(t, "s1", "goal-1", now.Add(-time.Minute), GoalMeta{CustomerID: "cust-1"})
	f.d.Tick(ctx, now)
	require.Len(t, f.enqueuer.payloads, 1)

	// first failure: below MaxRetries(2), a retry run is scheduled instead
	require.NoError(t, f.d.ExecuteScheduled(ctx, f.enqueuer.payloads[0]))

	run, err := f.runs.GetRun(ctx, f.enqueuer.payloads[0].RunID)
	require.NoError(t, err)
	require.Equal(t, goalrun.StatusFailed, run.Status)

	entries, err := f.dlq.ListActive(ctx, time.Now())
	require.NoError(t, err)
	require.Empty(t, entries)

	pending, err := f.repo.GetPendingRuns(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// second failure exhausts the budget and dead-letters the goal
	f.enqueuer.payloads = nil
	f.d.Tick(ctx, pending[0].ScheduledTime.Add(time.Second))
	require.Len(t, f.enqueuer.payloads, 1)
	require.NoError(t, f.d.ExecuteScheduled(ctx, f.enqueuer.payloads[0]))

	entries, err = f.dlq.ListActive(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "goal-1", entries[0].GoalInstanceID)
	require.Equal(t, ErrorTypeTransient, entries[0].ErrorType)
}

func TestExecuteScheduled_UsageDenialIsPermanent(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	// a trial goal attempting a production write is denied and will be
	// denied on every retry, so it dead-letters immediately
	f.schedule(t, "s1", "goal-1", now.Add(-time.Minute), GoalMeta{
		CustomerID:   "cust-1",
		TrialMode:    true,
		IntentAction: "publish",
	})
	f.d.Tick(ctx, now)
	require.Len(t, f.enqueuer.payloads, 1)

	require.NoError(t, f.d.ExecuteScheduled(ctx, f.enqueuer.payloads[0]))
	require.Equal(t, 0, f.executor.calls)

	run, err := f.runs.GetRun(ctx, f.enqueuer.payloads[0].RunID)
	require.NoError(t, err)
	require.Equal(t, goalrun.StatusFailed, run.Status)

	entries, err := f.dlq.ListActive(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ErrorTypePermanent, entries[0].ErrorType)
}

func TestExecuteScheduled_RearmsRecurringGoal(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	f.schedule(t, "s1", "goal-1", now.Add(-time.Minute), GoalMeta{
		CustomerID: "cust-1",
		Cron:       "0 9 * * *",
	})
	f.d.Tick(ctx, now)
	require.Len(t, f.enqueuer.payloads, 1)
	require.NoError(t, f.d.ExecuteScheduled(ctx, f.enqueuer.payloads[0]))

	pending, err := f.repo.GetPendingRuns(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "goal-1", pending[0].GoalInstanceID)
	require.True(t, pending[0].ScheduledTime.After(time.Now()))
}

func TestClassifyError(t *testing.T) {
	require.Equal(t, ErrorTypeTransient, classifyError(errors.New("dial tcp: timeout")))
	require.Equal(t, ErrorTypePermanent, classifyError(&metering.UsageLimitError{Reason: metering.ReasonTrialDailyCap}))
}
