package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	pkgasynq "waooaw-plant/pkg/asynq"
	"waooaw-plant/pkg/config"
	"waooaw-plant/pkg/errutil"
	"waooaw-plant/services/goalrun"
	"waooaw-plant/services/metering"
	"waooaw-plant/services/schedule"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Executor performs the actual goal work. The dispatcher owns scheduling,
// idempotency and metering around it; the executor owns nothing but the
// work itself.
type Executor interface {
	ExecuteGoal(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

type ExecuteRequest struct {
	RunID           string
	GoalInstanceID  string
	HiredInstanceID string
	ScheduledTime   time.Time
	Meta            GoalMeta
}

type ExecuteResult struct {
	DeliverableID string
}

// Enqueuer hands a due run to the worker pool. Production wires asynq;
// tests substitute an in-process implementation.
type Enqueuer interface {
	EnqueueGoal(ctx context.Context, payload pkgasynq.GoalExecutePayload) error
}

type asynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) Enqueuer {
	return &asynqEnqueuer{client: client}
}

func (e *asynqEnqueuer) EnqueueGoal(ctx context.Context, payload pkgasynq.GoalExecutePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx,
		asynq.NewTask(pkgasynq.GoalExecuteTask, body),
		asynq.Queue(pkgasynq.QueueGoals),
		// the run record is the idempotency layer; asynq-level retries
		// would race it
		asynq.MaxRetry(0),
	)
	return err
}

// GoalMeta is the execution context a scheduled run carries in its metadata
// column: who pays, how it is billed, and whether it recurs.
type GoalMeta struct {
	CustomerID       string  `json:"customer_id"`
	PlanID           string  `json:"plan_id"`
	TrialMode        bool    `json:"trial_mode"`
	IntentAction     string  `json:"intent_action,omitempty"`
	Model            string  `json:"model,omitempty"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd,omitempty"`
	TokensIn         int64   `json:"tokens_in,omitempty"`
	TokensOut        int64   `json:"tokens_out,omitempty"`
	Cron             string  `json:"cron,omitempty"`
}

func parseMeta(raw datatypes.JSON) GoalMeta {
	var meta GoalMeta
	if len(raw) == 0 {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		zap.L().Warn("unreadable scheduled run metadata", zap.Error(err))
	}
	return meta
}

// Dispatcher drives the tick loop: it wakes on an interval, asks the
// repository for due runs, claims each through the idempotency layer and
// pushes claimed runs onto the queue. Everything that can fail per-run is
// logged and skipped — one broken goal never stalls the loop.
type Dispatcher struct {
	cfg      *config.Config
	repo     schedule.Repository
	runs     *goalrun.IdempotencyService
	state    *StateService
	dlq      *DLQService
	enforcer *metering.Enforcer
	enqueuer Enqueuer
	executor Executor
	node     *snowflake.Node

	// consecutive execution failures per goal instance; reset on success
	mu       sync.Mutex
	failures map[string]int

	stop chan struct{}
	done chan struct{}
}

func NewDispatcher(
	cfg *config.Config,
	repo schedule.Repository,
	runs *goalrun.IdempotencyService,
	state *StateService,
	dlq *DLQService,
	enforcer *metering.Enforcer,
	enqueuer Enqueuer,
	executor Executor,
	node *snowflake.Node,
) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		repo:     repo,
		runs:     runs,
		state:    state,
		dlq:      dlq,
		enforcer: enforcer,
		enqueuer: enqueuer,
		executor: executor,
		node:     node,
		failures: make(map[string]int),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start re-arms persisted pending runs and begins ticking. Scheduling state
// lives entirely in the database, so "re-arm" is just logging what survived
// the restart — the next tick picks it up like any other pending run.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.state.EnsureDefault(ctx); err != nil {
		return err
	}

	pending, err := d.repo.GetPendingRuns(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("scheduler started",
		zap.Int("pending_runs", len(pending)),
		zap.Duration("tick_interval", d.cfg.Scheduler.TickInterval),
	)

	go d.loop()
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	close(d.stop)
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	retention := time.NewTicker(time.Hour)
	defer retention.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Scheduler.TickInterval)
			d.Tick(ctx, time.Now())
			cancel()
		case <-retention.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			d.cleanup(ctx, time.Now())
			cancel()
		}
	}
}

// Tick runs one dispatch pass. Exported so manual trigger and tests can
// drive the loop body directly.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) {
	if d.state.IsPaused(ctx) {
		return
	}

	due, err := d.repo.GetDueRuns(ctx, now)
	if err != nil {
		zap.L().Error("failed to load due runs", zap.Error(err))
		return
	}

	for i := range due {
		run := &due[i]

		// a run missed by more than the threshold is stale: executing it now
		// would surprise the customer, so log and cancel instead
		if run.IsVeryOldMissed(d.cfg.Scheduler.MissedRunMaxAge, now) {
			zap.L().Warn("cancelling very old missed run",
				zap.String("scheduled_run_id", run.ScheduledRunID),
				zap.String("goal_instance_id", run.GoalInstanceID),
				zap.Time("scheduled_time", run.ScheduledTime),
			)
			if err := d.repo.MarkCancelled(ctx, run.ScheduledRunID); err != nil {
				zap.L().Error("failed to cancel stale run", zap.Error(err),
					zap.String("scheduled_run_id", run.ScheduledRunID))
			}
			continue
		}

		if err := d.dispatch(ctx, run); err != nil {
			zap.L().Error("failed to dispatch run", zap.Error(err),
				zap.String("scheduled_run_id", run.ScheduledRunID),
				zap.String("goal_instance_id", run.GoalInstanceID),
			)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, sched *schedule.ScheduledGoalRun) error {
	key := goalrun.GenerateIdempotencyKey(sched.GoalInstanceID, sched.ScheduledTime)

	run, isNew, err := d.runs.GetOrCreateRun(ctx, sched.GoalInstanceID, key)
	if err != nil {
		return err
	}

	if !d.runs.ShouldExecuteRun(run) {
		// duplicate fire: the run already executed or is executing. The
		// scheduled intent is consumed either way.
		if run.Status == goalrun.StatusCompleted || run.Status == goalrun.StatusFailed {
			return d.repo.MarkCompleted(ctx, sched.ScheduledRunID)
		}
		return nil
	}

	if !isNew {
		zap.L().Info("re-dispatching pending run",
			zap.String("run_id", run.RunID),
			zap.String("idempotency_key", key),
		)
	}

	return d.enqueuer.EnqueueGoal(ctx, pkgasynq.GoalExecutePayload{
		ScheduledRunID:  sched.ScheduledRunID,
		GoalInstanceID:  sched.GoalInstanceID,
		HiredInstanceID: sched.HiredInstanceID,
		ScheduledTime:   sched.ScheduledTime,
		RunID:           run.RunID,
		IdempotencyKey:  key,
	})
}

// HandleGoalExecute is the asynq handler for goal:execute tasks.
func (d *Dispatcher) HandleGoalExecute(ctx context.Context, t *asynq.Task) error {
	var payload pkgasynq.GoalExecutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("undecodable goal:execute payload", zap.Error(err))
		return nil
	}
	return d.ExecuteScheduled(ctx, payload)
}

// ExecuteScheduled is the worker body: claim the run, meter it, execute it
// and record the outcome. Errors are absorbed here — retry policy lives in
// the failure counter and the DLQ, not in the queue.
func (d *Dispatcher) ExecuteScheduled(ctx context.Context, payload pkgasynq.GoalExecutePayload) error {
	run, err := d.runs.GetRun(ctx, payload.RunID)
	if err != nil {
		zap.L().Error("goal run vanished before execution", zap.Error(err),
			zap.String("run_id", payload.RunID))
		return nil
	}
	if !d.runs.ShouldExecuteRun(run) {
		return d.consumeScheduled(ctx, payload.ScheduledRunID)
	}

	sched, err := d.repo.GetByID(ctx, payload.ScheduledRunID)
	if err != nil {
		zap.L().Error("scheduled run vanished before execution", zap.Error(err),
			zap.String("scheduled_run_id", payload.ScheduledRunID))
		return nil
	}
	meta := parseMeta(sched.Metadata)

	if _, err := d.runs.MarkRunRunning(ctx, run.RunID); err != nil {
		zap.L().Warn("could not claim run for execution", zap.Error(err),
			zap.String("run_id", run.RunID))
		return nil
	}

	started := time.Now()

	if err := d.enforcer.EnforceTrialAndBudget(ctx, metering.Check{
		CustomerID:       meta.CustomerID,
		PlanID:           meta.PlanID,
		TrialMode:        meta.TrialMode,
		IntentAction:     meta.IntentAction,
		EstimatedCostUSD: meta.EstimatedCostUSD,
		TokensIn:         meta.TokensIn,
		TokensOut:        meta.TokensOut,
		Model:            meta.Model,
	}); err != nil {
		d.recordFailure(ctx, payload, meta, err, started)
		return nil
	}

	result, err := d.executor.ExecuteGoal(ctx, ExecuteRequest{
		RunID:           run.RunID,
		GoalInstanceID:  payload.GoalInstanceID,
		HiredInstanceID: payload.HiredInstanceID,
		ScheduledTime:   payload.ScheduledTime,
		Meta:            meta,
	})
	if err != nil {
		d.recordFailure(ctx, payload, meta, err, started)
		return nil
	}

	duration := time.Since(started).Milliseconds()
	if err := d.runs.MarkRunCompleted(ctx, run.RunID, result.DeliverableID, duration); err != nil {
		zap.L().Error("failed to record run completion", zap.Error(err),
			zap.String("run_id", run.RunID))
	}

	d.mu.Lock()
	delete(d.failures, payload.GoalInstanceID)
	d.mu.Unlock()

	if err := d.consumeScheduled(ctx, payload.ScheduledRunID); err != nil {
		return err
	}

	d.rearmRecurring(ctx, sched, meta)
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, payload pkgasynq.GoalExecutePayload, meta GoalMeta, execErr error, started time.Time) {
	errType := classifyError(execErr)
	duration := time.Since(started).Milliseconds()

	if err := d.runs.MarkRunFailed(ctx, payload.RunID, execErr.Error(), errType, duration, ""); err != nil {
		zap.L().Error("failed to record run failure", zap.Error(err),
			zap.String("run_id", payload.RunID))
	}
	if err := d.consumeScheduled(ctx, payload.ScheduledRunID); err != nil {
		zap.L().Error("failed to consume scheduled run", zap.Error(err),
			zap.String("scheduled_run_id", payload.ScheduledRunID))
	}

	d.mu.Lock()
	d.failures[payload.GoalInstanceID]++
	count := d.failures[payload.GoalInstanceID]
	d.mu.Unlock()

	zap.L().Warn("goal execution failed",
		zap.String("run_id", payload.RunID),
		zap.String("goal_instance_id", payload.GoalInstanceID),
		zap.String("error_type", errType),
		zap.Int("consecutive_failures", count),
		zap.Error(execErr),
	)

	// permanent failures dead-letter immediately; transient ones only after
	// exhausting the retry budget
	if errType == ErrorTypePermanent || count >= d.cfg.Scheduler.MaxRetries {
		if _, err := d.dlq.MoveToDLQ(ctx, MoveParams{
			GoalInstanceID:  payload.GoalInstanceID,
			HiredInstanceID: payload.HiredInstanceID,
			ErrorType:       errType,
			ErrorMessage:    execErr.Error(),
		}); err != nil {
			zap.L().Error("failed to move goal to dead letter queue", zap.Error(err),
				zap.String("goal_instance_id", payload.GoalInstanceID))
		}
		d.mu.Lock()
		delete(d.failures, payload.GoalInstanceID)
		d.mu.Unlock()
		return
	}

	// transient with budget left: schedule another attempt shortly
	d.rearmRetry(ctx, payload, meta, count)
}

func (d *Dispatcher) rearmRetry(ctx context.Context, payload pkgasynq.GoalExecutePayload, meta GoalMeta, attempt int) {
	metaRaw, _ := json.Marshal(meta)
	next := &schedule.ScheduledGoalRun{
		ScheduledRunID:  d.node.Generate().String(),
		GoalInstanceID:  payload.GoalInstanceID,
		HiredInstanceID: payload.HiredInstanceID,
		ScheduledTime:   time.Now().Add(time.Duration(attempt) * time.Minute),
		Status:          schedule.StatusPending,
		Metadata:        metaRaw,
	}
	if err := d.repo.Create(ctx, next); err != nil {
		zap.L().Error("failed to schedule retry", zap.Error(err),
			zap.String("goal_instance_id", payload.GoalInstanceID))
	}
}

// rearmRecurring persists the next occurrence for cron-bearing goals.
func (d *Dispatcher) rearmRecurring(ctx context.Context, sched *schedule.ScheduledGoalRun, meta GoalMeta) {
	if meta.Cron == "" {
		return
	}
	next, err := schedule.NextOccurrence(meta.Cron, time.Now())
	if err != nil {
		zap.L().Error("invalid cron expression on recurring goal", zap.Error(err),
			zap.String("goal_instance_id", sched.GoalInstanceID),
			zap.String("cron", meta.Cron))
		return
	}
	if err := d.repo.Create(ctx, &schedule.ScheduledGoalRun{
		ScheduledRunID:  d.node.Generate().String(),
		GoalInstanceID:  sched.GoalInstanceID,
		HiredInstanceID: sched.HiredInstanceID,
		ScheduledTime:   next,
		Status:          schedule.StatusPending,
		Metadata:        sched.Metadata,
	}); err != nil {
		zap.L().Error("failed to schedule next occurrence", zap.Error(err),
			zap.String("goal_instance_id", sched.GoalInstanceID))
	}
}

// consumeScheduled marks the intent done, tolerating a row the retention
// sweep already purged.
func (d *Dispatcher) consumeScheduled(ctx context.Context, scheduledRunID string) error {
	err := d.repo.MarkCompleted(ctx, scheduledRunID)
	var base errutil.BaseError
	if errors.As(err, &base) && base.Status() == errutil.StatusNotFound {
		return nil
	}
	return err
}

func (d *Dispatcher) cleanup(ctx context.Context, now time.Time) {
	deleted, err := d.repo.DeleteOldCompleted(ctx, d.cfg.Scheduler.RetentionDays, now)
	if err != nil {
		zap.L().Error("scheduled run retention sweep failed", zap.Error(err))
	} else if deleted > 0 {
		zap.L().Info("old scheduled runs purged", zap.Int64("count", deleted))
	}

	if _, err := d.dlq.CleanupExpired(ctx, now); err != nil {
		zap.L().Error("dead letter cleanup failed", zap.Error(err))
	}
}

// classifyError maps an execution error to a DLQ error type. Usage-limit
// denials and validation errors will not pass on retry; everything else is
// assumed transient.
func classifyError(err error) string {
	var usage *metering.UsageLimitError
	if errors.As(err, &usage) {
		return ErrorTypePermanent
	}
	var base errutil.BaseError
	if errors.As(err, &base) {
		switch base.Status() {
		case errutil.StatusBadRequest, errutil.StatusValidationFailed, errutil.StatusForbidden:
			return ErrorTypePermanent
		}
	}
	return ErrorTypeTransient
}
