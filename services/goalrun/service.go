package goalrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"waooaw-plant/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IdempotencyService owns the GoalRun state machine and the at-most-one
// execution guarantee per idempotency key.
type IdempotencyService struct {
	db   *gorm.DB
	node *snowflake.Node

	// serializes get-or-create within this scheduler process; the unique
	// index on idempotency_key backs it across processes.
	mu sync.Mutex
}

type Params struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewIdempotencyService(p Params) *IdempotencyService {
	return &IdempotencyService{db: p.DB, node: p.Node}
}

// GetOrCreateRun returns the run for the key, creating it in pending when
// absent. isNew is true for exactly one caller per key: racing callers that
// lose the insert get the winner's row back instead of a uniqueness error.
func (s *IdempotencyService) GetOrCreateRun(ctx context.Context, goalInstanceID, idempotencyKey string) (*GoalRun, bool, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if existing, err := s.findByKey(ctx, idempotencyKey); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var run *GoalRun
	var isNew bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// double-check inside the transaction: a concurrent caller may have
		// won the insert between the fast path and taking the lock
		var existing GoalRun
		err := tx.Where("idempotency_key = ?", idempotencyKey).First(&existing).Error
		if err == nil {
			run = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		created := &GoalRun{
			RunID:          s.node.Generate().String(),
			GoalInstanceID: goalInstanceID,
			IdempotencyKey: idempotencyKey,
			Status:         StatusPending,
		}
		if err := tx.Create(created).Error; err != nil {
			return err
		}
		run = created
		isNew = true
		return nil
	})
	if err != nil {
		// a cross-process race can still surface as a unique violation;
		// the existing row is the authoritative outcome
		if existing, findErr := s.findByKey(ctx, idempotencyKey); findErr == nil && existing != nil {
			zap.L().Warn("concurrent run creation detected, returning existing run",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("run_id", existing.RunID),
			)
			return existing, false, nil
		}
		return nil, false, err
	}

	return run, isNew, nil
}

func (s *IdempotencyService) findByKey(ctx context.Context, idempotencyKey string) (*GoalRun, error) {
	var run GoalRun
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *IdempotencyService) GetRun(ctx context.Context, runID string) (*GoalRun, error) {
	var run GoalRun
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound(fmt.Sprintf("goal run %s not found", runID), err)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// MarkRunRunning transitions pending -> running. Any other starting state is
// a scheduler bug and surfaces as a conflict error.
func (s *IdempotencyService) MarkRunRunning(ctx context.Context, runID string) (*GoalRun, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status != StatusPending {
		return nil, errutil.Conflict(
			fmt.Sprintf("goal run %s cannot start from status %s", runID, run.Status), nil)
	}

	now := time.Now()
	updates := map[string]any{
		"status":     StatusRunning,
		"started_at": now,
		"updated_at": now,
	}
	if err := s.db.WithContext(ctx).Model(&GoalRun{}).Where("run_id = ?", runID).Updates(updates).Error; err != nil {
		return nil, err
	}

	run.Status = StatusRunning
	run.StartedAt = &now
	return run, nil
}

// MarkRunCompleted records the terminal success state and the deliverable
// produced by the execution.
func (s *IdempotencyService) MarkRunCompleted(ctx context.Context, runID, deliverableID string, durationMS int64) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&GoalRun{}).Where("run_id = ?", runID).Updates(map[string]any{
		"status":         StatusCompleted,
		"completed_at":   now,
		"deliverable_id": deliverableID,
		"duration_ms":    durationMS,
		"updated_at":     now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound(fmt.Sprintf("goal run %s not found", runID), nil)
	}
	return nil
}

// MarkRunFailed records the terminal failure state with structured error
// details.
func (s *IdempotencyService) MarkRunFailed(ctx context.Context, runID, errorMessage, errorType string, durationMS int64, stackTrace string) error {
	detail, err := json.Marshal(ErrorDetail{Message: errorMessage, Type: errorType, Stack: stackTrace})
	if err != nil {
		return err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&GoalRun{}).Where("run_id = ?", runID).Updates(map[string]any{
		"status":        StatusFailed,
		"completed_at":  now,
		"error_details": datatypes.JSON(detail),
		"duration_ms":   durationMS,
		"updated_at":    now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound(fmt.Sprintf("goal run %s not found", runID), nil)
	}
	return nil
}

// ShouldExecuteRun gates execution on the run's current status. Only pending
// runs execute. A running run means another execution holds it — log and
// skip. A completed run's deliverable is served from the record. A failed
// run's retry decision belongs to the DLQ layer, not here.
func (s *IdempotencyService) ShouldExecuteRun(run *GoalRun) bool {
	switch run.Status {
	case StatusPending:
		return true
	case StatusRunning:
		zap.L().Warn("concurrent execution detected, skipping run",
			zap.String("run_id", run.RunID),
			zap.String("goal_instance_id", run.GoalInstanceID),
		)
		return false
	case StatusCompleted:
		zap.L().Info("run already completed, returning cached deliverable",
			zap.String("run_id", run.RunID),
			zap.String("deliverable_id", run.DeliverableID),
		)
		return false
	default:
		return false
	}
}
