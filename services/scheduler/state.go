package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"waooaw-plant/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StateService owns the pause/resume switch and its audit trail. Pausing
// stops new dispatch only — executions already in flight run to completion.
type StateService struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewStateService(db *gorm.DB, node *snowflake.Node) *StateService {
	return &StateService{db: db, node: node}
}

// EnsureDefault creates the global state row in running status when it does
// not exist yet. Called once at boot.
func (s *StateService) EnsureDefault(ctx context.Context) error {
	var state SchedulerState
	err := s.db.WithContext(ctx).Where("state_id = ?", GlobalStateID).First(&state).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.WithContext(ctx).Create(&SchedulerState{
		StateID: GlobalStateID,
		Status:  StateRunning,
	}).Error
}

func (s *StateService) Get(ctx context.Context) (*SchedulerState, error) {
	var state SchedulerState
	err := s.db.WithContext(ctx).Where("state_id = ?", GlobalStateID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("scheduler state not initialized", err)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// IsPaused reports the dispatch gate. A missing state row counts as running
// so a botched boot never silently freezes the scheduler.
func (s *StateService) IsPaused(ctx context.Context) bool {
	state, err := s.Get(ctx)
	if err != nil {
		return false
	}
	return state.Status == StatePaused
}

// Pause flips the gate and appends an audit record. Pausing an already
// paused scheduler is a conflict, not a no-op: the second operator should
// know someone beat them to it.
func (s *StateService) Pause(ctx context.Context, operator, reason string) (*SchedulerState, error) {
	if operator == "" {
		return nil, errutil.BadRequest("operator is required", nil)
	}

	state, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if state.Status == StatePaused {
		return nil, errutil.Conflict(
			fmt.Sprintf("scheduler already paused by %s", state.PausedBy), nil)
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SchedulerState{}).
			Where("state_id = ? AND status = ?", GlobalStateID, StateRunning).
			Updates(map[string]any{
				"status":       StatePaused,
				"paused_at":    now,
				"paused_by":    operator,
				"pause_reason": reason,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("scheduler already paused", nil)
		}
		return s.appendAction(tx, ActionPause, operator, reason)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("scheduler paused",
		zap.String("operator", operator),
		zap.String("reason", reason),
	)

	state.Status = StatePaused
	state.PausedAt = &now
	state.PausedBy = operator
	state.PauseReason = reason
	return state, nil
}

// Resume flips the gate back. The pause bookkeeping stays on the row so the
// last pause remains inspectable.
func (s *StateService) Resume(ctx context.Context, operator string) (*SchedulerState, error) {
	if operator == "" {
		return nil, errutil.BadRequest("operator is required", nil)
	}

	state, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if state.Status == StateRunning {
		return nil, errutil.Conflict("scheduler is not paused", nil)
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SchedulerState{}).
			Where("state_id = ? AND status = ?", GlobalStateID, StatePaused).
			Updates(map[string]any{
				"status":     StateRunning,
				"resumed_at": now,
				"resumed_by": operator,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("scheduler is not paused", nil)
		}
		return s.appendAction(tx, ActionResume, operator, "")
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("scheduler resumed", zap.String("operator", operator))

	state.Status = StateRunning
	state.ResumedAt = &now
	state.ResumedBy = operator
	return state, nil
}

// LogTrigger records a manual out-of-band trigger in the audit log.
func (s *StateService) LogTrigger(ctx context.Context, operator, reason string) error {
	return s.appendAction(s.db.WithContext(ctx), ActionTrigger, operator, reason)
}

func (s *StateService) appendAction(tx *gorm.DB, action, operator, reason string) error {
	return tx.Create(&SchedulerActionLog{
		ActionID: s.node.Generate().String(),
		Action:   action,
		Operator: operator,
		Reason:   reason,
	}).Error
}

// Actions returns the audit log, most recent first.
func (s *StateService) Actions(ctx context.Context, limit int) ([]SchedulerActionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []SchedulerActionLog
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
