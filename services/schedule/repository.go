package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"waooaw-plant/pkg/errutil"

	"gorm.io/gorm"
)

// Repository describes database operations available for scheduled runs.
// Pending and missed queries are ordered by scheduled_time ascending —
// execution order is FIFO by time, nothing fancier.
type Repository interface {
	Create(ctx context.Context, run *ScheduledGoalRun) error
	GetByID(ctx context.Context, scheduledRunID string) (*ScheduledGoalRun, error)
	GetPendingRuns(ctx context.Context) ([]ScheduledGoalRun, error)
	GetDueRuns(ctx context.Context, now time.Time) ([]ScheduledGoalRun, error)
	GetMissedRuns(ctx context.Context, now time.Time) ([]ScheduledGoalRun, error)
	MarkCompleted(ctx context.Context, scheduledRunID string) error
	MarkCancelled(ctx context.Context, scheduledRunID string) error
	DeleteOldCompleted(ctx context.Context, daysOld int, now time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, run *ScheduledGoalRun) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *gormRepository) GetByID(ctx context.Context, scheduledRunID string) (*ScheduledGoalRun, error) {
	var run ScheduledGoalRun
	err := r.db.WithContext(ctx).Where("scheduled_run_id = ?", scheduledRunID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound(fmt.Sprintf("scheduled run %s not found", scheduledRunID), err)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *gormRepository) GetPendingRuns(ctx context.Context) ([]ScheduledGoalRun, error) {
	var runs []ScheduledGoalRun
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("scheduled_time ASC").
		Find(&runs).Error
	return runs, err
}

func (r *gormRepository) GetDueRuns(ctx context.Context, now time.Time) ([]ScheduledGoalRun, error) {
	var runs []ScheduledGoalRun
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", StatusPending, now).
		Order("scheduled_time ASC").
		Find(&runs).Error
	return runs, err
}

func (r *gormRepository) GetMissedRuns(ctx context.Context, now time.Time) ([]ScheduledGoalRun, error) {
	var runs []ScheduledGoalRun
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_time < ?", StatusPending, now).
		Order("scheduled_time ASC").
		Find(&runs).Error
	return runs, err
}

func (r *gormRepository) markTerminal(ctx context.Context, scheduledRunID, status string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&ScheduledGoalRun{}).
		Where("scheduled_run_id = ?", scheduledRunID).
		Updates(map[string]any{
			"status":       status,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound(fmt.Sprintf("scheduled run %s not found", scheduledRunID), nil)
	}
	return nil
}

func (r *gormRepository) MarkCompleted(ctx context.Context, scheduledRunID string) error {
	return r.markTerminal(ctx, scheduledRunID, StatusCompleted)
}

// MarkCancelled is the only cancellation primitive: it cancels the intent
// before execution. There is no cooperative cancel for a run already
// executing.
func (r *gormRepository) MarkCancelled(ctx context.Context, scheduledRunID string) error {
	return r.markTerminal(ctx, scheduledRunID, StatusCancelled)
}

// DeleteOldCompleted purges terminal rows whose completion is older than the
// retention period and returns how many were removed.
func (r *gormRepository) DeleteOldCompleted(ctx context.Context, daysOld int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -daysOld)
	res := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", []string{StatusCompleted, StatusCancelled}, cutoff).
		Delete(&ScheduledGoalRun{})
	return res.RowsAffected, res.Error
}
