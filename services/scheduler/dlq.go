package scheduler

import (
	"context"
	"errors"
	"time"

	"waooaw-plant/pkg/db/pagination"
	"waooaw-plant/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DLQService maintains the dead-letter queue of goals whose executions keep
// failing. Entries deduplicate per goal instance and expire on a fixed clock
// set at first failure.
type DLQService struct {
	db             *gorm.DB
	node           *snowflake.Node
	alertThreshold int64
}

func NewDLQService(db *gorm.DB, node *snowflake.Node, alertThreshold int64) *DLQService {
	if alertThreshold <= 0 {
		alertThreshold = 10
	}
	return &DLQService{db: db, node: node, alertThreshold: alertThreshold}
}

// MoveParams carries one failure into the DLQ.
type MoveParams struct {
	GoalInstanceID  string
	HiredInstanceID string
	ErrorType       string // TRANSIENT or PERMANENT
	ErrorMessage    string
	StackTrace      string
}

// MoveToDLQ records a failure for the goal. When an active entry for the
// goal already exists it is updated in place: failure_count accumulates, the
// error fields reflect the latest failure, and expires_at stays untouched.
// Otherwise a fresh entry is created with a 7-day expiry.
func (s *DLQService) MoveToDLQ(ctx context.Context, p MoveParams) (*SchedulerDLQ, error) {
	now := time.Now()

	var entry *SchedulerDLQ
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SchedulerDLQ
		err := tx.Where("goal_instance_id = ? AND expires_at > ?", p.GoalInstanceID, now).
			First(&existing).Error
		if err == nil {
			existing.FailureCount++
			existing.LastFailedAt = now
			existing.ErrorType = p.ErrorType
			existing.ErrorMessage = p.ErrorMessage
			existing.StackTrace = p.StackTrace
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			entry = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		created := &SchedulerDLQ{
			DLQID:           s.node.Generate().String(),
			GoalInstanceID:  p.GoalInstanceID,
			HiredInstanceID: p.HiredInstanceID,
			ErrorType:       p.ErrorType,
			ErrorMessage:    p.ErrorMessage,
			StackTrace:      p.StackTrace,
			FailureCount:    1,
			FirstFailedAt:   now,
			LastFailedAt:    now,
			ExpiresAt:       now.Add(DLQExpiry),
		}
		if err := tx.Create(created).Error; err != nil {
			return err
		}
		entry = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Warn("goal moved to dead letter queue",
		zap.String("dlq_id", entry.DLQID),
		zap.String("goal_instance_id", p.GoalInstanceID),
		zap.String("error_type", p.ErrorType),
		zap.Int64("failure_count", entry.FailureCount),
	)

	if size, err := s.ActiveCount(ctx, now); err == nil && size >= s.alertThreshold {
		zap.L().Error("dead letter queue size above alert threshold",
			zap.Int64("size", size),
			zap.Int64("threshold", s.alertThreshold),
		)
	}

	return entry, nil
}

// RecordRetryAttempt bumps the retry counter on an active entry. Expired or
// missing entries return nil without error: a retry of a goal no one is
// tracking anymore is not a failure, just a no-op.
func (s *DLQService) RecordRetryAttempt(ctx context.Context, dlqID string) (*SchedulerDLQ, error) {
	now := time.Now()

	var entry SchedulerDLQ
	err := s.db.WithContext(ctx).Where("dlq_id = ?", dlqID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.IsExpired(now) {
		return nil, nil
	}

	entry.RetryCount++
	if err := s.db.WithContext(ctx).Model(&SchedulerDLQ{}).
		Where("dlq_id = ?", dlqID).
		Updates(map[string]any{
			"retry_count": entry.RetryCount,
			"updated_at":  now,
		}).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListActive returns unexpired entries, oldest first.
func (s *DLQService) ListActive(ctx context.Context, now time.Time) ([]SchedulerDLQ, error) {
	var entries []SchedulerDLQ
	err := s.db.WithContext(ctx).
		Where("expires_at > ?", now).
		Order("first_failed_at ASC").
		Find(&entries).Error
	return entries, err
}

// ListActivePage returns one page of unexpired entries ordered by
// (first_failed_at, dlq_id). It over-fetches one row to detect whether more
// remain.
func (s *DLQService) ListActivePage(ctx context.Context, now time.Time, cursor *pagination.Cursor, limit int) ([]SchedulerDLQ, *pagination.PageInfo, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.db.WithContext(ctx).Where("expires_at > ?", now)
	if cursor != nil {
		after, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid pagination cursor", err)
		}
		q = q.Where("first_failed_at > ? OR (first_failed_at = ? AND dlq_id > ?)", after, after, cursor.ID)
	}

	var entries []SchedulerDLQ
	if err := q.Order("first_failed_at ASC, dlq_id ASC").Limit(limit + 1).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	return pagination.BuildPageInfo(entries, limit, func(e SchedulerDLQ) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.FirstFailedAt.Format(time.RFC3339Nano), ID: e.DLQID}
	})
}

func (s *DLQService) ActiveCount(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SchedulerDLQ{}).
		Where("expires_at > ?", now).
		Count(&count).Error
	return count, err
}

// CleanupExpired deletes entries past their expiry and returns the count.
func (s *DLQService) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&SchedulerDLQ{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		zap.L().Info("expired dead letter entries removed", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, res.Error
}
