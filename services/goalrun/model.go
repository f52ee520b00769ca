package goalrun

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// GoalRun is one execution attempt of a goal instance at a scheduled time.
// Exactly one row exists per idempotency key; transitions are monotonic
// pending -> running -> completed|failed. Rows are never deleted — they are
// the execution audit trail.
type GoalRun struct {
	RunID          string         `gorm:"column:run_id;primaryKey;type:varchar(64)"`
	GoalInstanceID string         `gorm:"column:goal_instance_id;index;not null"`
	IdempotencyKey string         `gorm:"column:idempotency_key;uniqueIndex;not null"`
	Status         string         `gorm:"column:status;type:varchar(20);default:'pending'"`
	StartedAt      *time.Time     `gorm:"column:started_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at"`
	DeliverableID  string         `gorm:"column:deliverable_id"`
	ErrorDetails   datatypes.JSON `gorm:"column:error_details"`
	DurationMS     int64          `gorm:"column:duration_ms"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
}

func (GoalRun) TableName() string {
	return "goal_runs"
}

func (r *GoalRun) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// ErrorDetail is the structured failure payload stored on a failed run.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Stack   string `json:"stack,omitempty"`
}

func (r *GoalRun) Error() (*ErrorDetail, error) {
	if len(r.ErrorDetails) == 0 {
		return nil, nil
	}
	var d ErrorDetail
	if err := json.Unmarshal(r.ErrorDetails, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GenerateIdempotencyKey derives the deterministic key for one scheduled
// execution: "{goal_instance_id}:{scheduled_time}" with the time normalized
// to UTC RFC3339. Pure — same inputs always yield the same key.
func GenerateIdempotencyKey(goalInstanceID string, scheduledTime time.Time) string {
	return fmt.Sprintf("%s:%s", goalInstanceID, scheduledTime.UTC().Format(time.RFC3339))
}
