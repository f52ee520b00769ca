package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// DefaultVeryOldThreshold separates "replay this missed run" from "just log
// it" — a run missed by more than this is stale enough that replaying it
// would surprise the customer.
const DefaultVeryOldThreshold = 24 * time.Hour

// ScheduledGoalRun is the durable intent to run a goal at a time. Whether
// execution actually happened is tracked separately on GoalRun; this row
// exists so the scheduler can re-arm timers after a restart.
type ScheduledGoalRun struct {
	ScheduledRunID  string         `gorm:"column:scheduled_run_id;primaryKey;type:varchar(64)"`
	GoalInstanceID  string         `gorm:"column:goal_instance_id;index;not null"`
	HiredInstanceID string         `gorm:"column:hired_instance_id;index"`
	ScheduledTime   time.Time      `gorm:"column:scheduled_time;index;not null"`
	Status          string         `gorm:"column:status;type:varchar(20);default:'pending'"`
	CompletedAt     *time.Time     `gorm:"column:completed_at"`
	Metadata        datatypes.JSON `gorm:"column:metadata"`
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
}

func (ScheduledGoalRun) TableName() string {
	return "scheduled_goal_runs"
}

func (r *ScheduledGoalRun) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled
}

// IsMissed reports whether the run is still pending past its scheduled time.
func (r *ScheduledGoalRun) IsMissed(now time.Time) bool {
	return r.Status == StatusPending && r.ScheduledTime.Before(now)
}

// IsVeryOldMissed reports whether the run was missed by more than threshold.
// The replay-or-log decision itself is scheduler policy; this only
// classifies.
func (r *ScheduledGoalRun) IsVeryOldMissed(threshold time.Duration, now time.Time) bool {
	if threshold <= 0 {
		threshold = DefaultVeryOldThreshold
	}
	return r.IsMissed(now) && now.Sub(r.ScheduledTime) > threshold
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextOccurrence computes the next run time after the given instant for a
// standard 5-field cron expression. Recurring goals carry the expression in
// their metadata.
func NextOccurrence(spec string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
