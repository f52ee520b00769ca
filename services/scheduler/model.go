package scheduler

import (
	"time"
)

// GlobalStateID is the fixed key of the singleton scheduler state row.
const GlobalStateID = "global"

const (
	StateRunning = "running"
	StatePaused  = "paused"
)

const (
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionTrigger = "trigger"
)

const (
	ErrorTypeTransient = "TRANSIENT"
	ErrorTypePermanent = "PERMANENT"
)

// DLQExpiry is the absolute TTL of a dead-letter entry, fixed at creation
// and never extended by retries.
const DLQExpiry = 7 * 24 * time.Hour

// SchedulerState gates whether the tick loop dispatches new work. There is
// exactly one row, state_id="global".
type SchedulerState struct {
	StateID     string     `json:"state_id" gorm:"column:state_id;primaryKey;type:varchar(32)"`
	Status      string     `json:"status" gorm:"column:status;type:varchar(20);default:'running'"`
	PausedAt    *time.Time `json:"paused_at" gorm:"column:paused_at"`
	PausedBy    string     `json:"paused_by" gorm:"column:paused_by"`
	PauseReason string     `json:"pause_reason" gorm:"column:pause_reason"`
	ResumedAt   *time.Time `json:"resumed_at" gorm:"column:resumed_at"`
	ResumedBy   string     `json:"resumed_by" gorm:"column:resumed_by"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SchedulerState) TableName() string {
	return "scheduler_state"
}

// SchedulerActionLog is the append-only audit of operator actions. State
// mutation and audit are two different records, never conflated.
type SchedulerActionLog struct {
	ActionID  string    `json:"action_id" gorm:"column:action_id;primaryKey;type:varchar(64)"`
	Action    string    `json:"action" gorm:"column:action;type:varchar(20);not null"`
	Operator  string    `json:"operator" gorm:"column:operator;not null"`
	Reason    string    `json:"reason" gorm:"column:reason"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (SchedulerActionLog) TableName() string {
	return "scheduler_action_log"
}

// SchedulerDLQ holds goals that exhausted their retries. At most one active
// entry exists per goal instance — the DLQ models "this goal is currently
// broken", not a history of every failure.
type SchedulerDLQ struct {
	DLQID           string    `json:"dlq_id" gorm:"column:dlq_id;primaryKey;type:varchar(64)"`
	GoalInstanceID  string    `json:"goal_instance_id" gorm:"column:goal_instance_id;index;not null"`
	HiredInstanceID string    `json:"hired_instance_id" gorm:"column:hired_instance_id"`
	ErrorType       string    `json:"error_type" gorm:"column:error_type;type:varchar(20)"`
	ErrorMessage    string    `json:"error_message" gorm:"column:error_message;type:text"`
	StackTrace      string    `json:"stack_trace" gorm:"column:stack_trace;type:text"`
	FailureCount    int64     `json:"failure_count" gorm:"column:failure_count;default:1"`
	FirstFailedAt   time.Time `json:"first_failed_at" gorm:"column:first_failed_at"`
	LastFailedAt    time.Time `json:"last_failed_at" gorm:"column:last_failed_at"`
	ExpiresAt       time.Time `json:"expires_at" gorm:"column:expires_at;index"`
	RetryCount      int64     `json:"retry_count" gorm:"column:retry_count;default:0"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SchedulerDLQ) TableName() string {
	return "scheduler_dlq"
}

func (e *SchedulerDLQ) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
