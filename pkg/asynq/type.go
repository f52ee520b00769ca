package asynq

import "time"

const (
	QueueGoals   = "goals"
	QueueDefault = "default"

	// GoalExecuteTask carries one scheduled goal execution through the queue.
	GoalExecuteTask = "goal:execute"
)

type GoalExecutePayload struct {
	ScheduledRunID  string    `json:"scheduled_run_id"`
	GoalInstanceID  string    `json:"goal_instance_id"`
	HiredInstanceID string    `json:"hired_instance_id"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	RunID           string    `json:"run_id"`
	IdempotencyKey  string    `json:"idempotency_key"`
}
