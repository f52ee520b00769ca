package scheduler

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// LoggingExecutor is the in-process Executor used when no agent runtime is
// attached: it acknowledges the run and mints a deliverable id, so the
// scheduling, idempotency and metering pipeline operates end to end.
type LoggingExecutor struct {
	node *snowflake.Node
}

func NewLoggingExecutor(node *snowflake.Node) *LoggingExecutor {
	return &LoggingExecutor{node: node}
}

func (e *LoggingExecutor) ExecuteGoal(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	deliverableID := e.node.Generate().String()
	zap.L().Info("goal executed",
		zap.String("run_id", req.RunID),
		zap.String("goal_instance_id", req.GoalInstanceID),
		zap.String("deliverable_id", deliverableID),
	)
	return ExecuteResult{DeliverableID: deliverableID}, nil
}
