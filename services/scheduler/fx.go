package scheduler

import (
	"context"

	pkgasynq "waooaw-plant/pkg/asynq"
	"waooaw-plant/pkg/config"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		func(db *gorm.DB, node *snowflake.Node) *StateService {
			return NewStateService(db, node)
		},
		func(cfg *config.Config, db *gorm.DB, node *snowflake.Node) *DLQService {
			return NewDLQService(db, node, cfg.Scheduler.DLQAlertThreshold)
		},
		func(client *asynq.Client) Enqueuer {
			return NewAsynqEnqueuer(client)
		},
		NewDispatcher,
	),
	fx.Invoke(registerDispatcher),
)

func registerDispatcher(lc fx.Lifecycle, d *Dispatcher, mux *asynq.ServeMux) {
	mux.HandleFunc(pkgasynq.GoalExecuteTask, d.HandleGoalExecute)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return d.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
}
