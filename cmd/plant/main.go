package main

import (
	"context"
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"waooaw-plant/internal/httpapi"
	pkgasynq "waooaw-plant/pkg/asynq"
	"waooaw-plant/pkg/config"
	"waooaw-plant/pkg/db"
	"waooaw-plant/pkg/gen"
	"waooaw-plant/pkg/health"
	"waooaw-plant/pkg/logger"
	"waooaw-plant/pkg/redis"
	"waooaw-plant/services/goalrun"
	"waooaw-plant/services/metering"
	"waooaw-plant/services/schedule"
	"waooaw-plant/services/scheduler"
	"waooaw-plant/services/trading"
	"waooaw-plant/services/usageledger"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		health.Module,
		pkgasynq.Client,
		pkgasynq.Server,
		usageledger.Module,
		metering.Module,
		goalrun.Module,
		schedule.Module,
		scheduler.Module,
		trading.Module,
		httpapi.Module,
		fx.Provide(
			func(e *scheduler.LoggingExecutor) scheduler.Executor { return e },
			scheduler.NewLoggingExecutor,
		),
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func migrate(lc fx.Lifecycle, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return gdb.WithContext(ctx).AutoMigrate(
				&goalrun.GoalRun{},
				&schedule.ScheduledGoalRun{},
				&scheduler.SchedulerState{},
				&scheduler.SchedulerActionLog{},
				&scheduler.SchedulerDLQ{},
				&metering.Plan{},
			)
		},
	})
}
