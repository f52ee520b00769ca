package schedule

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("schedule",
	fx.Provide(
		func(db *gorm.DB) Repository { return NewRepository(db) },
	),
)
