package metering

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("metering",
	fx.Provide(
		NewEnforcer,
		func(db *gorm.DB) BudgetResolver { return NewBudgetResolver(db) },
	),
)
