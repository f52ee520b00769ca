package goalrun

import (
	"go.uber.org/fx"
)

var Module = fx.Module("goalrun",
	fx.Provide(NewIdempotencyService),
)
