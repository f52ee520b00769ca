package usageledger

import (
	"waooaw-plant/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usageledger",
	fx.Provide(Provide),
)

type Params struct {
	fx.In
	Cfg   *config.Config
	Redis *redis.Client `optional:"true"`
}

// Provide picks the ledger backing from config. Unknown backends fall back
// to memory with a warning rather than refusing to start.
func Provide(p Params) Ledger {
	switch p.Cfg.Ledger.Backend {
	case "file":
		path := p.Cfg.Ledger.FilePath
		if path == "" {
			path = "usage_ledger.json"
		}
		return NewFileLedger(path)
	case "redis":
		if p.Redis != nil {
			return NewRedisLedger(p.Redis)
		}
		zap.L().Warn("ledger backend redis requested but no redis client provided, using memory")
		return NewMemoryLedger()
	case "memory":
		return NewMemoryLedger()
	default:
		zap.L().Warn("unknown ledger backend, using memory", zap.String("backend", p.Cfg.Ledger.Backend))
		return NewMemoryLedger()
	}
}
