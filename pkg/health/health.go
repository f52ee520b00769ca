package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status string       `json:"status"`
	Deps   []Dependency `json:"deps,omitempty"`
}

// Service answers liveness and readiness probes. Liveness is
// unconditional; readiness pings each wired dependency.
type Service interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type service struct {
	db    *gorm.DB
	redis *redis.Client
}

type Params struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func ProvideHealth(p Params) Service {
	return &service{db: p.DB, redis: p.Redis}
}

func (s *service) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{Status: "ok"})
}

func (s *service) Readiness(c *gin.Context) {
	overall := &Health{Status: "ok"}
	code := http.StatusOK

	fail := func(dep Dependency) {
		overall.Status = "degraded"
		code = http.StatusServiceUnavailable
		overall.Deps = append(overall.Deps, dep)
	}

	if s.db != nil {
		dep := Dependency{Name: "database", Status: "ok"}
		if sql, err := s.db.DB(); err != nil {
			dep.Status = "unavailable"
			dep.Message = err.Error()
			fail(dep)
		} else if err := sql.PingContext(c.Request.Context()); err != nil {
			dep.Status = "unavailable"
			dep.Message = err.Error()
			fail(dep)
		} else {
			overall.Deps = append(overall.Deps, dep)
		}
	}

	if s.redis != nil {
		dep := Dependency{Name: "redis", Status: "ok"}
		if err := s.redis.Ping(c.Request.Context()).Err(); err != nil {
			dep.Status = "unavailable"
			dep.Message = err.Error()
			fail(dep)
		} else {
			overall.Deps = append(overall.Deps, dep)
		}
	}

	c.JSON(code, overall)
}
