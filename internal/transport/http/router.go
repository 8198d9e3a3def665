package httptransport

import (
	"log/slog"

	"github.com/distgpu/runner/internal/transport/http/handler"
	"github.com/distgpu/runner/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

// NewRouter wires the admin HTTP API: a read/control surface over jobs
// and runners, plus liveness/readiness. It never accepts writes to
// num_gpu/gpu_ids/host/status=Running — those stay the scheduler's
// exclusive path (spec.md's job invariants).
func NewRouter(
	jobHandler *handler.JobHandler,
	runnerHandler *handler.RunnerHandler,
	healthHandler *handler.HealthHandler,
	logger *slog.Logger,
	jwtKey []byte,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	auth := middleware.Auth(jwtKey)

	jobs := r.Group("/jobs", auth)
	jobs.GET("", jobHandler.List)
	jobs.GET("/:id", jobHandler.GetByID)
	jobs.POST("/:id/cancel", jobHandler.Cancel)

	runners := r.Group("/runners", auth)
	runners.GET("", runnerHandler.List)
	runners.GET("/:name", runnerHandler.GetByName)
	runners.POST("/:name/stop", runnerHandler.Stop)

	return r
}
