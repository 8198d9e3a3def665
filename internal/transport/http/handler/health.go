package handler

import (
	"net/http"

	"github.com/distgpu/runner/internal/health"
	"github.com/gin-gonic/gin"
)

// HealthHandler exposes the health.Checker over HTTP. The teacher built
// Checker but never wired it to a route; this is that route.
type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Liveness(ctx *gin.Context) {
	result := h.checker.Liveness(ctx.Request.Context())
	ctx.JSON(http.StatusOK, result)
}

func (h *HealthHandler) Readiness(ctx *gin.Context) {
	result := h.checker.Readiness(ctx.Request.Context())
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	ctx.JSON(status, result)
}
