package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/infrastructure/postgres"
	"github.com/distgpu/runner/internal/usecase"
	"github.com/gin-gonic/gin"
)

// RunnerHandler is a registry snapshot plus the one remote write it
// allows: draining a host via status=Stop, the same column the host's
// own tick loop already consults.
type RunnerHandler struct {
	uc     *usecase.RunnerUsecase
	logger *slog.Logger
}

func NewRunnerHandler(uc *usecase.RunnerUsecase, logger *slog.Logger) *RunnerHandler {
	return &RunnerHandler{uc: uc, logger: logger.With("component", "runner_handler")}
}

type runnerResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	GPUIDs    string    `json:"gpu_ids"`
	Labels    string    `json:"labels"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toRunnerResponse(r *domain.Runner) runnerResponse {
	return runnerResponse{
		ID:        r.ID,
		Name:      r.Name,
		GPUIDs:    r.GPUIDs,
		Labels:    r.Labels,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (h *RunnerHandler) List(ctx *gin.Context) {
	runners, err := h.uc.List(ctx.Request.Context())
	if err != nil {
		h.logger.Error("list runners", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]runnerResponse, len(runners))
	for i, r := range runners {
		items[i] = toRunnerResponse(r)
	}
	ctx.JSON(http.StatusOK, gin.H{"runners": items})
}

func (h *RunnerHandler) GetByName(ctx *gin.Context) {
	name := ctx.Param("name")

	r, err := h.uc.GetByName(ctx.Request.Context(), name)
	if err != nil {
		if errors.Is(err, postgres.ErrRunnerNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errRunnerNotFound})
			return
		}
		h.logger.Error("get runner", "runner", name, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toRunnerResponse(r))
}

func (h *RunnerHandler) Stop(ctx *gin.Context) {
	name := ctx.Param("name")

	r, err := h.uc.Stop(ctx.Request.Context(), name)
	if err != nil {
		if errors.Is(err, postgres.ErrRunnerNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errRunnerNotFound})
			return
		}
		h.logger.Error("stop runner", "runner", name, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toRunnerResponse(r))
}
