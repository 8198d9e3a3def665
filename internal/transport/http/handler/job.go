package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/distgpu/runner/internal/domain"
	"github.com/distgpu/runner/internal/usecase"
	"github.com/gin-gonic/gin"
)

// JobHandler is a read/control surface over the job queue. It never
// accepts num_gpu/gpu_ids/host/status=Running writes — those remain the
// scheduler's exclusive path; job creation is push's job, not this API's.
type JobHandler struct {
	uc     *usecase.JobUsecase
	logger *slog.Logger
}

func NewJobHandler(uc *usecase.JobUsecase, logger *slog.Logger) *JobHandler {
	return &JobHandler{uc: uc, logger: logger.With("component", "job_handler")}
}

type jobResponse struct {
	ID             int64     `json:"id"`
	RepoURL        string    `json:"repo_url"`
	CommitHash     string    `json:"commit_hash"`
	Status         string    `json:"status"`
	Command        string    `json:"command"`
	Message        string    `json:"message,omitempty"`
	Priority       int       `json:"priority"`
	NumGPU         int       `json:"num_gpu"`
	RequiredLabels string    `json:"required_labels,omitempty"`
	Executor       string    `json:"executor,omitempty"`
	GPUIDs         string    `json:"gpu_ids,omitempty"`
	Host           string    `json:"host,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	ScheduleID     *int64    `json:"schedule_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:             j.ID,
		RepoURL:        j.RepoURL,
		CommitHash:     j.CommitHash,
		Status:         string(j.Status),
		Command:        j.Command,
		Message:        j.Message,
		Priority:       j.Priority,
		NumGPU:         j.NumGPU,
		RequiredLabels: j.RequiredLabels,
		Executor:       j.Executor,
		GPUIDs:         j.GPUIDs,
		Host:           j.Host,
		RunID:          j.RunID,
		ScheduleID:     j.ScheduleID,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func (h *JobHandler) GetByID(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errJobNotFound})
		return
	}

	job, err := h.uc.Get(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.Error("get job", "job_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	result, err := h.uc.List(ctx.Request.Context(), usecase.ListJobsInput{
		Status: domain.JobStatus(ctx.Query("status")),
		Cursor: ctx.Query("cursor"),
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStatus) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCursor})
			return
		}
		h.logger.Error("list jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]jobResponse, len(result.Jobs))
	for i, j := range result.Jobs {
		items[i] = toJobResponse(j)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"jobs":        items,
		"next_cursor": result.NextCursor,
	})
}

func (h *JobHandler) Cancel(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errJobNotFound})
		return
	}

	job, err := h.uc.Cancel(ctx.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		case errors.Is(err, domain.ErrInvalidStatus):
			ctx.JSON(http.StatusConflict, gin.H{"error": errJobTerminal})
		default:
			h.logger.Error("cancel job", "job_id", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, toJobResponse(job))
}
