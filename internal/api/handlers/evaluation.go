package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LoveACE-Team/LoveACE/internal/api/middleware"
	"github.com/LoveACE-Team/LoveACE/internal/evaluation"
)

type EvaluationHandler struct {
	controller *evaluation.Controller
	logger     *slog.Logger
}

func NewEvaluationHandler(controller *evaluation.Controller, logger *slog.Logger) *EvaluationHandler {
	return &EvaluationHandler{controller: controller, logger: logger}
}

// PostInit starts (or re-joins) the evaluation task for the authenticated
// principal.
// POST /v1/evaluation
func (h *EvaluationHandler) PostInit(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	snap, err := h.controller.Init(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, evaluation.ErrDiscoveryFailed) {
			h.logger.Warn("evaluation init failed", "principal", userID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "course discovery failed",
				"task":  snap,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetTask returns the task snapshot.
// GET /v1/evaluation/:id
func (h *EvaluationHandler) GetTask(c *gin.Context) {
	h.withTask(c, h.controller.Status)
}

// PostPause requests a pause at the next course boundary.
// POST /v1/evaluation/:id/pause
func (h *EvaluationHandler) PostPause(c *gin.Context) {
	h.withTask(c, h.controller.Pause)
}

// PostResume restarts a paused task.
// POST /v1/evaluation/:id/resume
func (h *EvaluationHandler) PostResume(c *gin.Context) {
	h.withTask(c, h.controller.Resume)
}

// PostTerminate stops the task promptly.
// POST /v1/evaluation/:id/terminate
func (h *EvaluationHandler) PostTerminate(c *gin.Context) {
	h.withTask(c, h.controller.Terminate)
}

// withTask runs a controller operation for the authenticated principal. The
// task id in the path must match the live task before the operation runs;
// a mismatched id on a state-changing request is a pure 404.
func (h *EvaluationHandler) withTask(c *gin.Context, op func(ctx context.Context, principal string) (evaluation.Snapshot, error)) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if id := c.Param("id"); id != "" {
		current, err := h.controller.Status(c.Request.Context(), userID)
		switch {
		case errors.Is(err, evaluation.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no evaluation task"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			return
		case id != current.TaskID:
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown task id"})
			return
		}
	}

	snap, err := op(c.Request.Context(), userID)
	switch {
	case errors.Is(err, evaluation.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no evaluation task"})
	case errors.Is(err, evaluation.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	default:
		c.JSON(http.StatusOK, snap)
	}
}
