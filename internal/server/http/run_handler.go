package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/orchestrator"
	"github.com/beam-me/core/internal/utils/id"
)

var errUnknownRun = errors.New("unknown run")

// RunHandler drives the orchestrator.
type RunHandler struct {
	runner Runner
	runs   *RunRegistry
	logger logging.Logger
}

type startRunRequest struct {
	ProblemDescription string `json:"problem_description"`
}

type continueRunRequest struct {
	RunID              string         `json:"run_id"`
	ProblemDescription string         `json:"problem_description"`
	Inputs             map[string]any `json:"inputs"`
}

// Start handles POST /run/start.
func (h *RunHandler) Start(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	objective := strings.TrimSpace(req.ProblemDescription)
	if objective == "" {
		writeError(c, h.logger, http.StatusBadRequest, "problem_description is required", nil)
		return
	}
	h.run(c, orchestrator.Request{RunID: id.NewRunID(), Objective: objective})
}

// Continue handles POST /run/continue. The objective may be omitted when the
// run is still in the registry.
func (h *RunHandler) Continue(c *gin.Context) {
	var req continueRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		writeError(c, h.logger, http.StatusBadRequest, "run_id is required", nil)
		return
	}
	objective := strings.TrimSpace(req.ProblemDescription)
	if objective == "" {
		record, ok := h.runs.Get(runID)
		if !ok {
			writeError(c, h.logger, http.StatusNotFound, "run not found; resend problem_description", errUnknownRun)
			return
		}
		objective = record.Objective
	}
	h.run(c, orchestrator.Request{RunID: runID, Objective: objective, Inputs: req.Inputs})
}

// Get handles GET /run/:runId.
func (h *RunHandler) Get(c *gin.Context) {
	record, ok := h.runs.Get(c.Param("runId"))
	if !ok {
		writeError(c, h.logger, http.StatusNotFound, "run not found", nil)
		return
	}
	c.JSON(http.StatusOK, record.Message)
}

func (h *RunHandler) run(c *gin.Context, req orchestrator.Request) {
	if h.runner == nil {
		writeError(c, h.logger, http.StatusServiceUnavailable, "orchestrator not configured", nil)
		return
	}
	msg := h.runner.Run(c.Request.Context(), req)
	h.runs.Put(req.Objective, msg)
	c.JSON(http.StatusOK, msg)
}
