// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docgen

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
)

// Handlers contains the HTTP handlers for DocGen.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleGenerate handles POST /v1/docgen/generate.
//
// Description:
//
//	Starts a documentation run in the background and returns its ID.
//	Progress is available from GET /v1/docgen/tasks/:id and the
//	WebSocket stream at /v1/docgen/ws/:id.
//
// Request Body:
//
//	StartRequest
//
// Response:
//
//	202 Accepted: StartResponse
//	400 Bad Request: Invalid body, or source path is not a directory
//	404 Not Found: Source path does not exist
//	409 Conflict: Another run is writing to the same docs path
//	503 Service Unavailable: No LLM client, or shutting down
func (h *Handlers) HandleGenerate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGenerate")

	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	run, err := h.svc.StartRun(c.Request.Context(), req)
	if err != nil {
		status, code := startErrorStatus(err)
		logger.Warn("Failed to start run", "source_path", req.SourcePath, "error", err)
		c.JSON(status, ErrorResponse{
			Error: err.Error(),
			Code:  code,
		})
		return
	}

	logger.Info("Run accepted", "run_id", run.ID, "source_path", run.SourcePath)
	c.JSON(http.StatusAccepted, StartResponse{
		TaskID: run.ID,
		Status: run.Snapshot().Status,
	})
}

func startErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSourceRequired):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, tree.ErrPathNotFound):
		return http.StatusNotFound, "PATH_NOT_FOUND"
	case errors.Is(err, tree.ErrNotADirectory):
		return http.StatusBadRequest, "NOT_A_DIRECTORY"
	case errors.Is(err, ErrRunActive):
		return http.StatusConflict, "RUN_ACTIVE"
	case errors.Is(err, ErrNoLLMClient):
		return http.StatusServiceUnavailable, "LLM_NOT_CONFIGURED"
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	}
	return http.StatusInternalServerError, "START_FAILED"
}

// HandleGetTask handles GET /v1/docgen/tasks/:id.
//
// Response:
//
//	200 OK: progress.RunState
//	404 Not Found: Unknown run
func (h *Handlers) HandleGetTask(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetTask")

	id := c.Param("id")
	st, err := h.svc.Status(c.Request.Context(), id)
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Task not found",
			Code:  "TASK_NOT_FOUND",
		})
		return
	}
	if err != nil {
		logger.Error("Failed to load task", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleListTasks handles GET /v1/docgen/tasks.
func (h *Handlers) HandleListTasks(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListTasks")

	runs, err := h.svc.List(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list tasks", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, ListResponse{Tasks: runs})
}

// HandleCancelTask handles POST /v1/docgen/tasks/:id/cancel.
//
// Response:
//
//	200 OK: CancelResponse
//	404 Not Found: Unknown run
//	409 Conflict: Run already finished
func (h *Handlers) HandleCancelTask(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCancelTask")

	id := c.Param("id")
	st, err := h.svc.Cancel(c.Request.Context(), id)
	switch {
	case errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "Task not found",
			Code:  "TASK_NOT_FOUND",
		})
		return
	case errors.Is(err, ErrRunFinished):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "Task already finished",
			Code:    "TASK_FINISHED",
			Details: string(st.Status),
		})
		return
	case err != nil:
		logger.Error("Failed to cancel task", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "CANCEL_FAILED",
		})
		return
	}

	logger.Info("Task cancellation requested", "run_id", id)
	c.JSON(http.StatusOK, CancelResponse{TaskID: id, Status: st.Status})
}

// HandleProjectGraph handles POST /v1/docgen/graph.
func (h *Handlers) HandleProjectGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleProjectGraph")

	var req GraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	g, err := h.svc.ProjectGraph(req.DocsPath)
	if err != nil {
		writeGraphError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// HandleFileGraph handles POST /v1/docgen/file-graph.
func (h *Handlers) HandleFileGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleFileGraph")

	var req FileGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	g, err := h.svc.FileGraph(req.DocsPath, req.FilePath)
	if err != nil {
		writeGraphError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// HandleDirGraph handles POST /v1/docgen/dir-graph.
func (h *Handlers) HandleDirGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDirGraph")

	var req DirGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	g, err := h.svc.DirGraph(req.DocsPath, req.DirPath)
	if err != nil {
		writeGraphError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func writeGraphError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ErrPathTraversal):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PATH",
		})
	case errors.Is(err, ErrGraphNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Graph not found",
			Code:    "GRAPH_NOT_FOUND",
			Details: err.Error(),
		})
	default:
		logger.Error("Failed to read graph", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "GRAPH_READ_FAILED",
		})
	}
}

// HandleHealth handles GET /v1/docgen/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/docgen/ready.
//
// Response:
//
//	200 OK: ReadyResponse with Ready=true
//	503 Service Unavailable: ReadyResponse with Ready=false
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		Ready:         h.svc.LLMConfigured(),
		ActiveRuns:    h.svc.ActiveRuns(),
		LLMConfigured: h.svc.LLMConfigured(),
		StoreOK:       h.svc.StoreOK(),
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
