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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all DocGen routes with the router.
//
// Description:
//
//	Registers all /v1/docgen/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Run Endpoints:
//
//	POST /v1/docgen/generate - Start a documentation run
//	GET  /v1/docgen/tasks - List runs, newest first
//	GET  /v1/docgen/tasks/:id - Get a run record
//	POST /v1/docgen/tasks/:id/cancel - Request cancellation
//	GET  /v1/docgen/ws/:id - WebSocket progress stream
//
// Graph Endpoints:
//
//	POST /v1/docgen/graph - Merged project graph
//	POST /v1/docgen/file-graph - Graph of one source file
//	POST /v1/docgen/dir-graph - Graph of one directory
//
// Health Endpoints:
//
//	GET  /v1/docgen/health - Health check
//	GET  /v1/docgen/ready - Readiness check
//
// Example:
//
//	service := docgen.NewService(docgen.DefaultServiceConfig())
//	handlers := docgen.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	docgen.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	docgen := rg.Group("/docgen")
	{
		docgen.POST("/generate", handlers.HandleGenerate)

		docgen.GET("/tasks", handlers.HandleListTasks)
		docgen.GET("/tasks/:id", handlers.HandleGetTask)
		docgen.POST("/tasks/:id/cancel", handlers.HandleCancelTask)
		docgen.GET("/ws/:id", handlers.HandleProgressStream)

		docgen.POST("/graph", handlers.HandleProjectGraph)
		docgen.POST("/file-graph", handlers.HandleFileGraph)
		docgen.POST("/dir-graph", handlers.HandleDirGraph)

		docgen.GET("/health", handlers.HandleHealth)
		docgen.GET("/ready", handlers.HandleReady)
	}
}
