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
	"github.com/AleutianAI/AleutianDocs/services/docgen/progress"
)

// StartRequest is the body of POST /v1/docgen/generate.
type StartRequest struct {
	// SourcePath is the directory to document.
	SourcePath string `json:"source_path" binding:"required"`

	// DocsPath is where artifacts are written. Default: <source>/.docs
	DocsPath string `json:"docs_path,omitempty"`

	// Resume reuses artifacts from an earlier run. Default: true
	Resume *bool `json:"resume,omitempty"`

	// Concurrency bounds simultaneous LLM calls. Clamped to [1,10];
	// zero selects the service default.
	Concurrency int `json:"concurrency,omitempty"`
}

// ShouldResume reports the effective resume flag.
func (r StartRequest) ShouldResume() bool {
	return r.Resume == nil || *r.Resume
}

// StartResponse is returned when a run is accepted.
type StartResponse struct {
	TaskID string          `json:"task_id"`
	Status progress.Status `json:"status"`
}

// CancelResponse is returned by POST /v1/docgen/tasks/:id/cancel.
type CancelResponse struct {
	TaskID string          `json:"task_id"`
	Status progress.Status `json:"status"`
}

// ListResponse is returned by GET /v1/docgen/tasks.
type ListResponse struct {
	Tasks []progress.RunState `json:"tasks"`
}

// GraphRequest is the body of POST /v1/docgen/graph.
type GraphRequest struct {
	DocsPath string `json:"docs_path" binding:"required"`
}

// FileGraphRequest is the body of POST /v1/docgen/file-graph.
type FileGraphRequest struct {
	DocsPath string `json:"docs_path" binding:"required"`
	FilePath string `json:"file_path" binding:"required"`
}

// DirGraphRequest is the body of POST /v1/docgen/dir-graph. An empty
// DirPath selects the root directory.
type DirGraphRequest struct {
	DocsPath string `json:"docs_path" binding:"required"`
	DirPath  string `json:"dir_path"`
}

// HealthResponse is the response for GET /v1/docgen/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /v1/docgen/ready.
type ReadyResponse struct {
	// Ready is true if the service accepts new runs.
	Ready bool `json:"ready"`

	// ActiveRuns is the number of runs still executing.
	ActiveRuns int `json:"active_runs"`

	// LLMConfigured is true once an LLM client is set.
	LLMConfigured bool `json:"llm_configured"`

	// StoreOK is true if run history is persisted.
	StoreOK bool `json:"store_ok"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
