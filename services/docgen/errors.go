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

import "errors"

var (
	// ErrSourceRequired is returned when a start request has no source path.
	ErrSourceRequired = errors.New("source_path is required")

	// ErrRunNotFound is returned for an unknown run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunActive is returned when another run is already writing to the
	// same docs path.
	ErrRunActive = errors.New("a run is already active for this docs path")

	// ErrRunFinished is returned when cancelling a run that already ended.
	ErrRunFinished = errors.New("run already finished")

	// ErrGraphNotFound is returned when a requested graph artifact does
	// not exist.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrPathTraversal is returned when a graph query path escapes the
	// docs root.
	ErrPathTraversal = errors.New("path escapes docs root")

	// ErrNoLLMClient is returned when a run is started before an LLM
	// client was configured.
	ErrNoLLMClient = errors.New("no LLM client configured")

	// ErrShuttingDown is returned by StartRun after Shutdown began.
	ErrShuttingDown = errors.New("service is shutting down")
)
