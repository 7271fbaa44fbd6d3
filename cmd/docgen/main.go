// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command docgen generates LLM documentation for a source tree.
//
// Usage:
//
//	docgen generate ./myproject
//	docgen generate ./myproject --docs ./docs --no-resume -c 5
//	docgen graph ./myproject/.docs --file pkg/server.go
//	docgen serve
//
// Example requests against the server:
//
//	# Start a run
//	curl -X POST http://localhost:8090/v1/docgen/generate \
//	  -H "Content-Type: application/json" \
//	  -d '{"source_path": "/path/to/project"}'
//
//	# Follow progress
//	websocat ws://localhost:8090/v1/docgen/ws/<task_id>
//
// Configuration is read from ~/.aleutian/docgen.yaml, created with
// defaults on first run. OPENAI_API_KEY, ANTHROPIC_API_KEY and
// DOCGEN_MODEL override the file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	// API keys live in memguard enclaves; wipe them on every exit path.
	defer memguard.Purge()

	root := newRootCmd(&app{stdout: os.Stdout, stderr: os.Stderr})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		memguard.SafeExit(1)
	}
}
