// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrNoChildDocs is returned by SummarizeDir when none of the
	// directory's children produced a readable document.
	ErrNoChildDocs = errors.New("directory has no child documents")

	// ErrNilClient is returned by NewGenerator without a chat client.
	ErrNilClient = errors.New("chat client must not be nil")
)

// GeneratorError ties an LLM or write failure to the node it happened on.
type GeneratorError struct {
	Path string
	Op   string
	Err  error
}

func (e *GeneratorError) Error() string {
	path := e.Path
	if path == "" {
		path = "<root>"
	}
	return fmt.Sprintf("%s %s: %v", e.Op, path, e.Err)
}

func (e *GeneratorError) Unwrap() error { return e.Err }
