// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork wraps transport failures reaching the provider.
	ErrNetwork = errors.New("llm network error")

	// ErrAPIStatus marks a non-success HTTP status from the provider.
	ErrAPIStatus = errors.New("llm api error")

	// ErrParse marks a malformed provider response.
	ErrParse = errors.New("llm response parse error")

	// ErrMissingAPIKey is returned by NewClient without a key.
	ErrMissingAPIKey = errors.New("llm api key is missing")

	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// APIError carries the status and body of a failed provider call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api returned status %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrAPIStatus) match any APIError.
func (e *APIError) Is(target error) bool {
	return target == ErrAPIStatus
}
