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
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles how often streams are started on the wrapped
// client. Running streams are not affected.
//
// Thread Safety: safe for concurrent use.
type RateLimited struct {
	next    ChatClient
	limiter *rate.Limiter
}

// NewRateLimited allows rps stream starts per second with the given burst.
func NewRateLimited(next ChatClient, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Stream waits for a token, then delegates.
func (r *RateLimited) Stream(ctx context.Context, messages []Message, params GenerationParams) (<-chan Delta, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Stream(ctx, messages, params)
}
