// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides a scripted llm.ChatClient for tests.
package llmtest

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocs/services/llm"
)

// Call records one Stream invocation.
type Call struct {
	Messages []llm.Message
	Params   llm.GenerationParams
}

// Prompt returns the content of the last message of the call.
func (c Call) Prompt() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Content
}

// FakeClient answers every Stream call with Respond and records calls.
//
// Thread Safety: safe for concurrent use.
type FakeClient struct {
	// Respond produces the full response text for a call. It may block.
	Respond func(ctx context.Context, call Call) (string, error)

	// Delay is slept before Respond is called.
	Delay time.Duration

	// ChunkSize splits the response into deltas. Default: 16
	ChunkSize int

	mu          sync.Mutex
	calls       []Call
	inflight    int
	maxInflight int
}

// New returns a FakeClient that answers every call with text.
func New(text string) *FakeClient {
	return &FakeClient{Respond: func(context.Context, Call) (string, error) { return text, nil }}
}

// Stream implements llm.ChatClient.
func (f *FakeClient) Stream(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (<-chan llm.Delta, error) {
	call := Call{Messages: append([]llm.Message(nil), messages...), Params: params}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	done := func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			done()
			return nil, ctx.Err()
		}
	}
	text, err := f.Respond(ctx, call)
	if err != nil {
		done()
		return nil, err
	}

	size := f.ChunkSize
	if size <= 0 {
		size = 16
	}
	out := make(chan llm.Delta)
	go func() {
		defer close(out)
		defer done()
		for len(text) > 0 {
			n := size
			if n > len(text) {
				n = len(text)
			}
			select {
			case out <- llm.Delta{Text: text[:n]}:
			case <-ctx.Done():
				return
			}
			text = text[n:]
		}
	}()
	return out, nil
}

// Calls returns a copy of every recorded call.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns the number of Stream calls so far.
func (f *FakeClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// MaxConcurrent returns the highest number of simultaneously open calls.
func (f *FakeClient) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}
