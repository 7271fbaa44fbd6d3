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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		model string
		want  Format
	}{
		{"gpt-4o", FormatOpenAI},
		{"claude-3-5-sonnet-20240620", FormatAnthropic},
		{"Anthropic/CLAUDE-opus", FormatAnthropic},
		{"deepseek-chat", FormatOpenAI},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.model))
		})
	}
}

func TestEndpointNormalization(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1", OpenAIBaseURL("https://api.openai.com/"))
	assert.Equal(t, "https://host/v1", OpenAIBaseURL("https://host/v1"))
	assert.Equal(t, "https://host/v1", OpenAIBaseURL("https://host//v1/chat/completions"))
	assert.Equal(t, "https://api.anthropic.com/v1/messages", AnthropicEndpoint("https://api.anthropic.com"))
	assert.Equal(t, "https://host/v1/messages", AnthropicEndpoint("https://host/v1/"))
	assert.Equal(t, "https://host/v1/messages", AnthropicEndpoint("https://host/v1/messages"))
}

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient(Config{Model: "gpt-4o"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewClient(Config{APIKey: "k", Provider: "bard"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func sseServer(t *testing.T, check func(r *http.Request), events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClient_StreamCollect(t *testing.T) {
	chunk := func(s string) string {
		b, _ := json.Marshal(map[string]any{
			"id":      "c1",
			"object":  "chat.completion.chunk",
			"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": s}}},
		})
		return string(b)
	}
	var gotAuth string
	var gotBody map[string]any
	srv := sseServer(t, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
	}, chunk("Hello, "), chunk("world"), "[DONE]")

	client := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o", Timeout: 5 * time.Second})
	text, err := Collect(context.Background(), client, []Message{{Role: RoleUser, Content: "hi"}},
		GenerationParams{Temperature: Float32(0.3), MaxTokens: Int(8192)})

	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.EqualValues(t, 8192, gotBody["max_tokens"])
}

func TestOpenAIClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "gpt-4o", Timeout: 5 * time.Second})
	_, err := Collect(context.Background(), client, []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPIStatus)
}

func TestAnthropicClient_StreamCollect(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody anthropicRequest
	srv := sseServer(t, func(r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
	},
		`{"type":"message_start"}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"Doc "}}`,
		`{"type":"content_block_delta","delta":{"type":"text_delta","text":"body"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		`{"type":"message_stop"}`,
	)

	client := NewAnthropicClient(Config{APIKey: "ak-test", BaseURL: srv.URL, Model: "claude-3-5-sonnet", Timeout: 5 * time.Second})
	text, err := Collect(context.Background(), client, []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "document this"},
	}, GenerationParams{MaxTokens: Int(16384)})

	require.NoError(t, err)
	assert.Equal(t, "Doc body", text)
	assert.Equal(t, "ak-test", gotKey)
	assert.Equal(t, anthropicAPIVersion, gotVersion)
	assert.Equal(t, "be terse", gotBody.System)
	assert.Equal(t, 16384, gotBody.MaxTokens)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, RoleUser, gotBody.Messages[0].Role)
}

func TestAnthropicClient_ErrorEvent(t *testing.T) {
	srv := sseServer(t, nil, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	client := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "claude", Timeout: 5 * time.Second})

	_, err := Collect(context.Background(), client, []Message{{Role: RoleUser, Content: "x"}}, GenerationParams{})
	assert.ErrorIs(t, err, ErrAPIStatus)
}

func TestAnthropicClient_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	client := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "claude", Timeout: 5 * time.Second})

	_, err := client.Stream(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, GenerationParams{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

type staticClient struct{ calls int }

func (s *staticClient) Stream(ctx context.Context, _ []Message, _ GenerationParams) (<-chan Delta, error) {
	s.calls++
	ch := make(chan Delta, 1)
	ch <- Delta{Text: "ok"}
	close(ch)
	return ch, nil
}

func TestRateLimited_ThrottlesStarts(t *testing.T) {
	inner := &staticClient{}
	client := NewRateLimited(inner, 20, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := Collect(context.Background(), client, nil, GenerationParams{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRateLimited_ContextCancelled(t *testing.T) {
	client := NewRateLimited(&staticClient{}, 0.001, 1)
	_, err := Collect(context.Background(), client, nil, GenerationParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Stream(ctx, nil, GenerationParams{})
	assert.Error(t, err)
}

func TestInstrumented_PassesThrough(t *testing.T) {
	client := Instrument(&staticClient{}, "openai", "gpt-4o")
	text, err := Collect(context.Background(), client, nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}
