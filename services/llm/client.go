// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides streaming chat-completion clients for the
// documentation generator.
//
// Two wire formats are supported: OpenAI-compatible chat completions and
// Anthropic messages. NewClient picks one from the model name. Callers
// that only need the final text use Collect.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Role values for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single completion. Nil fields use the
// provider's defaults.
type GenerationParams struct {
	// Model overrides the client's configured model for this call.
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Delta is one streamed fragment. A Delta with a non-nil Err is the last
// value sent before the channel closes.
type Delta struct {
	Text string
	Err  error
}

// ChatClient streams a chat completion.
//
// Stream returns an error only when the request cannot be started. Errors
// that happen mid-stream arrive as a final Delta with Err set. The
// channel is always closed when the stream ends.
type ChatClient interface {
	Stream(ctx context.Context, messages []Message, params GenerationParams) (<-chan Delta, error)
}

// Collect drains a stream into a single string.
//
// Description:
//
//	Starts a stream and concatenates every delta. The first mid-stream
//	error aborts collection.
//
// Inputs:
//
//	ctx - Cancellation for the request.
//	client - The chat client.
//	messages - Conversation to send.
//	params - Generation options.
//
// Outputs:
//
//	string - The accumulated response text.
//	error - ErrNetwork, ErrAPIStatus or ErrParse (wrapped), or ctx.Err().
func Collect(ctx context.Context, client ChatClient, messages []Message, params GenerationParams) (string, error) {
	ch, err := client.Stream(ctx, messages, params)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for d := range ch {
		if d.Err != nil {
			for range ch {
			}
			return "", d.Err
		}
		b.WriteString(d.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Config selects and configures a ChatClient.
type Config struct {
	// Provider forces "openai" or "anthropic". Empty detects from Model.
	Provider string `yaml:"provider" json:"provider"`

	// APIKey authenticates requests. It is moved into protected memory
	// by NewClient.
	APIKey string `yaml:"api_key" json:"-"`

	// BaseURL of the provider. Default: https://api.openai.com
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Model is the default model name. Default: gpt-4o
	Model string `yaml:"model" json:"model"`

	// Timeout bounds one whole request including streaming.
	// Default: 5m
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// RequestsPerSecond throttles calls. Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// Burst is the rate limiter bucket size. Default: 1
	Burst int `yaml:"burst" json:"burst"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.openai.com",
		Model:   "gpt-4o",
		Timeout: 5 * time.Minute,
		Burst:   1,
	}
}

// NewClient builds the ChatClient described by cfg, wrapped with tracing
// and, when configured, rate limiting.
func NewClient(cfg Config) (ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	format := DetectFormat(cfg.Model)
	switch strings.ToLower(cfg.Provider) {
	case "":
	case "openai":
		format = FormatOpenAI
	case "anthropic":
		format = FormatAnthropic
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}

	var client ChatClient
	switch format {
	case FormatAnthropic:
		client = NewAnthropicClient(cfg)
	default:
		client = NewOpenAIClient(cfg)
	}
	slog.Info("Initialized LLM client", "format", format.String(), "model", cfg.Model)

	client = Instrument(client, format.String(), cfg.Model)
	if cfg.RequestsPerSecond > 0 {
		client = NewRateLimited(client, cfg.RequestsPerSecond, cfg.Burst)
	}
	return client, nil
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
