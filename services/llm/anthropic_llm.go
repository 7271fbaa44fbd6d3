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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	defaultAnthropicBaseURL = "https://api.anthropic.com"

	// anthropicDefaultMaxTokens is sent when the caller sets no limit;
	// the messages API requires one.
	anthropicDefaultMaxTokens = 4096
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicEvent is one SSE data payload from the messages stream.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicClient streams completions from the Anthropic messages API.
type AnthropicClient struct {
	httpClient *http.Client
	endpoint   string
	model      string
}

// NewAnthropicClient creates a client for cfg. A base URL still pointing
// at the OpenAI default is replaced by the Anthropic one.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	base := cfg.BaseURL
	if base == "" || base == DefaultConfig().BaseURL {
		base = defaultAnthropicBaseURL
	}
	return &AnthropicClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &keyTransport{
				enclave: sealKey(cfg.APIKey),
				header:  "x-api-key",
			},
		},
		endpoint: AnthropicEndpoint(base),
		model:    cfg.Model,
	}
}

// Stream implements ChatClient.
func (a *AnthropicClient) Stream(ctx context.Context, messages []Message, params GenerationParams) (<-chan Delta, error) {
	payload := anthropicRequest{
		Model:       a.model,
		MaxTokens:   anthropicDefaultMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		StopSeqs:    params.Stop,
		Stream:      true,
	}
	if params.Model != "" {
		payload.Model = params.Model
	}
	if params.MaxTokens != nil {
		payload.MaxTokens = *params.MaxTokens
	}

	// System turns go in the top-level field.
	var system []string
	for _, m := range messages {
		if strings.EqualFold(m.Role, RoleSystem) {
			system = append(system, m.Content)
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	payload.System = strings.Join(system, "\n\n")

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "text/event-stream")

	slog.Debug("Sending streaming request to Anthropic", "model", payload.Model)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readAnthropicStream(ctx, resp.Body, out)
	}()
	return out, nil
}

// readAnthropicStream parses SSE lines from r until message_stop, EOF, or
// an error event.
func readAnthropicStream(ctx context.Context, r io.Reader, out chan<- Delta) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			slog.Debug("Skipping unparseable Anthropic event", "error", err)
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta != nil && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				if !send(ctx, out, Delta{Text: ev.Delta.Text}) {
					return
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				slog.Debug("Anthropic stream stopping", "stop_reason", ev.Delta.StopReason)
			}
		case "message_stop":
			return
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			send(ctx, out, Delta{Err: fmt.Errorf("%w: %s", ErrAPIStatus, msg)})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(ctx, out, Delta{Err: fmt.Errorf("%w: read stream: %v", ErrNetwork, err)})
	}
}
