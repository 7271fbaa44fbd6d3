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

import "strings"

// Format is a provider wire format.
type Format int

const (
	FormatOpenAI Format = iota
	FormatAnthropic
)

func (f Format) String() string {
	if f == FormatAnthropic {
		return "anthropic"
	}
	return "openai"
}

// DetectFormat picks the wire format from a model name. Claude models use
// the Anthropic format; everything else is treated as OpenAI-compatible.
func DetectFormat(model string) Format {
	if strings.Contains(strings.ToLower(model), "claude") {
		return FormatAnthropic
	}
	return FormatOpenAI
}

// normalizeBaseURL trims trailing slashes and collapses doubled slashes
// after the scheme.
func normalizeBaseURL(base string) string {
	url := strings.TrimRight(strings.TrimSpace(base), "/")
	if i := strings.Index(url, "://"); i >= 0 {
		scheme, rest := url[:i+3], url[i+3:]
		for strings.Contains(rest, "//") {
			rest = strings.ReplaceAll(rest, "//", "/")
		}
		url = scheme + rest
	}
	return url
}

// OpenAIBaseURL returns the ".../v1" prefix the OpenAI SDK expects.
func OpenAIBaseURL(base string) string {
	url := strings.TrimSuffix(normalizeBaseURL(base), "/chat/completions")
	if strings.HasSuffix(url, "/v1") {
		return url
	}
	return url + "/v1"
}

// AnthropicEndpoint returns the full messages endpoint for base.
func AnthropicEndpoint(base string) string {
	url := normalizeBaseURL(base)
	switch {
	case strings.HasSuffix(url, "/messages"):
		return url
	case strings.HasSuffix(url, "/v1"):
		return url + "/messages"
	default:
		return url + "/v1/messages"
	}
}
