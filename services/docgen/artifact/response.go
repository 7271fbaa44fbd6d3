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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianDocs/services/docgen/graph"
)

const (
	GraphStartMarker = "<!-- GRAPH_DATA_START -->"
	GraphEndMarker   = "<!-- GRAPH_DATA_END -->"
)

// SplitResponse separates an LLM response into document text and the
// embedded graph payload.
//
// Description:
//
//	Text outside the marker pair is the document. The section between
//	the markers is unwrapped from a ```json fence, a plain ``` fence, or
//	the outermost braces, in that order, and decoded as graph.Raw.
//
// Outputs:
//
//	doc      - Document text. The full response when no graph was decoded.
//	raw      - Decoded graph, or nil.
//	parseErr - Why a present graph section was not decoded. Callers log it;
//	           it never fails the node.
func SplitResponse(response string) (doc string, raw *graph.Raw, parseErr error) {
	start := strings.Index(response, GraphStartMarker)
	end := strings.Index(response, GraphEndMarker)
	if start < 0 || end < 0 || start >= end {
		return response, nil, nil
	}

	section := response[start+len(GraphStartMarker) : end]
	payload, ok := extractJSON(section)
	if !ok {
		return response, nil, fmt.Errorf("no JSON object between graph markers")
	}

	var g graph.Raw
	if err := json.Unmarshal([]byte(payload), &g); err != nil {
		return response, nil, fmt.Errorf("decode graph JSON: %w", err)
	}

	before := strings.TrimRight(response[:start], " \t\r\n")
	after := strings.TrimLeft(response[end+len(GraphEndMarker):], " \t\r\n")
	if after != "" {
		before += "\n\n" + after
	}
	return before, &g, nil
}

func extractJSON(section string) (string, bool) {
	s := strings.TrimSpace(section)

	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j]), true
		}
	}

	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			body := rest[:j]
			if k := strings.Index(body, "{"); k >= 0 {
				body = body[k:]
			}
			return strings.TrimSpace(body), true
		}
	}

	i := strings.Index(s, "{")
	j := strings.LastIndex(s, "}")
	if i >= 0 && j > i {
		return s[i : j+1], true
	}
	return "", false
}
