// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph defines the knowledge-graph artifacts written next to
// generated documents and aggregates them into a project graph.
//
// Per-node graphs come from the LLM and are best-effort. Structural
// containment edges are always derived from the scanned tree instead.
package graph

import (
	"encoding/json"
	"fmt"
	"os"
)

// Node kinds produced by aggregation. LLM-produced nodes use their own
// kinds (class, function, method, ...).
const (
	KindFile      = "file"
	KindDirectory = "directory"

	EdgeContains = "contains"
	EdgeImports  = "imports"
)

// Node is one vertex of a knowledge graph.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Line  *int   `json:"line,omitempty"`
}

// Edge is one directed relation.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Import is one import declaration reported for a file or directory.
type Import struct {
	Module string   `json:"module"`
	Items  []string `json:"items"`
}

// Raw is the graph payload embedded in an LLM response.
type Raw struct {
	Nodes   []Node   `json:"nodes"`
	Edges   []Edge   `json:"edges"`
	Imports []Import `json:"imports"`
}

// FileGraph is the graph artifact of one source file.
type FileGraph struct {
	FilePath string   `json:"file_path"`
	FileID   string   `json:"file_id"`
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Imports  []Import `json:"imports"`
}

// DirGraph is the graph artifact of one directory.
type DirGraph struct {
	DirPath string   `json:"dir_path"`
	DirID   string   `json:"dir_id"`
	Nodes   []Node   `json:"nodes"`
	Edges   []Edge   `json:"edges"`
	Imports []Import `json:"imports"`
}

// ProjectGraph is the deduplicated union of every node graph plus the
// tree's containment structure.
type ProjectGraph struct {
	ProjectName string `json:"project_name"`
	FileCount   int    `json:"file_count"`
	Nodes       []Node `json:"nodes"`
	Edges       []Edge `json:"edges"`
	GeneratedAt string `json:"generated_at"`
}

// FileID is the graph id of a file node.
func FileID(rel string) string { return "file::" + rel }

// DirID is the graph id of a directory node. The root is "dir::".
func DirID(rel string) string { return "dir::" + rel }

// NewFileGraph wraps a raw LLM graph for the file at rel.
func NewFileGraph(rel string, raw Raw) FileGraph {
	return FileGraph{
		FilePath: rel,
		FileID:   FileID(rel),
		Nodes:    nonNil(raw.Nodes),
		Edges:    nonNil(raw.Edges),
		Imports:  nonNil(raw.Imports),
	}
}

// NewDirGraph wraps a raw LLM graph for the directory at rel.
func NewDirGraph(rel string, raw Raw) DirGraph {
	return DirGraph{
		DirPath: rel,
		DirID:   DirID(rel),
		Nodes:   nonNil(raw.Nodes),
		Edges:   nonNil(raw.Edges),
		Imports: nonNil(raw.Imports),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// LoadFileGraph reads a file graph artifact.
func LoadFileGraph(path string) (*FileGraph, error) {
	var g FileGraph
	if err := readJSON(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadDirGraph reads a directory graph artifact.
func LoadDirGraph(path string) (*DirGraph, error) {
	var g DirGraph
	if err := readJSON(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadProjectGraph reads the aggregated project graph.
func LoadProjectGraph(path string) (*ProjectGraph, error) {
	var g ProjectGraph
	if err := readJSON(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read graph %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse graph %s: %w", path, err)
	}
	return nil
}
