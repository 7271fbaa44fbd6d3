// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocs/pkg/fsutil"
	"github.com/AleutianAI/AleutianDocs/services/docgen/layout"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
)

// ResolveImport maps an import module to a file node id. Relative
// modules (leading ".") cannot be resolved without the importer's
// language rules and yield ok=false.
func ResolveImport(module string) (string, bool) {
	if module == "" || strings.HasPrefix(module, ".") {
		return "", false
	}
	return FileID(strings.ReplaceAll(module, ".", "/")), true
}

// builder accumulates nodes and edges, keeping the first occurrence of
// each node id and each (source, target, type) edge.
type builder struct {
	nodes     []Node
	edges     []Edge
	seenNodes map[string]struct{}
	seenEdges map[string]struct{}
}

func newBuilder() *builder {
	return &builder{
		nodes:     []Node{},
		edges:     []Edge{},
		seenNodes: make(map[string]struct{}),
		seenEdges: make(map[string]struct{}),
	}
}

func (b *builder) addNode(n Node) {
	if _, ok := b.seenNodes[n.ID]; ok {
		return
	}
	b.seenNodes[n.ID] = struct{}{}
	b.nodes = append(b.nodes, n)
}

func (b *builder) addEdge(e Edge) {
	key := e.Source + "->" + e.Target + ":" + e.Type
	if _, ok := b.seenEdges[key]; ok {
		return
	}
	b.seenEdges[key] = struct{}{}
	b.edges = append(b.edges, e)
}

func (b *builder) addImports(from string, imports []Import) {
	for _, imp := range imports {
		if target, ok := ResolveImport(imp.Module); ok {
			b.addEdge(Edge{Source: from, Target: target, Type: EdgeImports})
		}
	}
}

// addStructure emits a directory node per directory and a "contains"
// edge to each direct child.
func (b *builder) addStructure(n *tree.Node) {
	if n.IsFile {
		return
	}
	id := DirID(n.RelPath)
	b.addNode(Node{ID: id, Label: n.Name, Type: KindDirectory})
	for _, c := range n.Children {
		target := DirID(c.RelPath)
		if c.IsFile {
			target = FileID(c.RelPath)
		}
		b.addEdge(Edge{Source: id, Target: target, Type: EdgeContains})
		b.addStructure(c)
	}
}

// Aggregator merges the per-node graph artifacts under a docs root.
type Aggregator struct {
	layout layout.Layout
	logger *slog.Logger
}

// NewAggregator returns an Aggregator reading from l.Root.
func NewAggregator(l layout.Layout, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{layout: l, logger: logger}
}

// Aggregate builds the project graph.
//
// Description:
//
//	Reads every *.graph.json artifact below the docs root in lexical
//	order. Directory graphs contribute a directory node, file graphs a
//	file node; both contribute their LLM nodes, edges and resolvable
//	imports. Containment edges from root are added last. Unreadable
//	artifacts are logged and skipped.
//
// Inputs:
//
//	root        - Scanned source tree, used for containment structure.
//	projectName - Label of the root directory node.
//	now         - Generation timestamp.
//
// Outputs:
//
//	*ProjectGraph - Deduplicated graph. Never nil on success.
//
// Errors:
//
//	Returns an error only when the docs root cannot be walked.
func (a *Aggregator) Aggregate(root *tree.Node, projectName string, now time.Time) (*ProjectGraph, error) {
	paths, err := a.collect()
	if err != nil {
		return nil, err
	}

	b := newBuilder()
	fileCount := 0
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			a.logger.Warn("Failed to read graph artifact", "path", p, "error", err)
			continue
		}
		if filepath.Base(p) == layout.DirGraphName {
			var g DirGraph
			if err := json.Unmarshal(data, &g); err != nil {
				a.logger.Warn("Failed to parse directory graph", "path", p, "error", err)
				continue
			}
			label := lastSegment(g.DirPath)
			if label == "" {
				label = projectName
			}
			b.addNode(Node{ID: g.DirID, Label: label, Type: KindDirectory})
			a.merge(b, g.DirID, g.Nodes, g.Edges, g.Imports)
			continue
		}

		var g FileGraph
		if err := json.Unmarshal(data, &g); err != nil {
			a.logger.Warn("Failed to parse file graph", "path", p, "error", err)
			continue
		}
		fileCount++
		b.addNode(Node{ID: g.FileID, Label: lastSegment(g.FilePath), Type: KindFile})
		a.merge(b, g.FileID, g.Nodes, g.Edges, g.Imports)
	}

	if root != nil {
		b.addStructure(root)
	}

	return &ProjectGraph{
		ProjectName: projectName,
		FileCount:   fileCount,
		Nodes:       b.nodes,
		Edges:       b.edges,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}, nil
}

func (a *Aggregator) merge(b *builder, owner string, nodes []Node, edges []Edge, imports []Import) {
	for _, n := range nodes {
		b.addNode(n)
	}
	for _, e := range edges {
		b.addEdge(e)
	}
	b.addImports(owner, imports)
}

func (a *Aggregator) collect() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(a.layout.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), layout.GraphExt) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk graph artifacts in %s: %w", a.layout.Root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Write stores g as indented JSON at the layout's project graph path.
func (a *Aggregator) Write(g *ProjectGraph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project graph: %w", err)
	}
	if err := fsutil.WriteFileAtomic(a.layout.ProjectGraph(), data, 0o644); err != nil {
		return fmt.Errorf("write project graph: %w", err)
	}
	return nil
}

func lastSegment(rel string) string {
	rel = strings.TrimSuffix(rel, "/")
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
