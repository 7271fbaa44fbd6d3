// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layout derives artifact paths under a documentation root.
//
// Every path is a pure function of a node's relative path, so a restarted
// run finds the artifacts an earlier run wrote.
package layout

import (
	"path/filepath"
)

const (
	DocExt           = ".md"
	GraphExt         = ".graph.json"
	DirSummaryName   = "_dir_summary.md"
	DirGraphName     = "_dir.graph.json"
	ReadmeName       = "README.md"
	ReadingGuideName = "READING_GUIDE.md"
	APIDocName       = "API_DOC.md"
	ProjectGraphName = "_project_graph.json"
	CheckpointName   = ".checkpoint.json"

	// DefaultDocsDirName is created inside the source tree when no docs
	// path is given.
	DefaultDocsDirName = ".docs"
)

// Layout maps node relative paths to files under Root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at docsRoot.
func New(docsRoot string) Layout {
	return Layout{Root: docsRoot}
}

// DefaultDocsPath returns the docs root used for source when the caller
// did not choose one.
func DefaultDocsPath(source string) string {
	return filepath.Join(source, DefaultDocsDirName)
}

// FileDoc is <root>/<rel>.md.
func (l Layout) FileDoc(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel)+DocExt)
}

// DirDoc is <root>/<rel>/_dir_summary.md, or <root>/_dir_summary.md for
// the tree root.
func (l Layout) DirDoc(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel), DirSummaryName)
}

// FileGraph is <root>/<rel>.graph.json.
func (l Layout) FileGraph(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel)+GraphExt)
}

// DirGraph is <root>/<rel>/_dir.graph.json.
func (l Layout) DirGraph(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel), DirGraphName)
}

func (l Layout) Readme() string       { return filepath.Join(l.Root, ReadmeName) }
func (l Layout) ReadingGuide() string { return filepath.Join(l.Root, ReadingGuideName) }
func (l Layout) ProjectGraph() string { return filepath.Join(l.Root, ProjectGraphName) }
func (l Layout) Checkpoint() string   { return filepath.Join(l.Root, CheckpointName) }

// IsReserved reports whether name is a roll-up or bookkeeping file rather
// than a per-node document.
func IsReserved(name string) bool {
	switch name {
	case DirSummaryName, ReadmeName, ReadingGuideName, APIDocName, CheckpointName:
		return true
	}
	return false
}
