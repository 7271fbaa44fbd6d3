// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree builds and holds the in-memory source tree that a
// documentation run walks.
//
// A tree is produced once by Scanner.Scan and then owned by a single run.
// Workers inside a run update node status through Tree, which guards the
// nodes with a read/write lock.
package tree

import (
	"strings"
	"sync"
)

// Status is the processing state of a single node.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Node is one file or directory in the scanned source tree.
//
// RelPath is relative to the scan root, uses forward slashes, and is
// empty for the root itself. Depth is 0 for the root and increases by
// one per level. File nodes never have children.
type Node struct {
	Name         string  `json:"name"`
	AbsPath      string  `json:"path"`
	RelPath      string  `json:"relative_path"`
	IsFile       bool    `json:"is_file"`
	Depth        int     `json:"depth"`
	Children     []*Node `json:"children,omitempty"`
	Status       Status  `json:"status"`
	ArtifactPath string  `json:"doc_path,omitempty"`
	SizeBytes    int64   `json:"size,omitempty"`
}

// FileCount returns the number of file nodes in the subtree rooted at n.
func (n *Node) FileCount() int {
	if n.IsFile {
		return 1
	}
	count := 0
	for _, c := range n.Children {
		count += c.FileCount()
	}
	return count
}

// DirCount returns the number of directories strictly below n.
func (n *Node) DirCount() int {
	count := 0
	for _, c := range n.Children {
		if !c.IsFile {
			count += 1 + c.DirCount()
		}
	}
	return count
}

// Walk visits n and every descendant in pre-order. Returning false from
// fn stops descent into that node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Files returns every file node in pre-order.
func (n *Node) Files() []*Node {
	var out []*Node
	n.Walk(func(x *Node) bool {
		if x.IsFile {
			out = append(out, x)
		}
		return true
	})
	return out
}

// Dirs returns every directory node, including n itself, in pre-order.
func (n *Node) Dirs() []*Node {
	var out []*Node
	n.Walk(func(x *Node) bool {
		if !x.IsFile {
			out = append(out, x)
		}
		return true
	})
	return out
}

// Find returns the node with the given relative path and kind, or nil.
func (n *Node) Find(relPath string, isFile bool) *Node {
	var found *Node
	n.Walk(func(x *Node) bool {
		if found != nil {
			return false
		}
		if x.RelPath == relPath && x.IsFile == isFile {
			found = x
			return false
		}
		return true
	})
	return found
}

// Structure renders the subtree as an indented outline, one entry per
// line, with a trailing slash on directories. The root itself is omitted.
func (n *Node) Structure() string {
	var b strings.Builder
	writeStructure(&b, n, 0)
	return b.String()
}

func writeStructure(b *strings.Builder, n *Node, indent int) {
	prefix := strings.Repeat("  ", indent)
	if n.IsFile {
		b.WriteString(prefix + n.Name + "\n")
		return
	}
	if indent > 0 {
		b.WriteString(prefix + n.Name + "/\n")
	}
	for _, c := range n.Children {
		writeStructure(b, c, indent+1)
	}
}

// ChildDoc is a direct child's name and generated artifact path.
type ChildDoc struct {
	Name         string
	RelPath      string
	IsFile       bool
	ArtifactPath string
}

// Tree guards a scanned node hierarchy for concurrent use by workers.
//
// Thread Safety: all methods are safe for concurrent use.
type Tree struct {
	mu   sync.RWMutex
	root *Node
}

// New wraps root for shared use. The caller must not mutate root
// directly afterwards.
func New(root *Node) *Tree {
	return &Tree{root: root}
}

// View runs fn with the tree read-locked. fn must not retain root.
func (t *Tree) View(fn func(root *Node)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(t.root)
}

// SetStatus updates the status of one node and, when artifact is not
// empty, its artifact path. Reports whether the node was found.
func (t *Tree) SetStatus(relPath string, isFile bool, status Status, artifact string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.root.Find(relPath, isFile)
	if n == nil {
		return false
	}
	n.Status = status
	if artifact != "" {
		n.ArtifactPath = artifact
	}
	return true
}

// ChildDocs returns the direct children of the directory at relPath that
// already have an artifact, in tree order.
func (t *Tree) ChildDocs(relPath string) []ChildDoc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dir := t.root.Find(relPath, false)
	if dir == nil {
		return nil
	}
	var out []ChildDoc
	for _, c := range dir.Children {
		if c.ArtifactPath == "" {
			continue
		}
		out = append(out, ChildDoc{
			Name:         c.Name,
			RelPath:      c.RelPath,
			IsFile:       c.IsFile,
			ArtifactPath: c.ArtifactPath,
		})
	}
	return out
}

// Documents returns the artifact path of every node that has one, in
// pre-order, keyed by relative path.
func (t *Tree) Documents() []ChildDoc {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []ChildDoc
	t.root.Walk(func(n *Node) bool {
		if n.ArtifactPath != "" {
			out = append(out, ChildDoc{Name: n.Name, RelPath: n.RelPath, IsFile: n.IsFile, ArtifactPath: n.ArtifactPath})
		}
		return true
	})
	return out
}
