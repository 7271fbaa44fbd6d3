// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint records which nodes of a documentation run already
// have valid artifacts, so an interrupted run can resume.
//
// The record is a single JSON file under the docs root, rewritten whole on
// every Save. Completion is always confirmed against the filesystem: an
// entry whose artifact has disappeared is evicted and the node is redone.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianDocs/pkg/fsutil"
	"github.com/AleutianAI/AleutianDocs/services/docgen/layout"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
)

// ErrCorruptRecord is returned by Load when the checkpoint file exists
// but cannot be parsed.
var ErrCorruptRecord = errors.New("corrupt checkpoint record")

// Record is the persisted form of a checkpoint.
type Record struct {
	CompletedFiles        []string `json:"completed_files"`
	CompletedDirs         []string `json:"completed_dirs"`
	ReadmeCompleted       bool     `json:"readme_completed"`
	ReadingGuideCompleted bool     `json:"reading_guide_completed"`
	ProjectGraphCompleted bool     `json:"project_graph_completed"`
}

// Store is the in-memory checkpoint for one docs root.
//
// Thread Safety: all methods are safe for concurrent use; every access
// takes the store's own mutex.
type Store struct {
	mu     sync.Mutex
	layout layout.Layout
	logger *slog.Logger

	files map[string]struct{}
	dirs  map[string]struct{}

	readmeDone       bool
	readingGuideDone bool
	projectGraphDone bool

	// docPaths maps "file:<rel>" and "dir:<rel>" to artifact paths. It is
	// rebuilt from disk and never persisted.
	docPaths map[string]string
}

// New creates an empty Store for the docs root described by l.
func New(l layout.Layout, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		layout:   l,
		logger:   logger,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		docPaths: make(map[string]string),
	}
}

// Init creates the docs root if it does not exist.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.layout.Root, 0o755); err != nil {
		return fmt.Errorf("create docs root %s: %w", s.layout.Root, err)
	}
	return nil
}

// Load reads the checkpoint file.
//
// Description:
//
//	Replaces the in-memory sets with the persisted record. A missing
//	file is not an error.
//
// Outputs:
//
//	bool - True if a record existed and was parsed.
//	error - Read failures, or ErrCorruptRecord for bad JSON.
func (s *Store) Load() (bool, error) {
	data, err := os.ReadFile(s.layout.Checkpoint())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("No checkpoint file", "path", s.layout.Checkpoint())
			return false, nil
		}
		return false, fmt.Errorf("read checkpoint: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = toSet(rec.CompletedFiles)
	s.dirs = toSet(rec.CompletedDirs)
	s.readmeDone = rec.ReadmeCompleted
	s.readingGuideDone = rec.ReadingGuideCompleted
	s.projectGraphDone = rec.ProjectGraphCompleted

	s.logger.Info("Checkpoint loaded",
		"files", len(s.files),
		"dirs", len(s.dirs))
	return true, nil
}

// Save rewrites the checkpoint file atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	rec := Record{
		CompletedFiles:        fromSet(s.files),
		CompletedDirs:         fromSet(s.dirs),
		ReadmeCompleted:       s.readmeDone,
		ReadingGuideCompleted: s.readingGuideDone,
		ProjectGraphCompleted: s.projectGraphDone,
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.layout.Checkpoint(), data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	s.logger.Debug("Checkpoint saved", "files", len(rec.CompletedFiles), "dirs", len(rec.CompletedDirs))
	return nil
}

// Clear drops every entry and deletes the checkpoint file.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.files = make(map[string]struct{})
	s.dirs = make(map[string]struct{})
	s.docPaths = make(map[string]string)
	s.readmeDone, s.readingGuideDone, s.projectGraphDone = false, false, false
	s.mu.Unlock()

	if err := os.Remove(s.layout.Checkpoint()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	s.logger.Info("Checkpoint cleared")
	return nil
}

// ScanExistingArtifacts rebuilds the artifact map and completed sets from
// documents already on disk.
//
// Description:
//
//	Walks the docs root once. Every "<name>.md" that is not a reserved
//	roll-up file marks "<dir>/<name>" as a completed file; every
//	directory summary marks its directory as completed. This works even
//	when the checkpoint file itself was lost.
//
// Outputs:
//
//	error - Non-nil only if the walk itself fails. A missing docs root
//	        is not an error.
func (s *Store) ScanExistingArtifacts() error {
	root := s.layout.Root
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	found := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), layout.DocExt) {
			return nil
		}
		relDir, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		relDir = filepath.ToSlash(relDir)
		if relDir == "." {
			relDir = ""
		}

		name := d.Name()
		s.mu.Lock()
		switch {
		case name == layout.DirSummaryName:
			s.dirs[relDir] = struct{}{}
			s.docPaths[dirKey(relDir)] = p
			found++
		case !layout.IsReserved(name):
			rel := path.Join(relDir, strings.TrimSuffix(name, layout.DocExt))
			s.files[rel] = struct{}{}
			s.docPaths[fileKey(rel)] = p
			found++
		}
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan docs root: %w", err)
	}
	s.logger.Info("Scanned existing documents", "count", found)
	return nil
}

// MarkFileDone records a completed file node and its artifact path.
func (s *Store) MarkFileDone(rel, artifact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[rel] = struct{}{}
	s.docPaths[fileKey(rel)] = artifact
}

// MarkDirDone records a completed directory node and its artifact path.
func (s *Store) MarkDirDone(rel, artifact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[rel] = struct{}{}
	s.docPaths[dirKey(rel)] = artifact
}

// IsFileDone reports membership only. It does no I/O.
func (s *Store) IsFileDone(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[rel]
	return ok
}

// IsDirDone reports membership only. It does no I/O.
func (s *Store) IsDirDone(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirs[rel]
	return ok
}

// VerifyFileDone reports whether rel is recorded as done and its document
// still exists. A recorded entry with a missing document is evicted.
func (s *Store) VerifyFileDone(rel string) bool {
	return s.verify(rel, true)
}

// VerifyDirDone is VerifyFileDone for directory nodes.
func (s *Store) VerifyDirDone(rel string) bool {
	return s.verify(rel, false)
}

func (s *Store) verify(rel string, isFile bool) bool {
	s.mu.Lock()
	set, key, fallback := s.dirs, dirKey(rel), s.layout.DirDoc(rel)
	if isFile {
		set, key, fallback = s.files, fileKey(rel), s.layout.FileDoc(rel)
	}
	if _, ok := set[rel]; !ok {
		s.mu.Unlock()
		return false
	}
	artifact, ok := s.docPaths[key]
	if !ok {
		artifact = fallback
	}
	s.mu.Unlock()

	info, err := os.Stat(artifact)
	if err == nil && !info.IsDir() {
		s.mu.Lock()
		s.docPaths[key] = artifact
		s.mu.Unlock()
		return true
	}

	s.mu.Lock()
	delete(set, rel)
	delete(s.docPaths, key)
	s.mu.Unlock()
	s.logger.Info("Evicting checkpoint entry with missing artifact",
		"path", rel,
		"artifact", artifact)
	return false
}

// ArtifactPath returns the known artifact path for a node.
func (s *Store) ArtifactPath(rel string, isFile bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dirKey(rel)
	if isFile {
		key = fileKey(rel)
	}
	p, ok := s.docPaths[key]
	return p, ok
}

// Restore copies completion state into the tree: every node recorded as
// done gets StatusCompleted and its artifact path. Returns the number of
// nodes restored.
func (s *Store) Restore(root *tree.Node) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	root.Walk(func(n *tree.Node) bool {
		set, key := s.dirs, dirKey(n.RelPath)
		if n.IsFile {
			set, key = s.files, fileKey(n.RelPath)
		}
		if _, ok := set[n.RelPath]; !ok {
			return true
		}
		n.Status = tree.StatusCompleted
		if p, ok := s.docPaths[key]; ok {
			n.ArtifactPath = p
		}
		restored++
		return true
	})
	return restored
}

// Counts returns the number of completed files and directories.
func (s *Store) Counts() (files, dirs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files), len(s.dirs)
}

func (s *Store) MarkReadmeDone()       { s.setFlag(&s.readmeDone) }
func (s *Store) MarkReadingGuideDone() { s.setFlag(&s.readingGuideDone) }
func (s *Store) MarkProjectGraphDone() { s.setFlag(&s.projectGraphDone) }

func (s *Store) ReadmeDone() bool       { return s.flag(&s.readmeDone) }
func (s *Store) ReadingGuideDone() bool { return s.flag(&s.readingGuideDone) }
func (s *Store) ProjectGraphDone() bool { return s.flag(&s.projectGraphDone) }

func (s *Store) setFlag(f *bool) {
	s.mu.Lock()
	*f = true
	s.mu.Unlock()
}

func (s *Store) flag(f *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *f
}

func fileKey(rel string) string { return "file:" + rel }
func dirKey(rel string) string  { return "dir:" + rel }

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
