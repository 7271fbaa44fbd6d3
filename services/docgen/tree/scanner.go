// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ScanConfig configures which entries the Scanner keeps.
type ScanConfig struct {
	// IgnorePatterns are glob patterns matched against both the entry name
	// and its full path.
	IgnorePatterns []string

	// Extensions lists the supported source extensions, without the dot.
	// Matching is case-insensitive.
	Extensions []string

	// MaxFileSize is the largest file, in bytes, that is kept.
	// Default: 1 MiB
	MaxFileSize int64

	// DocsSuffix marks directories produced by earlier runs.
	// Default: "_docs"
	DocsSuffix string

	// Logger receives warnings for unreadable entries. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultIgnorePatterns are skipped unless a config overrides them.
var DefaultIgnorePatterns = []string{
	".git", ".docs", "node_modules", "__pycache__", ".venv", "venv",
	"target", "dist", "build", ".idea", ".vscode", ".next", "out", ".cache",
	"*.pyc", "*.pyo", "*.so", "*.dll", "*.exe",
}

// DefaultExtensions are the source extensions documented by default.
var DefaultExtensions = []string{
	"py", "js", "ts", "jsx", "tsx", "java", "go", "rs", "c", "cpp",
	"h", "hpp", "cs", "rb", "php", "swift", "kt", "scala", "vue", "svelte",
}

// DefaultScanConfig returns the scan rules used when none are configured.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		IgnorePatterns: append([]string(nil), DefaultIgnorePatterns...),
		Extensions:     append([]string(nil), DefaultExtensions...),
		MaxFileSize:    1024 * 1024,
		DocsSuffix:     "_docs",
	}
}

// Scanner walks a source directory into a Node tree.
//
// Thread Safety: a Scanner is immutable after construction and may be
// shared.
type Scanner struct {
	cfg    ScanConfig
	exts   map[string]struct{}
	logger *slog.Logger
}

// NewScanner creates a Scanner. Zero-valued size and suffix fields fall
// back to DefaultScanConfig values.
func NewScanner(cfg ScanConfig) *Scanner {
	def := DefaultScanConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.DocsSuffix == "" {
		cfg.DocsSuffix = def.DocsSuffix
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = def.Extensions
	}
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{cfg: cfg, exts: exts, logger: logger}
}

// Scan builds the tree rooted at root.
//
// Description:
//
//	Recursively visits root. An entry is dropped when its name starts
//	with ".", matches an ignore pattern, or ends with the docs suffix.
//	Files are kept only with a supported extension and a size within
//	MaxFileSize. Directories left without children are pruned. The root
//	itself is always returned, even when empty.
//
// Inputs:
//
//	root - Path to the source directory.
//
// Outputs:
//
//	*Node - Root node with Depth 0 and an empty RelPath.
//	error - ErrPathNotFound or ErrNotADirectory for a bad root.
func (s *Scanner) Scan(root string) (*Node, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, root)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, root)
	}

	node := &Node{
		Name:    filepath.Base(abs),
		AbsPath: abs,
		RelPath: "",
		Depth:   0,
		Status:  StatusPending,
	}
	node.Children = s.scanDir(abs, "", 1)
	return node, nil
}

// scanDir returns the surviving children of dir, already sorted.
func (s *Scanner) scanDir(dir, rel string, depth int) []*Node {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("Skipping unreadable directory", "path", dir, "error", err)
		return nil
	}

	var children []*Node
	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)
		if s.shouldSkip(name, full) {
			continue
		}
		childRel := name
		if rel != "" {
			childRel = path.Join(rel, name)
		}

		if entry.IsDir() {
			grand := s.scanDir(full, childRel, depth+1)
			if len(grand) == 0 {
				continue
			}
			children = append(children, &Node{
				Name:     name,
				AbsPath:  full,
				RelPath:  childRel,
				Depth:    depth,
				Children: grand,
				Status:   StatusPending,
			})
			continue
		}

		if !entry.Type().IsRegular() || !s.supported(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("Skipping unreadable file", "path", full, "error", err)
			continue
		}
		if info.Size() > s.cfg.MaxFileSize {
			s.logger.Debug("Skipping oversized file", "path", full, "size", info.Size())
			continue
		}
		children = append(children, &Node{
			Name:      name,
			AbsPath:   full,
			RelPath:   childRel,
			IsFile:    true,
			Depth:     depth,
			Status:    StatusPending,
			SizeBytes: info.Size(),
		})
	}

	sort.SliceStable(children, func(i, j int) bool {
		if children[i].IsFile != children[j].IsFile {
			return !children[i].IsFile
		}
		return children[i].Name < children[j].Name
	})
	return children
}

func (s *Scanner) shouldSkip(name, full string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasSuffix(name, s.cfg.DocsSuffix) {
		return true
	}
	for _, pattern := range s.cfg.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, full); matched {
			return true
		}
	}
	return false
}

func (s *Scanner) supported(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	_, ok := s.exts[ext]
	return ok
}
