// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocs/services/docgen/layout"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
)

func newStore(t *testing.T) (*Store, layout.Layout) {
	t.Helper()
	l := layout.New(filepath.Join(t.TempDir(), "docs"))
	s := New(l, nil)
	require.NoError(t, s.Init())
	return s, l
}

func touch(t *testing.T, p string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("# doc"), 0o644))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s, l := newStore(t)
	s.MarkFileDone("main.py", l.FileDoc("main.py"))
	s.MarkDirDone("src", l.DirDoc("src"))
	s.MarkReadmeDone()
	require.NoError(t, s.Save())

	s2 := New(l, nil)
	loaded, err := s2.Load()
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.True(t, s2.IsFileDone("main.py"))
	assert.True(t, s2.IsDirDone("src"))
	assert.True(t, s2.ReadmeDone())
	assert.False(t, s2.ReadingGuideDone())
	assert.False(t, s2.ProjectGraphDone())
}

func TestStore_LoadMissingFile(t *testing.T) {
	s, _ := newStore(t)
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestStore_LoadCorruptFile(t *testing.T) {
	s, l := newStore(t)
	require.NoError(t, os.WriteFile(l.Checkpoint(), []byte("{not json"), 0o644))

	loaded, err := s.Load()
	assert.False(t, loaded)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestStore_VerifyEvictsMissingArtifact(t *testing.T) {
	s, l := newStore(t)
	touch(t, l.FileDoc("kept.py"))
	s.MarkFileDone("kept.py", l.FileDoc("kept.py"))
	s.MarkFileDone("gone.py", l.FileDoc("gone.py"))
	s.MarkDirDone("pkg", l.DirDoc("pkg"))

	assert.True(t, s.VerifyFileDone("kept.py"))
	assert.False(t, s.VerifyFileDone("gone.py"))
	assert.False(t, s.IsFileDone("gone.py"), "stale entry must be evicted")
	assert.False(t, s.VerifyDirDone("pkg"))
	assert.False(t, s.IsDirDone("pkg"))
	assert.False(t, s.VerifyFileDone("never.py"))
}

func TestStore_VerifyFallsBackToLayoutPath(t *testing.T) {
	s, l := newStore(t)
	touch(t, l.FileDoc("a/b.go"))
	require.NoError(t, os.WriteFile(l.Checkpoint(),
		[]byte(`{"completed_files":["a/b.go"],"completed_dirs":[]}`), 0o644))

	_, err := s.Load()
	require.NoError(t, err)
	assert.True(t, s.VerifyFileDone("a/b.go"))

	p, ok := s.ArtifactPath("a/b.go", true)
	assert.True(t, ok)
	assert.Equal(t, l.FileDoc("a/b.go"), p)
}

func TestStore_ScanExistingArtifacts(t *testing.T) {
	s, l := newStore(t)
	touch(t, l.FileDoc("main.py"))
	touch(t, l.FileDoc("pkg/util.go"))
	touch(t, l.DirDoc("pkg"))
	touch(t, l.DirDoc(""))
	touch(t, l.Readme())
	touch(t, l.ReadingGuide())
	touch(t, filepath.Join(l.Root, layout.APIDocName))
	touch(t, l.FileGraph("main.py"))

	require.NoError(t, s.ScanExistingArtifacts())

	files, dirs := s.Counts()
	assert.Equal(t, 2, files)
	assert.Equal(t, 2, dirs)
	assert.True(t, s.IsFileDone("main.py"))
	assert.True(t, s.IsFileDone("pkg/util.go"))
	assert.True(t, s.IsDirDone("pkg"))
	assert.True(t, s.IsDirDone(""))
	assert.False(t, s.IsFileDone("README"))

	p, ok := s.ArtifactPath("pkg/util.go", true)
	require.True(t, ok)
	assert.Equal(t, l.FileDoc("pkg/util.go"), p)
}

func TestStore_ScanMissingRoot(t *testing.T) {
	l := layout.New(filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, New(l, nil).ScanExistingArtifacts())
}

func TestStore_Clear(t *testing.T) {
	s, l := newStore(t)
	s.MarkFileDone("a.py", l.FileDoc("a.py"))
	s.MarkProjectGraphDone()
	require.NoError(t, s.Save())

	require.NoError(t, s.Clear())
	assert.False(t, s.IsFileDone("a.py"))
	assert.False(t, s.ProjectGraphDone())
	_, err := os.Stat(l.Checkpoint())
	assert.True(t, os.IsNotExist(err))
}

func TestStore_Restore(t *testing.T) {
	s, l := newStore(t)
	root := &tree.Node{Name: "proj", Children: []*tree.Node{
		{Name: "pkg", RelPath: "pkg", Depth: 1, Children: []*tree.Node{
			{Name: "x.go", RelPath: "pkg/x.go", IsFile: true, Depth: 2},
		}},
		{Name: "main.go", RelPath: "main.go", IsFile: true, Depth: 1},
	}}
	s.MarkFileDone("pkg/x.go", l.FileDoc("pkg/x.go"))
	s.MarkDirDone("pkg", l.DirDoc("pkg"))

	assert.Equal(t, 2, s.Restore(root))
	x := root.Find("pkg/x.go", true)
	assert.Equal(t, tree.StatusCompleted, x.Status)
	assert.Equal(t, l.FileDoc("pkg/x.go"), x.ArtifactPath)
	assert.Empty(t, root.Find("main.go", true).ArtifactPath)
}
