// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocs/services/docgen/artifact"
	"github.com/AleutianAI/AleutianDocs/services/docgen/checkpoint"
	"github.com/AleutianAI/AleutianDocs/services/docgen/graph"
	"github.com/AleutianAI/AleutianDocs/services/docgen/layout"
	"github.com/AleutianAI/AleutianDocs/services/docgen/observability"
	"github.com/AleutianAI/AleutianDocs/services/docgen/progress"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
	"github.com/AleutianAI/AleutianDocs/services/llm/llmtest"
)

const nodeResponse = "Summary text.\n\n" + artifact.GraphStartMarker +
	"\n```json\n{\"nodes\":[{\"id\":\"function::x\",\"label\":\"x\",\"type\":\"function\"}],\"edges\":[]}\n```\n" +
	artifact.GraphEndMarker

type harness struct {
	src    string
	layout layout.Layout
}

func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()
	src := filepath.Join(t.TempDir(), "proj")
	for rel, content := range files {
		abs := filepath.Join(src, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return &harness{src: src, layout: layout.New(filepath.Join(t.TempDir(), "docs"))}
}

type runResult struct {
	err    error
	task   *progress.TaskState
	events []progress.Event
}

type runOpts struct {
	concurrency int
	resume      bool
	metrics     *observability.Metrics
	ctx         context.Context
	beforeRun   func(task *progress.TaskState)
}

// run scans the source, wires a scheduler and collects every event the
// run publishes.
func (h *harness) run(t *testing.T, fake *llmtest.FakeClient, opts runOpts) runResult {
	t.Helper()
	root, err := tree.NewScanner(tree.DefaultScanConfig()).Scan(h.src)
	require.NoError(t, err)

	store := checkpoint.New(h.layout, nil)
	require.NoError(t, store.Init())
	if opts.resume {
		_, err := store.Load()
		require.NoError(t, err)
		require.NoError(t, store.ScanExistingArtifacts())
	} else {
		require.NoError(t, store.Clear())
	}

	gen, err := artifact.NewGenerator(artifact.Config{Layout: h.layout, Client: fake})
	require.NoError(t, err)

	task := progress.NewTaskState("run-1", h.src, h.layout.Root)
	sub := task.Subscribe()
	collected := make(chan []progress.Event, 1)
	go func() {
		var out []progress.Event
		for e := range sub.Events() {
			out = append(out, e)
		}
		collected <- out
	}()

	if opts.beforeRun != nil {
		opts.beforeRun(task)
	}
	ctx := opts.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s := New(Config{Concurrency: opts.concurrency, Metrics: opts.metrics},
		tree.New(root), store, gen, graph.NewAggregator(h.layout, nil), task)
	runErr := s.Run(ctx)

	select {
	case events := <-collected:
		return runResult{err: runErr, task: task, events: events}
	case <-time.After(5 * time.Second):
		t.Fatal("event stream not closed after Run returned")
	}
	return runResult{}
}

// nodeEvents drops Progress events.
func nodeEvents(events []progress.Event) []progress.Event {
	var out []progress.Event
	for _, e := range events {
		if _, ok := e.(progress.Progress); !ok {
			out = append(out, e)
		}
	}
	return out
}

func terminalCount(events []progress.Event) int {
	n := 0
	for _, e := range events {
		if progress.IsTerminal(e) {
			n++
		}
	}
	return n
}

func depthOf(rel string) int {
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}

func TestRun_EventOrderForSmallTree(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.py":     "print('a')\n",
		"sub/b.py": "print('b')\n",
	})
	fake := llmtest.New(nodeResponse)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	res := h.run(t, fake, runOpts{concurrency: 1, metrics: metrics})
	require.NoError(t, res.err)

	events := nodeEvents(res.events)
	require.NotEmpty(t, events)
	want := []progress.Event{
		progress.FileStarted{Path: "sub/b.py"},
		progress.FileCompleted{Path: "sub/b.py"},
		progress.DirStarted{Path: "sub"},
		progress.DirCompleted{Path: "sub"},
		progress.FileStarted{Path: "a.py"},
		progress.FileCompleted{Path: "a.py"},
		progress.DirStarted{Path: ""},
		progress.DirCompleted{Path: ""},
	}
	assert.Equal(t, want, events[:len(events)-1])
	assert.IsType(t, progress.Completed{}, events[len(events)-1])

	snap := res.task.Snapshot()
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, float64(100), snap.Progress)
	assert.Equal(t, 2, snap.Stats.ProcessedFiles)
	assert.Equal(t, 2, snap.Stats.ProcessedDirs)
	assert.Zero(t, snap.Stats.SkippedCount)
	assert.Zero(t, snap.Stats.FailedCount)

	// Two files, two directories, README and reading guide.
	assert.Equal(t, 6, fake.CallCount())

	for _, p := range []string{
		h.layout.FileDoc("a.py"),
		h.layout.FileDoc("sub/b.py"),
		h.layout.DirDoc("sub"),
		h.layout.DirDoc(""),
		h.layout.Readme(),
		h.layout.ReadingGuide(),
		h.layout.ProjectGraph(),
		h.layout.Checkpoint(),
	} {
		assert.FileExists(t, p)
	}

	pg, err := graph.LoadProjectGraph(h.layout.ProjectGraph())
	require.NoError(t, err)
	assert.Equal(t, 2, pg.FileCount)
	ids := make(map[string]bool)
	for _, n := range pg.Nodes {
		ids[n.ID] = true
	}
	assert.True(t, ids[graph.FileID("a.py")])
	assert.True(t, ids[graph.DirID("sub")])

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.NodesTotal.WithLabelValues(observability.KindFile, observability.OutcomeProcessed)))
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.py":       "a",
		"b.py":       "b",
		"pkg/c.py":   "c",
		"pkg/x/d.py": "d",
	})
	res := h.run(t, llmtest.New(nodeResponse), runOpts{concurrency: 1})
	require.NoError(t, res.err)

	last := -1.0
	var milestones []float64
	for _, e := range res.events {
		p, ok := e.(progress.Progress)
		if !ok {
			continue
		}
		assert.GreaterOrEqual(t, p.Percent, last)
		last = p.Percent
		if p.Percent > 90 {
			milestones = append(milestones, p.Percent)
		}
	}
	assert.Equal(t, []float64{92, 96, 98}, milestones)
}

func TestRun_DeepestFirst(t *testing.T) {
	h := newHarness(t, map[string]string{
		"top.py":          "1",
		"a/one.py":        "2",
		"a/b/two.py":      "3",
		"a/b/c/three.py":  "4",
		"a/b/c/four.py":   "5",
		"z/five.py":       "6",
		"z/y/six.py":      "7",
		"z/y/x/w/deep.py": "8",
	})
	res := h.run(t, llmtest.New(nodeResponse), runOpts{concurrency: 3})
	require.NoError(t, res.err)

	// Every start must follow the completion of every deeper node.
	completedAt := make(map[int]int)
	for i, e := range res.events {
		switch v := e.(type) {
		case progress.FileCompleted:
			completedAt[depthOf(v.Path)] = i
		case progress.DirCompleted:
			completedAt[depthOf(v.Path)] = i
		}
	}
	for i, e := range res.events {
		var path string
		switch v := e.(type) {
		case progress.FileStarted:
			path = v.Path
		case progress.DirStarted:
			path = v.Path
		default:
			continue
		}
		for depth, idx := range completedAt {
			if depth > depthOf(path) {
				assert.Greater(t, i, idx, "%q started before depth %d finished", path, depth)
			}
		}
	}
}

func TestRun_ResumeMakesNoCalls(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.py":     "a",
		"sub/b.py": "b",
	})
	first := h.run(t, llmtest.New(nodeResponse), runOpts{})
	require.NoError(t, first.err)

	fake := llmtest.New(nodeResponse)
	second := h.run(t, fake, runOpts{resume: true})
	require.NoError(t, second.err)

	assert.Zero(t, fake.CallCount())
	snap := second.task.Snapshot()
	assert.Equal(t, progress.StatusCompleted, snap.Status)
	assert.Equal(t, 4, snap.Stats.SkippedCount)
	assert.Equal(t, 2, snap.Stats.ProcessedFiles)
	assert.Equal(t, 2, snap.Stats.ProcessedDirs)

	// Skipped nodes still report completion so progress views close out.
	var completed int
	for _, e := range second.events {
		switch e.(type) {
		case progress.FileCompleted, progress.DirCompleted:
			completed++
		case progress.FileStarted, progress.DirStarted:
			t.Errorf("unexpected start event %#v", e)
		}
	}
	assert.Equal(t, 4, completed)
}

func TestRun_StaleEntryIsReprocessed(t *testing.T) {
	h := newHarness(t, map[string]string{
		"a.py":     "a",
		"sub/b.py": "b",
	})
	require.NoError(t, h.run(t, llmtest.New(nodeResponse), runOpts{}).err)
	require.NoError(t, os.Remove(h.layout.FileDoc("a.py")))

	fake := llmtest.New(nodeResponse)
	res := h.run(t, fake, runOpts{resume: true})
	require.NoError(t, res.err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt(), "a.py")
	assert.FileExists(t, h.layout.FileDoc("a.py"))
}

func TestRun_ConcurrencyBound(t *testing.T) {
	files := make(map[string]string)
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("f%02d.py", i)] = "x"
	}
	for _, limit := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			h := newHarness(t, files)
			fake := llmtest.New(nodeResponse)
			fake.Delay = 20 * time.Millisecond

			res := h.run(t, fake, runOpts{concurrency: limit})
			require.NoError(t, res.err)
			assert.LessOrEqual(t, fake.MaxConcurrent(), limit)
			if limit > 1 {
				assert.Greater(t, fake.MaxConcurrent(), 1)
			}
		})
	}
}

func failingOn(path string) *llmtest.FakeClient {
	return &llmtest.FakeClient{Respond: func(_ context.Context, c llmtest.Call) (string, error) {
		if strings.Contains(c.Prompt(), "File path: "+path) {
			return "", errors.New("model unavailable")
		}
		return nodeResponse, nil
	}}
}

func TestRun_FailFastSequential(t *testing.T) {
	files := map[string]string{"top.py": "t"}
	for i := 0; i < 6; i++ {
		files[fmt.Sprintf("sub/f%d.py", i)] = "x"
	}
	h := newHarness(t, files)
	fake := failingOn("sub/f2.py")

	res := h.run(t, fake, runOpts{concurrency: 1})
	require.ErrorIs(t, res.err, ErrRunFailed)

	// f0, f1 and the failing f2; nothing after it.
	assert.Equal(t, 3, fake.CallCount())

	snap := res.task.Snapshot()
	assert.Equal(t, progress.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "sub/f2.py")
	assert.Equal(t, 1, snap.Stats.FailedCount)

	errAt := -1
	for i, e := range res.events {
		if _, ok := e.(progress.Error); ok {
			errAt = i
		}
	}
	require.GreaterOrEqual(t, errAt, 0)
	assert.Equal(t, 1, terminalCount(res.events))
	for _, e := range res.events[errAt+1:] {
		switch e.(type) {
		case progress.FileStarted, progress.DirStarted:
			t.Errorf("work started after failure: %#v", e)
		}
	}
	assert.NoFileExists(t, h.layout.Readme())
}

func TestRun_FailFastStopsLaterDepths(t *testing.T) {
	files := map[string]string{"top.py": "t"}
	for i := 0; i < 8; i++ {
		files[fmt.Sprintf("sub/f%d.py", i)] = "x"
	}
	h := newHarness(t, files)
	fake := failingOn("sub/f0.py")

	res := h.run(t, fake, runOpts{concurrency: 3})
	require.ErrorIs(t, res.err, ErrRunFailed)

	for _, c := range fake.Calls() {
		assert.NotContains(t, c.Prompt(), "File path: top.py")
		assert.NotContains(t, c.Prompt(), "Directory path")
	}
	assert.Equal(t, 1, terminalCount(res.events))
}

func TestRun_CancelLetsInFlightNodeFinish(t *testing.T) {
	h := newHarness(t, map[string]string{
		"sub/a.py": "a",
		"sub/b.py": "b",
		"c.py":     "c",
	})
	started := make(chan struct{})
	release := make(chan struct{})
	fake := &llmtest.FakeClient{Respond: func(ctx context.Context, c llmtest.Call) (string, error) {
		select {
		case <-started:
		default:
			close(started)
			<-release
		}
		return nodeResponse, nil
	}}

	var task *progress.TaskState
	go func() {
		<-started
		task.Cancel()
		close(release)
	}()
	res := h.run(t, fake, runOpts{
		concurrency: 1,
		beforeRun:   func(ts *progress.TaskState) { task = ts },
	})

	require.ErrorIs(t, res.err, ErrCancelled)
	assert.Equal(t, 1, fake.CallCount())
	assert.Equal(t, progress.StatusCancelled, res.task.Status())
	assert.FileExists(t, h.layout.FileDoc("sub/a.py"))

	require.NotEmpty(t, res.events)
	assert.Equal(t, progress.Event(progress.Cancelled{}), res.events[len(res.events)-1])
	assert.Equal(t, 1, terminalCount(res.events))

	// The finished node is checkpointed for the next run.
	store := checkpoint.New(h.layout, nil)
	_, err := store.Load()
	require.NoError(t, err)
	assert.True(t, store.IsFileDone("sub/a.py"))
	assert.False(t, store.IsFileDone("sub/b.py"))
}

func TestRun_CancelBeforeStart(t *testing.T) {
	h := newHarness(t, map[string]string{"a.py": "a"})
	fake := llmtest.New(nodeResponse)

	res := h.run(t, fake, runOpts{beforeRun: func(ts *progress.TaskState) { ts.Cancel() }})
	require.ErrorIs(t, res.err, ErrNotPending)
	assert.Zero(t, fake.CallCount())
	require.NotEmpty(t, res.events)
	assert.Equal(t, progress.Event(progress.Cancelled{}), res.events[len(res.events)-1])
}

func TestRun_ContextCancellationCancelsRun(t *testing.T) {
	h := newHarness(t, map[string]string{"a.py": "a", "b.py": "b"})
	ctx, cancel := context.WithCancel(context.Background())
	fake := &llmtest.FakeClient{Respond: func(ctx context.Context, c llmtest.Call) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}}

	res := h.run(t, fake, runOpts{concurrency: 1, ctx: ctx})
	require.ErrorIs(t, res.err, ErrCancelled)
	assert.Equal(t, progress.StatusCancelled, res.task.Status())
	assert.Equal(t, 1, fake.CallCount())
	require.NotEmpty(t, res.events)
	assert.Equal(t, progress.Event(progress.Cancelled{}), res.events[len(res.events)-1])
	assert.Equal(t, 1, terminalCount(res.events))
}

func TestClampConcurrency(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultConcurrency},
		{-4, 1},
		{1, 1},
		{7, 7},
		{10, 10},
		{50, MaxConcurrency},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampConcurrency(tt.in), "input %d", tt.in)
	}
}

func TestInterleave(t *testing.T) {
	n := func(name string) *tree.Node { return &tree.Node{Name: name} }
	names := func(nodes []*tree.Node) []string {
		out := make([]string, len(nodes))
		for i, x := range nodes {
			out[i] = x.Name
		}
		return out
	}

	got := interleave([]*tree.Node{n("d1"), n("d2")}, []*tree.Node{n("f1"), n("f2"), n("f3"), n("f4")})
	assert.Equal(t, []string{"d1", "f1", "d2", "f2", "f3", "f4"}, names(got))
	assert.Empty(t, interleave(nil, nil))
}
