// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler drives one documentation run over a scanned tree.
//
// Nodes are processed in depth rounds from the deepest level up, so a
// directory is summarized only after its whole subtree has been handled.
// Within a round, work runs on a bounded pool. Cancellation and failure
// are observed when a node is about to start; work already started is
// allowed to finish.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianDocs/services/docgen/artifact"
	"github.com/AleutianAI/AleutianDocs/services/docgen/checkpoint"
	"github.com/AleutianAI/AleutianDocs/services/docgen/graph"
	"github.com/AleutianAI/AleutianDocs/services/docgen/layout"
	"github.com/AleutianAI/AleutianDocs/services/docgen/observability"
	"github.com/AleutianAI/AleutianDocs/services/docgen/progress"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
)

var tracer = otel.Tracer("aleutian.docgen.scheduler")

const (
	DefaultConcurrency = 3
	MaxConcurrency     = 10

	// Node work fills progress up to nodeProgressSpan percent; roll-ups
	// report fixed milestones after that.
	nodeProgressSpan     = 90.0
	readmeProgress       = 92.0
	readingGuideProgress = 96.0
	projectGraphProgress = 98.0
)

var (
	// ErrCancelled is returned by Run when the run was cancelled.
	ErrCancelled = errors.New("run cancelled")

	// ErrRunFailed is returned by Run when a node or roll-up failed.
	ErrRunFailed = errors.New("run failed")

	// ErrNotPending is returned by Run for a run that was already started
	// or cancelled before it began.
	ErrNotPending = errors.New("run is not pending")
)

// Generator produces node and roll-up artifacts.
type Generator interface {
	Layout() layout.Layout
	AnalyzeFile(ctx context.Context, n *tree.Node) (*artifact.Result, error)
	SummarizeDir(ctx context.Context, n *tree.Node, children []tree.ChildDoc) (*artifact.Result, error)
	WriteFileArtifacts(n *tree.Node, res *artifact.Result) (string, error)
	WriteDirArtifacts(n *tree.Node, res *artifact.Result) (string, error)
	GenerateReadme(ctx context.Context, projectName, projectPath string, docs []tree.ChildDoc) (string, error)
	GenerateReadingGuide(ctx context.Context, projectName, structure string, docs []tree.ChildDoc) (string, error)
}

// Config configures a Scheduler.
type Config struct {
	// Concurrency bounds simultaneous node work. Clamped to [1,10];
	// zero selects DefaultConcurrency.
	Concurrency int

	// ProjectName labels roll-ups. Default: the root directory name.
	ProjectName string

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Now stamps the project graph. Default: time.Now
	Now func() time.Time
}

// ClampConcurrency maps a requested concurrency into [1,10], with zero
// meaning DefaultConcurrency.
func ClampConcurrency(n int) int {
	switch {
	case n == 0:
		return DefaultConcurrency
	case n < 1:
		return 1
	case n > MaxConcurrency:
		return MaxConcurrency
	}
	return n
}

// Scheduler runs one documentation run. Create one per run.
type Scheduler struct {
	cfg    Config
	tree   *tree.Tree
	store  *checkpoint.Store
	gen    Generator
	agg    *graph.Aggregator
	task   *progress.TaskState
	logger *slog.Logger

	total     int
	processed atomic.Int64
}

// New wires a Scheduler for one run.
func New(cfg Config, t *tree.Tree, store *checkpoint.Store, gen Generator, agg *graph.Aggregator, task *progress.TaskState) *Scheduler {
	cfg.Concurrency = ClampConcurrency(cfg.Concurrency)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		tree:   t,
		store:  store,
		gen:    gen,
		agg:    agg,
		task:   task,
		logger: logger.With("run_id", task.Snapshot().ID),
	}
}

// Run executes the run to a terminal state.
//
// Description:
//
//	Moves the task to Running, processes every depth from deepest to
//	shallowest, then generates the README, reading guide and project
//	graph unless the checkpoint marks them done. The checkpoint is saved
//	after every depth and once more at the end. The task's event stream
//	is finished when Run returns.
//
// Inputs:
//
//	ctx - Bounds LLM calls. Cancelling it stops new work like Cancel
//	      does and also aborts calls in flight.
//
// Outputs:
//
//	error - nil on Completed. ErrCancelled, ErrRunFailed or ErrNotPending
//	        otherwise.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	defer s.task.Finish()

	files, dirs := s.counts()
	if !s.task.Start(files, dirs) {
		return ErrNotPending
	}
	s.total = files + dirs

	ctx, span := tracer.Start(ctx, "scheduler.Run", trace.WithAttributes(
		attribute.Int("docgen.files", files),
		attribute.Int("docgen.dirs", dirs),
		attribute.Int("docgen.concurrency", s.cfg.Concurrency)))
	defer span.End()

	s.cfg.Metrics.RunStarted()
	defer func() { s.cfg.Metrics.RunFinished(string(s.task.Status())) }()

	s.logger.Info("Starting documentation run",
		"files", files,
		"dirs", dirs,
		"concurrency", s.cfg.Concurrency)

	err = s.processDepths(ctx)
	if err == nil {
		err = s.rollups(ctx)
	}
	s.saveCheckpoint()

	if err != nil {
		return s.finishWithError(err)
	}
	s.task.Complete()
	s.logger.Info("Documentation run completed", "stats", s.task.Snapshot().Stats)
	return nil
}

func (s *Scheduler) finishWithError(err error) error {
	switch {
	case errors.Is(err, ErrCancelled):
		s.logger.Info("Documentation run cancelled")
		return err
	case errors.Is(err, ErrRunFailed):
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.task.Cancel()
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	s.logger.Error("Documentation run failed", "error", err)
	s.task.Fail(err.Error())
	return fmt.Errorf("%w: %v", ErrRunFailed, err)
}

func (s *Scheduler) counts() (files, dirs int) {
	s.tree.View(func(root *tree.Node) {
		files = root.FileCount()
		dirs = len(root.Dirs())
	})
	return files, dirs
}

// stopErr translates a stopped task into Run's error.
func (s *Scheduler) stopErr() error {
	snap := s.task.Snapshot()
	switch snap.Status {
	case progress.StatusCancelled:
		return ErrCancelled
	case progress.StatusFailed:
		return fmt.Errorf("%w: %s", ErrRunFailed, snap.Error)
	}
	return nil
}

// =============================================================================
// Depth rounds
// =============================================================================

type depthGroup struct {
	files []*tree.Node
	dirs  []*tree.Node
}

// plan groups every node by depth and returns the depths deepest first.
func (s *Scheduler) plan() ([]int, map[int]*depthGroup) {
	groups := make(map[int]*depthGroup)
	s.tree.View(func(root *tree.Node) {
		root.Walk(func(n *tree.Node) bool {
			g, ok := groups[n.Depth]
			if !ok {
				g = &depthGroup{}
				groups[n.Depth] = g
			}
			if n.IsFile {
				g.files = append(g.files, n)
			} else {
				g.dirs = append(g.dirs, n)
			}
			return true
		})
	})
	depths := make([]int, 0, len(groups))
	for d := range groups {
		depths = append(depths, d)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(depths)))
	return depths, groups
}

// interleave alternates directories and files so that both kinds of
// work share the pool.
func interleave(dirs, files []*tree.Node) []*tree.Node {
	out := make([]*tree.Node, 0, len(dirs)+len(files))
	for i := 0; i < len(dirs) || i < len(files); i++ {
		if i < len(dirs) {
			out = append(out, dirs[i])
		}
		if i < len(files) {
			out = append(out, files[i])
		}
	}
	return out
}

func (s *Scheduler) processDepths(ctx context.Context) error {
	depths, groups := s.plan()
	for _, depth := range depths {
		if err := s.stopErr(); err != nil {
			return err
		}
		g := groups[depth]
		s.logger.Info("Processing depth",
			"depth", depth,
			"files", len(g.files),
			"dirs", len(g.dirs))

		if err := s.runRound(ctx, interleave(g.dirs, g.files)); err != nil {
			return err
		}
		s.saveCheckpoint()

		if err := s.stopErr(); err != nil {
			return err
		}
	}
	return nil
}

// runRound drives one depth's nodes through the bounded pool. Workers
// re-check the task status once they hold a permit.
func (s *Scheduler) runRound(ctx context.Context, nodes []*tree.Node) error {
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	var g errgroup.Group

	var acquireErr error
	for _, n := range nodes {
		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if s.task.ShouldStop() {
				return nil
			}
			if n.IsFile {
				s.processFile(ctx, n)
			} else {
				s.processDir(ctx, n)
			}
			return nil
		})
	}
	_ = g.Wait()
	return acquireErr
}

// =============================================================================
// Node work
// =============================================================================

func (s *Scheduler) percent() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.processed.Load()) / float64(s.total) * nodeProgressSpan
}

func (s *Scheduler) publishProgress(current string, pct float64) {
	s.task.Publish(progress.Progress{
		Percent:     pct,
		CurrentFile: current,
		Stats:       s.task.Snapshot().Stats,
	})
}

func (s *Scheduler) knownArtifact(rel string, isFile bool) string {
	if p, ok := s.store.ArtifactPath(rel, isFile); ok {
		return p
	}
	if isFile {
		return s.gen.Layout().FileDoc(rel)
	}
	return s.gen.Layout().DirDoc(rel)
}

func (s *Scheduler) processFile(ctx context.Context, n *tree.Node) {
	rel := n.RelPath
	defer s.processed.Add(1)

	if s.store.VerifyFileDone(rel) {
		s.logger.Info("Skipping completed file", "path", rel)
		s.tree.SetStatus(rel, true, tree.StatusCompleted, s.knownArtifact(rel, true))
		s.task.Publish(progress.FileCompleted{Path: rel})
		s.task.Update(func(st *progress.RunState) {
			st.Stats.ProcessedFiles++
			st.Stats.SkippedCount++
		})
		s.cfg.Metrics.RecordNode(observability.KindFile, observability.OutcomeSkipped, 0)
		return
	}

	start := time.Now()
	s.task.Publish(progress.FileStarted{Path: rel})
	s.tree.SetStatus(rel, true, tree.StatusProcessing, "")
	s.publishProgress(rel, s.percent())
	s.logger.Info("Analyzing file", "path", rel)

	res, err := s.gen.AnalyzeFile(ctx, n)
	if err != nil {
		if s.interrupted(ctx, n) {
			return
		}
		s.failNode(n, fmt.Sprintf("Failed to analyze file %s: %v", rel, err))
		return
	}
	docPath, err := s.gen.WriteFileArtifacts(n, res)
	if err != nil {
		s.failNode(n, fmt.Sprintf("Failed to save document %s: %v", rel, err))
		return
	}

	s.store.MarkFileDone(rel, docPath)
	s.tree.SetStatus(rel, true, tree.StatusCompleted, docPath)
	s.task.Publish(progress.FileCompleted{Path: rel})
	s.task.Update(func(st *progress.RunState) { st.Stats.ProcessedFiles++ })
	s.cfg.Metrics.RecordNode(observability.KindFile, observability.OutcomeProcessed, time.Since(start))
}

func (s *Scheduler) processDir(ctx context.Context, n *tree.Node) {
	rel := n.RelPath
	defer s.processed.Add(1)

	if s.store.VerifyDirDone(rel) {
		s.logger.Info("Skipping completed directory", "path", rel)
		s.tree.SetStatus(rel, false, tree.StatusCompleted, s.knownArtifact(rel, false))
		s.task.Publish(progress.DirCompleted{Path: rel})
		s.task.Update(func(st *progress.RunState) {
			st.Stats.ProcessedDirs++
			st.Stats.SkippedCount++
		})
		s.cfg.Metrics.RecordNode(observability.KindDir, observability.OutcomeSkipped, 0)
		return
	}

	start := time.Now()
	s.task.Publish(progress.DirStarted{Path: rel})
	s.tree.SetStatus(rel, false, tree.StatusProcessing, "")
	s.publishProgress(rel, s.percent())
	s.logger.Info("Summarizing directory", "path", rel)

	res, err := s.gen.SummarizeDir(ctx, n, s.tree.ChildDocs(rel))
	if errors.Is(err, artifact.ErrNoChildDocs) {
		s.logger.Warn("Directory has no child documents, skipping", "path", rel)
		s.tree.SetStatus(rel, false, tree.StatusSkipped, "")
		s.task.Publish(progress.DirCompleted{Path: rel})
		s.task.Update(func(st *progress.RunState) { st.Stats.SkippedCount++ })
		s.cfg.Metrics.RecordNode(observability.KindDir, observability.OutcomeSkipped, 0)
		return
	}
	if err != nil {
		if s.interrupted(ctx, n) {
			return
		}
		s.failNode(n, fmt.Sprintf("Failed to generate directory summary %s: %v", rel, err))
		return
	}
	docPath, err := s.gen.WriteDirArtifacts(n, res)
	if err != nil {
		s.failNode(n, fmt.Sprintf("Failed to save directory document %s: %v", rel, err))
		return
	}

	s.store.MarkDirDone(rel, docPath)
	s.tree.SetStatus(rel, false, tree.StatusCompleted, docPath)
	s.task.Publish(progress.DirCompleted{Path: rel})
	s.task.Update(func(st *progress.RunState) { st.Stats.ProcessedDirs++ })
	s.cfg.Metrics.RecordNode(observability.KindDir, observability.OutcomeProcessed, time.Since(start))
}

// interrupted cancels the run when ctx ended during n's LLM call. The
// node is left Pending so the next run picks it up.
func (s *Scheduler) interrupted(ctx context.Context, n *tree.Node) bool {
	if ctx.Err() == nil {
		return false
	}
	s.logger.Warn("Node interrupted by shutdown", "path", n.RelPath, "error", ctx.Err())
	s.tree.SetStatus(n.RelPath, n.IsFile, tree.StatusPending, "")
	s.task.Cancel()
	return true
}

// failNode marks n failed and fails the run. Only the first failure
// reaches subscribers; later ones are logged.
func (s *Scheduler) failNode(n *tree.Node, msg string) {
	kind := observability.KindDir
	if n.IsFile {
		kind = observability.KindFile
	}
	s.logger.Error("Node failed", "path", n.RelPath, "kind", kind, "error", msg)
	s.tree.SetStatus(n.RelPath, n.IsFile, tree.StatusFailed, "")
	s.task.Update(func(st *progress.RunState) { st.Stats.FailedCount++ })
	s.cfg.Metrics.RecordNode(kind, observability.OutcomeFailed, 0)
	if !s.task.Fail(msg) {
		s.logger.Warn("Run already stopped; failure not published", "path", n.RelPath)
	}
}

// =============================================================================
// Roll-ups
// =============================================================================

func (s *Scheduler) rollups(ctx context.Context) error {
	var name, path, structure string
	var root *tree.Node
	s.tree.View(func(r *tree.Node) {
		root = r
		name = r.Name
		path = r.AbsPath
		structure = r.Structure()
	})
	if s.cfg.ProjectName != "" {
		name = s.cfg.ProjectName
	}
	docs := s.tree.Documents()

	if !s.store.ReadmeDone() {
		if err := s.stopErr(); err != nil {
			return err
		}
		s.logger.Info("Generating README")
		s.publishProgress("README.md", readmeProgress)
		start := time.Now()
		_, err := s.gen.GenerateReadme(ctx, name, path, docs)
		s.cfg.Metrics.RecordRollup("readme", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("generate README: %w", err)
		}
		s.store.MarkReadmeDone()
	}

	if !s.store.ReadingGuideDone() {
		if err := s.stopErr(); err != nil {
			return err
		}
		s.logger.Info("Generating reading guide")
		s.publishProgress("READING_GUIDE.md", readingGuideProgress)
		start := time.Now()
		_, err := s.gen.GenerateReadingGuide(ctx, name, structure, docs)
		s.cfg.Metrics.RecordRollup("reading_guide", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("generate reading guide: %w", err)
		}
		s.store.MarkReadingGuideDone()
	}

	if !s.store.ProjectGraphDone() {
		if err := s.stopErr(); err != nil {
			return err
		}
		s.logger.Info("Aggregating project graph")
		s.publishProgress("_project_graph.json", projectGraphProgress)
		start := time.Now()
		err := s.writeProjectGraph(root, name)
		s.cfg.Metrics.RecordRollup("project_graph", err, time.Since(start))
		if err != nil {
			return fmt.Errorf("aggregate project graph: %w", err)
		}
		s.store.MarkProjectGraphDone()
	}
	return nil
}

func (s *Scheduler) writeProjectGraph(root *tree.Node, name string) error {
	// Aggregate only reads structure, which never changes after the scan.
	g, err := s.agg.Aggregate(root, name, s.cfg.Now())
	if err != nil {
		return err
	}
	s.logger.Info("Project graph aggregated",
		"nodes", len(g.Nodes),
		"edges", len(g.Edges),
		"files", g.FileCount)
	return s.agg.Write(g)
}

func (s *Scheduler) saveCheckpoint() {
	if err := s.store.Save(); err != nil {
		s.logger.Warn("Failed to save checkpoint", "error", err)
	}
}
