// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docgen runs LLM documentation generation over source trees and
// serves runs, progress streams and code graphs over HTTP.
//
// A run scans a source directory, documents every file and directory
// deepest first, then writes a README, a reading guide and a merged
// project graph. Runs resume from the artifacts an earlier run left on
// disk.
package docgen

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianDocs/pkg/telemetry"
	"github.com/AleutianAI/AleutianDocs/services/docgen/artifact"
	"github.com/AleutianAI/AleutianDocs/services/docgen/checkpoint"
	"github.com/AleutianAI/AleutianDocs/services/docgen/graph"
	"github.com/AleutianAI/AleutianDocs/services/docgen/layout"
	"github.com/AleutianAI/AleutianDocs/services/docgen/observability"
	"github.com/AleutianAI/AleutianDocs/services/docgen/progress"
	"github.com/AleutianAI/AleutianDocs/services/docgen/runstore"
	"github.com/AleutianAI/AleutianDocs/services/docgen/scheduler"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
	"github.com/AleutianAI/AleutianDocs/services/llm"
)

// ServiceVersion is the DocGen service version.
const ServiceVersion = "0.1.0"

var tracer = otel.Tracer("aleutian.docgen")

// LLMSettings selects the model used by new runs.
type LLMSettings struct {
	Client llm.ChatClient

	// Model overrides the client's default model when set.
	Model string

	// Temperature for every request. Default: 0.3
	Temperature float32

	// NodeMaxTokens bounds file and directory completions. Default: 8192
	NodeMaxTokens int

	// RollupMaxTokens bounds README and reading guide completions.
	// Default: 16384
	RollupMaxTokens int
}

// ServiceConfig configures the DocGen service.
type ServiceConfig struct {
	// Scan controls which files are documented.
	Scan tree.ScanConfig

	// Concurrency is used when a request does not set one.
	// Default: 3
	Concurrency int

	// LLM is the initial model selection. Runs cannot start until a
	// client is set here or through UpdateLLM.
	LLM LLMSettings

	// Store persists run snapshots. Optional.
	Store *runstore.Store

	// Metrics records run and node outcomes. Optional.
	Metrics *observability.Metrics

	Logger *slog.Logger
}

// DefaultServiceConfig returns defaults without an LLM client or store.
func DefaultServiceConfig() ServiceConfig {
	gen := artifact.DefaultConfig()
	return ServiceConfig{
		Scan:        tree.DefaultScanConfig(),
		Concurrency: scheduler.DefaultConcurrency,
		LLM: LLMSettings{
			Temperature:     gen.Temperature,
			NodeMaxTokens:   gen.NodeMaxTokens,
			RollupMaxTokens: gen.RollupMaxTokens,
		},
	}
}

// Run is a handle on one documentation run.
//
// Thread Safety: safe for concurrent use.
type Run struct {
	ID         string
	SourcePath string
	DocsPath   string

	task *progress.TaskState
	done chan struct{}
	err  error
}

// Snapshot returns the current run record.
func (r *Run) Snapshot() progress.RunState { return r.task.Snapshot() }

// Cancel requests cancellation. Nodes already started finish first.
// Returns false if the run already reached a terminal state.
func (r *Run) Cancel() bool { return r.task.Cancel() }

// Subscribe attaches a progress subscriber that first replays the run's
// history.
func (r *Run) Subscribe() *progress.Subscription { return r.task.Subscribe() }

// Done is closed once the run has finished and been persisted.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the scheduler's result. Valid after Done is closed.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Service owns every run started by this process.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Multiple goroutines can call
//	any combination of methods simultaneously.
type Service struct {
	cfg    ServiceConfig
	logger *slog.Logger

	mu      sync.RWMutex
	llm     LLMSettings
	runs    map[string]*Run
	active  map[string]string // docs path -> run ID
	closing bool

	baseCtx context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates the service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = scheduler.DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, abort := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		logger:  logger.With("service", "docgen"),
		llm:     cfg.LLM,
		runs:    make(map[string]*Run),
		active:  make(map[string]string),
		baseCtx: ctx,
		abort:   abort,
	}
}

// UpdateLLM replaces the model selection for runs started afterwards.
// Runs already executing keep their client.
func (s *Service) UpdateLLM(settings LLMSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llm = settings
	s.logger.Info("LLM settings updated", "model", settings.Model)
}

// LLMConfigured reports whether runs can start.
func (s *Service) LLMConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.llm.Client != nil
}

// StoreOK reports whether run history is persisted.
func (s *Service) StoreOK() bool { return s.cfg.Store != nil }

// Metrics returns the configured metrics, possibly nil.
func (s *Service) Metrics() *observability.Metrics { return s.cfg.Metrics }

// StartRun scans the source tree and starts a run in the background.
//
// Description:
//
//	Scans req.SourcePath, prepares the docs root and checkpoint, and
//	launches the scheduler. With resume (the default) the checkpoint is
//	loaded and reconciled with the artifacts already on disk; otherwise
//	it is cleared. The run outlives ctx; use Run.Cancel or Shutdown to
//	stop it.
//
// Inputs:
//
//	ctx - Bounds the setup only.
//	req - The run request. SourcePath is required.
//
// Outputs:
//
//	*Run - The started run, already registered.
//	error - ErrSourceRequired, tree.ErrPathNotFound, tree.ErrNotADirectory,
//	        ErrRunActive, ErrNoLLMClient, ErrShuttingDown, or a docs root
//	        setup failure.
func (s *Service) StartRun(ctx context.Context, req StartRequest) (*Run, error) {
	if strings.TrimSpace(req.SourcePath) == "" {
		return nil, ErrSourceRequired
	}
	ctx, span := tracer.Start(ctx, "docgen.StartRun",
		trace.WithAttributes(attribute.String("docgen.source", req.SourcePath)))
	defer span.End()

	src, err := filepath.Abs(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	root, err := tree.NewScanner(s.cfg.Scan).Scan(src)
	if err != nil {
		return nil, err
	}

	docs := req.DocsPath
	if docs == "" {
		docs = layout.DefaultDocsPath(src)
	}
	if docs, err = filepath.Abs(docs); err != nil {
		return nil, fmt.Errorf("resolve docs path: %w", err)
	}

	id := uuid.NewString()
	settings, err := s.reserve(docs, id)
	if err != nil {
		return nil, err
	}
	logger := telemetry.LoggerWithTrace(ctx, s.logger).With("run_id", id)

	l := layout.New(docs)
	store, err := prepareCheckpoint(l, root, req.ShouldResume(), logger)
	if err != nil {
		s.release(docs, id)
		return nil, err
	}

	gen, err := artifact.NewGenerator(artifact.Config{
		Layout:          l,
		Client:          settings.Client,
		Model:           settings.Model,
		Temperature:     settings.Temperature,
		NodeMaxTokens:   settings.NodeMaxTokens,
		RollupMaxTokens: settings.RollupMaxTokens,
		Logger:          logger,
	})
	if err != nil {
		s.release(docs, id)
		return nil, err
	}

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = s.cfg.Concurrency
	}
	task := progress.NewTaskState(id, src, docs)
	sched := scheduler.New(scheduler.Config{
		Concurrency: concurrency,
		Logger:      logger,
		Metrics:     s.cfg.Metrics,
	}, tree.New(root), store, gen, graph.NewAggregator(l, logger), task)

	run := &Run{
		ID:         id,
		SourcePath: src,
		DocsPath:   docs,
		task:       task,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()
	s.persist(run)

	span.SetAttributes(attribute.String("docgen.run_id", id))
	logger.Info("Run started",
		"source_path", src,
		"docs_path", docs,
		"resume", req.ShouldResume(),
		"concurrency", scheduler.ClampConcurrency(concurrency))

	s.wg.Add(1)
	go s.execute(run, sched, logger)
	return run, nil
}

// reserve claims docs for run id and returns the LLM settings to use.
func (s *Service) reserve(docs, id string) (LLMSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return LLMSettings{}, ErrShuttingDown
	}
	if s.llm.Client == nil {
		return LLMSettings{}, ErrNoLLMClient
	}
	if other, ok := s.active[docs]; ok {
		return LLMSettings{}, fmt.Errorf("%w: %s", ErrRunActive, other)
	}
	s.active[docs] = id
	return s.llm, nil
}

func (s *Service) release(docs, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[docs] == id {
		delete(s.active, docs)
	}
}

func prepareCheckpoint(l layout.Layout, root *tree.Node, resume bool, logger *slog.Logger) (*checkpoint.Store, error) {
	store := checkpoint.New(l, logger)
	if err := store.Init(); err != nil {
		return nil, err
	}
	if !resume {
		if err := store.Clear(); err != nil {
			return nil, err
		}
		return store, nil
	}

	if _, err := store.Load(); err != nil {
		logger.Warn("Ignoring unreadable checkpoint", "error", err)
		if err := store.Clear(); err != nil {
			logger.Warn("Failed to clear checkpoint", "error", err)
		}
	}
	if err := store.ScanExistingArtifacts(); err != nil {
		logger.Warn("Failed to scan existing documents", "error", err)
	}
	if n := store.Restore(root); n > 0 {
		logger.Info("Restored completed nodes", "count", n)
	}
	return store, nil
}

func (s *Service) execute(run *Run, sched *scheduler.Scheduler, logger *slog.Logger) {
	defer s.wg.Done()
	err := sched.Run(s.baseCtx)

	run.err = err
	s.persist(run)
	s.release(run.DocsPath, run.ID)
	close(run.done)

	snap := run.Snapshot()
	logger.Info("Run finished",
		"status", snap.Status,
		"processed_files", snap.Stats.ProcessedFiles,
		"processed_dirs", snap.Stats.ProcessedDirs,
		"failed", snap.Stats.FailedCount,
		"skipped", snap.Stats.SkippedCount)
}

func (s *Service) persist(run *Run) {
	if s.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Store.Put(ctx, run.Snapshot()); err != nil {
		s.logger.Warn("Failed to persist run", "run_id", run.ID, "error", err)
	}
}

// Run returns the in-memory handle for id.
func (s *Service) Run(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// Status returns the run record for id, falling back to the run store
// for runs from an earlier process.
func (s *Service) Status(ctx context.Context, id string) (progress.RunState, error) {
	if r, ok := s.Run(id); ok {
		return r.Snapshot(), nil
	}
	if s.cfg.Store == nil {
		return progress.RunState{}, ErrRunNotFound
	}
	st, err := s.cfg.Store.Get(ctx, id)
	if errors.Is(err, runstore.ErrNotFound) {
		return progress.RunState{}, ErrRunNotFound
	}
	return st, err
}

// List returns every known run, newest first.
func (s *Service) List(ctx context.Context) ([]progress.RunState, error) {
	s.mu.RLock()
	seen := make(map[string]struct{}, len(s.runs))
	out := make([]progress.RunState, 0, len(s.runs))
	for id, r := range s.runs {
		seen[id] = struct{}{}
		out = append(out, r.Snapshot())
	}
	s.mu.RUnlock()

	if s.cfg.Store != nil {
		stored, err := s.cfg.Store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, st := range stored {
			if _, ok := seen[st.ID]; !ok {
				out = append(out, st)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Cancel requests cancellation of run id.
func (s *Service) Cancel(ctx context.Context, id string) (progress.RunState, error) {
	r, ok := s.Run(id)
	if !ok {
		if _, err := s.Status(ctx, id); err != nil {
			return progress.RunState{}, err
		}
		return progress.RunState{}, ErrRunFinished
	}
	if !r.Cancel() {
		return r.Snapshot(), ErrRunFinished
	}
	s.logger.Info("Run cancellation requested", "run_id", id)
	return r.Snapshot(), nil
}

// ActiveRuns returns the number of runs still executing.
func (s *Service) ActiveRuns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Shutdown stops accepting runs, cancels the running ones and waits for
// them to drain. If ctx ends first, LLM calls in flight are aborted.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.Unlock()

	for _, r := range runs {
		r.Cancel()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.abort()
		return nil
	case <-ctx.Done():
		s.abort()
		<-drained
		return ctx.Err()
	}
}

// =============================================================================
// Graph queries
// =============================================================================

// ProjectGraph reads the merged project graph under docsPath.
func (s *Service) ProjectGraph(docsPath string) (*graph.ProjectGraph, error) {
	g, err := graph.LoadProjectGraph(layout.New(docsPath).ProjectGraph())
	return g, graphErr(err)
}

// FileGraph reads the graph artifact of one source file.
func (s *Service) FileGraph(docsPath, filePath string) (*graph.FileGraph, error) {
	rel, err := cleanRel(filePath)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrGraphNotFound)
	}
	g, err := graph.LoadFileGraph(layout.New(docsPath).FileGraph(rel))
	return g, graphErr(err)
}

// DirGraph reads the graph artifact of one directory. An empty dirPath
// selects the root.
func (s *Service) DirGraph(docsPath, dirPath string) (*graph.DirGraph, error) {
	rel, err := cleanRel(dirPath)
	if err != nil {
		return nil, err
	}
	g, err := graph.LoadDirGraph(layout.New(docsPath).DirGraph(rel))
	return g, graphErr(err)
}

func graphErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrGraphNotFound, err)
	}
	return err
}

// cleanRel normalizes a node path relative to the docs root.
func cleanRel(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if filepath.IsAbs(p) {
		return "", ErrPathTraversal
	}
	c := filepath.ToSlash(filepath.Clean(p))
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", ErrPathTraversal
	}
	if c == "." {
		return "", nil
	}
	return c, nil
}
