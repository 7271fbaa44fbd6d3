// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact turns tree nodes into generated documents and graph
// artifacts by prompting an LLM.
//
// Every artifact path comes from layout, and every write goes through
// fsutil.WriteFileAtomic, so a document either exists in full or not at
// all.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianDocs/pkg/fsutil"
	"github.com/AleutianAI/AleutianDocs/pkg/telemetry"
	"github.com/AleutianAI/AleutianDocs/services/docgen/graph"
	"github.com/AleutianAI/AleutianDocs/services/docgen/layout"
	"github.com/AleutianAI/AleutianDocs/services/docgen/tree"
	"github.com/AleutianAI/AleutianDocs/services/llm"
)

var tracer = otel.Tracer("aleutian.docgen.artifact")

const (
	timestampLayout = "2006-01-02 15:04:05"
	docSeparator    = "\n\n---\n\n"
	footer          = "*Generated by Aleutian DocGen*"
)

// Config configures a Generator.
type Config struct {
	Layout layout.Layout
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

	Logger *slog.Logger

	// Now stamps document headers. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns generation defaults without a layout or client.
func DefaultConfig() Config {
	return Config{
		Temperature:     0.3,
		NodeMaxTokens:   8192,
		RollupMaxTokens: 16384,
	}
}

// Result is the split LLM output for one node.
type Result struct {
	Doc   string
	Graph *graph.Raw
}

// Generator prompts the LLM for nodes and roll-ups and writes artifacts.
//
// Thread Safety: safe for concurrent use. It holds no mutable state.
type Generator struct {
	cfg    Config
	logger *slog.Logger
}

// NewGenerator validates cfg and fills defaults.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	def := DefaultConfig()
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.NodeMaxTokens <= 0 {
		cfg.NodeMaxTokens = def.NodeMaxTokens
	}
	if cfg.RollupMaxTokens <= 0 {
		cfg.RollupMaxTokens = def.RollupMaxTokens
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{cfg: cfg, logger: logger.With("component", "artifact")}, nil
}

// Layout returns the artifact layout in use.
func (g *Generator) Layout() layout.Layout { return g.cfg.Layout }

// AnalyzeFile reads a source file and asks the LLM to document it.
//
// Description:
//
//	Sends one user message holding the relative path and the full file
//	content. The reply is split with SplitResponse. A malformed graph
//	section is logged at Warn and dropped.
//
// Errors:
//
//	*GeneratorError wrapping the read or LLM failure.
func (g *Generator) AnalyzeFile(ctx context.Context, n *tree.Node) (*Result, error) {
	ctx, span := tracer.Start(ctx, "artifact.AnalyzeFile",
		trace.WithAttributes(attribute.String("docgen.path", n.RelPath)))
	defer span.End()

	content, err := os.ReadFile(n.AbsPath)
	if err != nil {
		return nil, g.fail(span, n.RelPath, "read source", err)
	}

	text, err := g.complete(ctx, FilePrompt(n.RelPath, string(content)), g.cfg.NodeMaxTokens)
	if err != nil {
		return nil, g.fail(span, n.RelPath, "analyze file", err)
	}
	return g.split(n.RelPath, text), nil
}

// SummarizeDir asks the LLM to summarize a directory from the documents
// already written for its direct children.
//
// Errors:
//
//	ErrNoChildDocs when no child document could be read.
//	*GeneratorError wrapping the LLM failure.
func (g *Generator) SummarizeDir(ctx context.Context, n *tree.Node, children []tree.ChildDoc) (*Result, error) {
	ctx, span := tracer.Start(ctx, "artifact.SummarizeDir",
		trace.WithAttributes(
			attribute.String("docgen.path", n.RelPath),
			attribute.Int("docgen.children", len(children))))
	defer span.End()

	childDocs := g.JoinDocuments(children, false)
	if childDocs == "" {
		return nil, ErrNoChildDocs
	}

	text, err := g.complete(ctx, DirPrompt(n.Name, n.RelPath, childDocs), g.cfg.NodeMaxTokens)
	if err != nil {
		return nil, g.fail(span, n.RelPath, "summarize directory", err)
	}
	return g.split(n.RelPath, text), nil
}

// WriteFileArtifacts stores the document and, when present, the graph of
// a file node. A graph write failure is logged and does not fail the
// call. It returns the document path.
func (g *Generator) WriteFileArtifacts(n *tree.Node, res *Result) (string, error) {
	docPath := g.cfg.Layout.FileDoc(n.RelPath)
	if err := g.write(docPath, []byte(g.formatFileDoc(n, res.Doc))); err != nil {
		return "", &GeneratorError{Path: n.RelPath, Op: "write file doc", Err: err}
	}
	if res.Graph != nil {
		fg := graph.NewFileGraph(n.RelPath, *res.Graph)
		g.writeGraph(g.cfg.Layout.FileGraph(n.RelPath), n.RelPath, fg)
	}
	return docPath, nil
}

// WriteDirArtifacts is WriteFileArtifacts for a directory node.
func (g *Generator) WriteDirArtifacts(n *tree.Node, res *Result) (string, error) {
	docPath := g.cfg.Layout.DirDoc(n.RelPath)
	if err := g.write(docPath, []byte(g.formatDirDoc(n, res.Doc))); err != nil {
		return "", &GeneratorError{Path: n.RelPath, Op: "write directory doc", Err: err}
	}
	if res.Graph != nil {
		dg := graph.NewDirGraph(n.RelPath, *res.Graph)
		g.writeGraph(g.cfg.Layout.DirGraph(n.RelPath), n.RelPath, dg)
	}
	return docPath, nil
}

// GenerateReadme writes README.md from every generated document and
// returns its path.
func (g *Generator) GenerateReadme(ctx context.Context, projectName, projectPath string, docs []tree.ChildDoc) (string, error) {
	ctx, span := tracer.Start(ctx, "artifact.GenerateReadme",
		trace.WithAttributes(attribute.Int("docgen.documents", len(docs))))
	defer span.End()

	text, err := g.complete(ctx, ReadmePrompt(projectName, projectPath, g.JoinDocuments(docs, true)), g.cfg.RollupMaxTokens)
	if err != nil {
		return "", g.fail(span, layout.ReadmeName, "generate README", err)
	}

	path := g.cfg.Layout.Readme()
	body := fmt.Sprintf("%s%s%s\n*Generated at: %s*\n", strings.TrimRight(text, "\n"), docSeparator, footer, g.stamp())
	if err := g.write(path, []byte(body)); err != nil {
		return "", g.fail(span, layout.ReadmeName, "write README", err)
	}
	g.logger.Info("README saved", "path", path)
	return path, nil
}

// GenerateReadingGuide writes READING_GUIDE.md and returns its path.
func (g *Generator) GenerateReadingGuide(ctx context.Context, projectName, structure string, docs []tree.ChildDoc) (string, error) {
	ctx, span := tracer.Start(ctx, "artifact.GenerateReadingGuide",
		trace.WithAttributes(attribute.Int("docgen.documents", len(docs))))
	defer span.End()

	text, err := g.complete(ctx, ReadingGuidePrompt(projectName, structure, g.JoinDocuments(docs, true)), g.cfg.RollupMaxTokens)
	if err != nil {
		return "", g.fail(span, layout.ReadingGuideName, "generate reading guide", err)
	}

	path := g.cfg.Layout.ReadingGuide()
	body := fmt.Sprintf("# %s - Reading Guide\n\n> Read the project documents in this order to build up an understanding of its structure and core logic.%s%s%s%s\n*Generated at: %s*\n",
		projectName, docSeparator, strings.TrimRight(text, "\n"), docSeparator, footer, g.stamp())
	if err := g.write(path, []byte(body)); err != nil {
		return "", g.fail(span, layout.ReadingGuideName, "write reading guide", err)
	}
	g.logger.Info("Reading guide saved", "path", path)
	return path, nil
}

// JoinDocuments concatenates the documents as "### <heading>" sections.
// The heading is the relative path when byRelPath is set, else the
// name. Unreadable documents are logged and left out.
func (g *Generator) JoinDocuments(docs []tree.ChildDoc, byRelPath bool) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.ArtifactPath == "" {
			continue
		}
		content, err := os.ReadFile(d.ArtifactPath)
		if err != nil {
			g.logger.Error("Failed to read child document", "path", d.ArtifactPath, "error", err)
			continue
		}
		heading := d.Name
		if byRelPath {
			heading = d.RelPath
			if heading == "" {
				heading = d.Name
			}
		}
		parts = append(parts, fmt.Sprintf("### %s\n\n%s", heading, content))
	}
	return strings.Join(parts, docSeparator)
}

func (g *Generator) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	params := llm.GenerationParams{
		Model:       g.cfg.Model,
		Temperature: llm.Float32(g.cfg.Temperature),
		MaxTokens:   llm.Int(maxTokens),
	}
	return llm.Collect(ctx, g.cfg.Client, messages, params)
}

func (g *Generator) split(rel, text string) *Result {
	doc, raw, parseErr := SplitResponse(text)
	switch {
	case parseErr != nil:
		g.logger.Warn("Discarding malformed graph data", "path", rel, "error", parseErr)
	case raw == nil:
		g.logger.Debug("No graph markers in response", "path", rel)
	default:
		g.logger.Debug("Parsed graph data", "path", rel, "nodes", len(raw.Nodes), "edges", len(raw.Edges))
	}
	return &Result{Doc: doc, Graph: raw}
}

func (g *Generator) write(path string, data []byte) error {
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

func (g *Generator) writeGraph(path, rel string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err == nil {
		err = g.write(path, data)
	}
	if err != nil {
		g.logger.Warn("Failed to save graph data", "path", rel, "error", err)
	}
}

func (g *Generator) fail(span trace.Span, rel, op string, err error) error {
	telemetry.RecordError(span, err, attribute.String("docgen.op", op))
	return &GeneratorError{Path: rel, Op: op, Err: err}
}

func (g *Generator) stamp() string {
	return g.cfg.Now().Format(timestampLayout)
}

func (g *Generator) formatFileDoc(n *tree.Node, summary string) string {
	return fmt.Sprintf("# File: %s\n\n**Source**: `%s`\n**Generated**: %s%s%s\n",
		n.Name, n.RelPath, g.stamp(), docSeparator, summary)
}

func (g *Generator) formatDirDoc(n *tree.Node, summary string) string {
	return fmt.Sprintf("# Directory: %s\n\n**Path**: `%s`\n**Files**: %d\n**Subdirectories**: %d\n**Generated**: %s%s%s\n",
		n.Name, displayPath(n.RelPath, n.Name), n.FileCount(), n.DirCount(), g.stamp(), docSeparator, summary)
}
