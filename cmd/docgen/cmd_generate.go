// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocs/services/docgen"
)

type generateOptions struct {
	docsPath    string
	noResume    bool
	concurrency int
}

func newGenerateCmd(a *app) *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate <source-dir>",
		Short: "Document a source tree and print progress",
		Long: `Documents a source tree without starting a server. Progress is printed
as it happens. Ctrl-C cancels: nodes already started finish and are
checkpointed, so the next run resumes from there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := buildLLM(&a.cfg.LLM)
			if err != nil {
				return fmt.Errorf("configure LLM: %w", err)
			}
			svcCfg := a.serviceConfig()
			svcCfg.LLM = settings
			return a.generate(cmd.Context(), docgen.NewService(svcCfg), args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.docsPath, "docs", "", "output directory (default <source>/.docs)")
	flags.BoolVar(&opts.noResume, "no-resume", false, "ignore existing artifacts and start over")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 0, "parallel LLM calls, 1-10 (default docgen.concurrency)")
	return cmd
}

// generate runs one documentation pass on svc and prints its events.
// It returns an error when the run fails or is cancelled.
func (a *app) generate(parent context.Context, svc *docgen.Service, source string, opts generateOptions) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
	}()

	resume := !opts.noResume
	run, err := svc.StartRun(ctx, docgen.StartRequest{
		SourcePath:  source,
		DocsPath:    opts.docsPath,
		Resume:      &resume,
		Concurrency: opts.concurrency,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Documenting %s into %s\n", run.SourcePath, run.DocsPath)

	go func() {
		select {
		case <-ctx.Done():
			run.Cancel()
		case <-run.Done():
		}
	}()

	printer := newEventPrinter(a.stdout)
	sub := run.Subscribe()
	defer sub.Close()
	last := -1
	for e := range sub.Events() {
		printer.Print(e, &last)
	}

	<-run.Done()
	return run.Err()
}
