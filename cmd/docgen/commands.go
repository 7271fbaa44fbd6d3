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
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocs/cmd/docgen/config"
	"github.com/AleutianAI/AleutianDocs/pkg/logging"
	"github.com/AleutianAI/AleutianDocs/services/docgen"
	"github.com/AleutianAI/AleutianDocs/services/llm"
)

// app carries what every command needs once the root pre-run has loaded
// the config.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	jsonLogs   bool

	cfg    config.DocGenConfig
	log    *logging.Logger
	logger *slog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "docgen",
		Short: "Generate LLM documentation for a source tree",
		Long: `docgen documents every file and directory of a project deepest first,
then writes a README, a reading guide and a merged code graph.
Runs resume from whatever an earlier run left on disk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.aleutian/docgen.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.BoolVar(&a.jsonLogs, "json-logs", false, "write console logs as JSON")

	root.AddCommand(
		newServeCmd(a),
		newGenerateCmd(a),
		newGraphCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads the config and builds the logger.
func (a *app) setup() error {
	if a.configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		a.configPath = p
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	levelName := cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	a.log = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "docgen",
		JSON:    cfg.Logging.JSON || a.jsonLogs,
		Output:  a.stderr,
	})
	a.logger = a.log.Slog()
	slog.SetDefault(a.logger)
	return nil
}

// serviceConfig maps the loaded config onto the service. The LLM client
// is left unset; see buildLLM.
func (a *app) serviceConfig() docgen.ServiceConfig {
	svc := docgen.DefaultServiceConfig()
	svc.Scan = a.cfg.DocGen.ScanConfig()
	svc.Scan.Logger = a.logger
	svc.Concurrency = a.cfg.DocGen.Concurrency
	svc.Logger = a.logger
	return svc
}

// buildLLM creates the client described by cfg. The plaintext key is
// cleared from cfg once the client holds it.
func buildLLM(cfg *config.LLMConfig) (docgen.LLMSettings, error) {
	client, err := llm.NewClient(cfg.ClientConfig())
	cfg.APIKey = ""
	if err != nil {
		return docgen.LLMSettings{}, err
	}
	settings := docgen.DefaultServiceConfig().LLM
	settings.Client = client
	settings.Model = cfg.Model
	settings.Temperature = cfg.Temperature
	if cfg.MaxTokens > 0 {
		settings.NodeMaxTokens = cfg.MaxTokens
	}
	if cfg.RollupMaxTokens > 0 {
		settings.RollupMaxTokens = cfg.RollupMaxTokens
	}
	return settings, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the docgen version",
		Args:  cobra.NoArgs,
		// No config is needed to print a version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "docgen %s (%s %s/%s)\n",
				docgen.ServiceVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
