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
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDocs/services/docgen"
)

var errGraphFlags = errors.New("--file and --dir are mutually exclusive")

func newGraphCmd(a *app) *cobra.Command {
	var file, dir string
	var dirSet bool
	cmd := &cobra.Command{
		Use:   "graph <docs-dir>",
		Short: "Print a generated code graph as JSON",
		Long: `Prints the merged project graph, or with --file or --dir the graph of
one source file or directory. Paths are relative to the source root.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirSet = cmd.Flags().Changed("dir")
			if file != "" && dirSet {
				return errGraphFlags
			}
			svc := docgen.NewService(a.serviceConfig())
			defer func() { _ = svc.Shutdown(context.Background()) }()
			return printGraph(cmd.OutOrStdout(), svc, args[0], file, dir, dirSet)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "source file whose graph to print")
	cmd.Flags().StringVar(&dir, "dir", "", "directory whose graph to print (\"\" is the root)")
	return cmd
}

func printGraph(w io.Writer, svc *docgen.Service, docs, file, dir string, dirSet bool) error {
	var v any
	var err error
	switch {
	case file != "":
		v, err = svc.FileGraph(docs, file)
	case dirSet:
		v, err = svc.DirGraph(docs, dir)
	default:
		v, err = svc.ProjectGraph(docs)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
