// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	searchConfigPath string
	outputDir        string
	cacheDir         string
	runnerCommand    string
	sampleInputPath  string
	logDir           string
	maxIterations    int
	noCache          bool
	verbose          bool
	exportAsJSON     bool
	frontierOnly     bool

	rootCmd = &cobra.Command{
		Use:   "planopt",
		Short: "A cli to optimize document processing pipelines by tree search",
		Long: `Planopt rewrites a declarative pipeline with LLM-guided transformations,
				executes candidate plans, and keeps the Pareto frontier over
				execution cost and judged output accuracy.`,
	}

	searchCmd = &cobra.Command{
		Use:   "search [pipeline.yaml]",
		Short: "Run a search session starting from the given pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch, // Defined in cmd_search.go
	}

	exportCmd = &cobra.Command{
		Use:   "export [results_dir]",
		Short: "Print the plans discovered by a previous search session",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport, // Defined in cmd_export.go
	}
)

func init() {
	searchCmd.Flags().StringVar(&searchConfigPath, "config", "", "Search configuration YAML (defaults apply when omitted)")
	searchCmd.Flags().StringVarP(&outputDir, "output", "o", "planopt_results", "Directory for generated plans and the search summary")
	searchCmd.Flags().StringVar(&cacheDir, "cache-dir", ".planopt/comparisons", "Directory for the persistent comparison cache")
	searchCmd.Flags().StringVar(&runnerCommand, "runner", "pipeline-runner", "Command that executes a plan file and reports cost on stdout")
	searchCmd.Flags().StringVar(&sampleInputPath, "sample-input", "", "Representative input excerpt shown to the rewrite agent")
	searchCmd.Flags().IntVar(&maxIterations, "iterations", 0, "Override max_iterations from the search configuration")
	searchCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the persistent comparison cache")

	exportCmd.Flags().BoolVar(&exportAsJSON, "json", false, "Emit raw JSON instead of a table")
	exportCmd.Flags().BoolVar(&frontierOnly, "frontier", false, "Limit output to frontier members")

	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (stderr only when unset)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
}
