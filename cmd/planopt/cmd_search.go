// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paretolabs/planopt/pkg/logging"
	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/comparator"
	"github.com/paretolabs/planopt/services/optimizer/directives"
	"github.com/paretolabs/planopt/services/optimizer/mcts"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
	"github.com/paretolabs/planopt/services/optimizer/store"
)

// runSearch wires the full optimization stack and runs one session:
// root plan -> tree search -> summary.json / frontier.json in the output
// directory. Ctrl-C stops the search between iterations and still writes
// the partial summary.
func runSearch(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "search",
	})
	defer logger.Close()

	cfg := mcts.DefaultSearchConfig()
	if searchConfigPath != "" {
		var err error
		cfg, err = mcts.LoadSearchConfig(searchConfigPath)
		if err != nil {
			return fmt.Errorf("load search config: %w", err)
		}
	} else {
		cfg.ApplyEnv()
	}
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}
	if sampleInputPath != "" {
		cfg.SampleInputPath = sampleInputPath
	}

	rootPlan, err := pipeline.Load(args[0])
	if err != nil {
		return fmt.Errorf("load pipeline: %w", err)
	}
	pipeline.NormalizeModels(rootPlan.Spec, cfg.ModelProvider)

	client, err := llm.NewOpenAIClient()
	if err != nil {
		return err
	}

	runner := strings.Fields(runnerCommand)
	if len(runner) == 0 {
		return fmt.Errorf("--runner must name a command")
	}
	executor := mcts.NewCommandExecutor(runner[0], runner[1:]...)

	cmpOpts := []comparator.Option{comparator.WithLogger(logger.Slog())}
	if !noCache {
		cache, err := store.Open(store.DefaultConfig(cacheDir))
		if err != nil {
			return fmt.Errorf("open comparison cache: %w", err)
		}
		defer cache.Close()
		cmpOpts = append(cmpOpts, comparator.WithCache(cache))
	}
	judge := comparator.NewLLMComparator(client, cfg.JudgeModel, cmpOpts...)

	registry := directives.NewRegistry(client, cfg.AllowedModels)
	oracle := mcts.NewLLMOracle(client, cfg.AgentModel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	search, err := mcts.NewSearch(ctx, rootPlan, cfg, registry, oracle, executor, judge,
		mcts.WithSearchLogger(logger.Slog()))
	if err != nil {
		return fmt.Errorf("initialize search: %w", err)
	}

	summary, runErr := search.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		// Fatal search errors still leave a consistent partial summary.
		logger.Error("search ended with error", "error", runErr)
	}
	if summary != nil {
		if err := mcts.WriteSummary(summary, outputDir); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		printSummary(summary)
		fmt.Printf("\nResults written to %s\n", outputDir)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
