// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// Executor runs a persisted plan and reports its realized cost and output
// artifact. Execution is idempotent to retry, but the controller executes
// each plan at most once.
type Executor interface {
	Execute(ctx context.Context, plan *pipeline.Plan) (cost float64, artifactPath string, err error)
}

// CommandExecutor shells out to an external pipeline engine.
//
// The engine is invoked as `<command> <args...> <plan.yaml>` and must print
// a JSON object {"cost": number, "output_path": string} as the last line of
// stdout. When output_path is empty the plan's declared sink path is used.
type CommandExecutor struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// NewCommandExecutor builds an executor for the given engine command.
func NewCommandExecutor(command string, args ...string) *CommandExecutor {
	return &CommandExecutor{Command: command, Args: args, Logger: slog.Default()}
}

type executionReport struct {
	Cost       float64 `json:"cost"`
	OutputPath string  `json:"output_path"`
}

// Execute implements the Executor interface.
func (e *CommandExecutor) Execute(ctx context.Context, plan *pipeline.Plan) (float64, string, error) {
	args := append(append([]string{}, e.Args...), plan.Path)
	cmd := exec.CommandContext(ctx, e.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Logger.Info("executing plan", "plan", plan.Name, "command", e.Command)
	if err := cmd.Run(); err != nil {
		e.Logger.Warn("plan execution failed",
			"plan", plan.Name, "error", err, "stderr", tail(stderr.String(), 2048))
		return 0, "", fmt.Errorf("run %s: %w", plan.Name, err)
	}

	report, err := parseReport(stdout.Bytes())
	if err != nil {
		return 0, "", fmt.Errorf("parse execution report for %s: %w", plan.Name, err)
	}

	artifact := report.OutputPath
	if artifact == "" {
		artifact = plan.Spec.Pipeline.Output.Path
	}
	return report.Cost, artifact, nil
}

// parseReport finds the report object on the last non-empty stdout line,
// tolerating engine chatter above it.
func parseReport(out []byte) (executionReport, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var report executionReport
		if err := json.Unmarshal(line, &report); err == nil {
			return report, nil
		}
	}
	return executionReport{}, fmt.Errorf("no report object found in engine output")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
