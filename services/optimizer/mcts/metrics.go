// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for search operations.
var (
	tracer = otel.Tracer("planopt.mcts")
	meter  = otel.Meter("planopt.mcts")
)

// Metrics for search operations.
var (
	expansionsTotal   metric.Int64Counter
	simulationsTotal  metric.Int64Counter
	nodesCreated      metric.Int64Counter
	frontierSize      metric.Int64Histogram
	iterationDuration metric.Float64Histogram
	executionDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		expansionsTotal, err = meter.Int64Counter(
			"planopt_expansions_total",
			metric.WithDescription("Expansion attempts by goal and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		simulationsTotal, err = meter.Int64Counter(
			"planopt_simulations_total",
			metric.WithDescription("Plan simulations by goal and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Counter(
			"planopt_nodes_created_total",
			metric.WithDescription("Tree nodes created"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		frontierSize, err = meter.Int64Histogram(
			"planopt_frontier_size",
			metric.WithDescription("Frontier size after each insertion"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationDuration, err = meter.Float64Histogram(
			"planopt_iteration_duration_seconds",
			metric.WithDescription("Duration of one search iteration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		executionDuration, err = meter.Float64Histogram(
			"planopt_execution_duration_seconds",
			metric.WithDescription("Duration of one plan execution"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// goalAttrs builds the common attribute set for goal-scoped counters.
func goalAttrs(goal Goal, outcome string) []metric.AddOption {
	return []metric.AddOption{
		metric.WithAttributes(
			attribute.String("goal", string(goal)),
			attribute.String("outcome", outcome),
		),
	}
}
