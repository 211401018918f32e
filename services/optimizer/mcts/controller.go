// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/paretolabs/planopt/services/optimizer/comparator"
	"github.com/paretolabs/planopt/services/optimizer/directives"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// State is the controller lifecycle state.
type State int32

const (
	StateInitialized State = iota
	StateRunning
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Search drives one MCTS session: selection, dual-goal expansion,
// simulation, and backpropagation over a single tree and frontier.
//
// Thread Safety: a Search instance is driven by one goroutine. Multiple
// independent searches can coexist; there is no shared global state.
type Search struct {
	id       string
	cfg      SearchConfig
	registry *directives.Registry
	oracle   Oracle
	executor Executor
	frontier *Frontier
	logger   *slog.Logger

	root        *Node
	state       atomic.Int32
	iterations  int
	sampleInput string
}

// SearchOption configures a Search at construction.
type SearchOption func(*Search)

// WithSearchLogger sets the session logger.
func WithSearchLogger(logger *slog.Logger) SearchOption {
	return func(s *Search) { s.logger = logger }
}

// WithSampleInput supplies the representative input excerpt shown to the
// oracle, overriding the configured sample file.
func WithSampleInput(sample string) SearchOption {
	return func(s *Search) { s.sampleInput = sample }
}

// NewSearch constructs a session: it executes the root plan, seeds the
// frontier with it, and sets root visits to 1. The returned search is in
// StateInitialized.
func NewSearch(
	ctx context.Context,
	rootPlan *pipeline.Plan,
	cfg SearchConfig,
	registry *directives.Registry,
	oracle Oracle,
	executor Executor,
	cmp comparator.Comparator,
	opts ...SearchOption,
) (*Search, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("search config: %w", err)
	}
	if err := initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	s := &Search{
		id:       uuid.NewString(),
		cfg:      cfg,
		registry: registry,
		oracle:   oracle,
		executor: executor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("search_id", s.id)
	s.frontier = NewFrontier(cmp, s.logger)

	if s.sampleInput == "" && cfg.SampleInputPath != "" {
		s.sampleInput = loadSample(cfg.SampleInputPath, cfg.MaxSampleBytes, s.logger)
	}

	s.root = NewNode(rootPlan, nil)
	if err := s.simulate(ctx, s.root); err != nil {
		return nil, fmt.Errorf("execute root plan: %w", err)
	}
	s.root.IncrementVisits()

	s.logger.Info("search initialized",
		"root", rootPlan.Name,
		"root_cost", rootPlan.Cost,
		"max_iterations", cfg.MaxIterations)
	return s, nil
}

// State returns the controller state.
func (s *Search) State() State {
	return State(s.state.Load())
}

// Root returns the tree root.
func (s *Search) Root() *Node {
	return s.root
}

// Frontier returns the session's Pareto frontier.
func (s *Search) Frontier() *Frontier {
	return s.frontier
}

// Iterations returns the number of completed iterations.
func (s *Search) Iterations() int {
	return s.iterations
}

// Run iterates until the iteration budget is spent, the optional wall-clock
// budget is exceeded, or ctx is cancelled. Cancellation is honored between
// iterations, leaving tree and frontier consistent.
func (s *Search) Run(ctx context.Context) (*SearchSummary, error) {
	if !s.state.CompareAndSwap(int32(StateInitialized), int32(StateRunning)) {
		if s.State() == StateRunning {
			return nil, ErrSearchRunning
		}
		return nil, ErrSearchTerminated
	}
	defer s.state.Store(int32(StateTerminated))

	ctx, span := tracer.Start(ctx, "mcts.run")
	defer span.End()
	span.SetAttributes(attribute.String("search.id", s.id))

	var deadline time.Time
	if s.cfg.MaxDuration > 0 {
		deadline = time.Now().Add(s.cfg.MaxDuration)
	}

	for s.iterations < s.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			s.logger.Info("search cancelled", "iterations", s.iterations)
			return s.Summary(), err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			s.logger.Info("wall-clock budget exceeded", "iterations", s.iterations)
			break
		}

		start := time.Now()
		if err := s.iterate(ctx); err != nil {
			// Only failures below the controller terminate the session.
			s.logger.Error("search terminated by fatal error",
				"iteration", s.iterations, "error", err)
			return s.Summary(), err
		}
		s.iterations++
		iterationDuration.Record(ctx, time.Since(start).Seconds())
	}

	s.logger.Info("search finished",
		"iterations", s.iterations,
		"frontier_size", s.frontier.Size(),
		"plans", s.frontier.TotalPlans())
	return s.Summary(), nil
}

// iterate performs one selection / dual-goal expansion / simulation /
// backpropagation cycle. An iteration in which both expansions fail still
// counts against the budget. Only ErrPlanStorage propagates.
func (s *Search) iterate(ctx context.Context) error {
	leaf := s.selectLeaf()
	s.logger.Debug("selected leaf",
		"plan", leaf.Plan().Name, "depth", leaf.Depth(), "visits", leaf.Visits())

	for _, goal := range []Goal{GoalAccuracy, GoalCost} {
		child, err := s.expand(ctx, leaf, goal)
		if err != nil {
			if errors.Is(err, ErrPlanStorage) {
				return err
			}
			s.noteExpansionFailure(ctx, goal, err)
			continue
		}
		expansionsTotal.Add(ctx, 1, goalAttrs(goal, "ok")...)

		if err := s.simulateAndBackpropagate(ctx, leaf, child); err != nil {
			if errors.Is(err, ErrPlanStorage) {
				return err
			}
			s.logger.Warn("simulation failed, child abandoned",
				"goal", goal, "plan", child.Plan().Name, "error", err)
			simulationsTotal.Add(ctx, 1, goalAttrs(goal, "failed")...)
			continue
		}
		simulationsTotal.Add(ctx, 1, goalAttrs(goal, "ok")...)
	}
	return nil
}

// selectLeaf descends from the root via BestChild while nodes are fully
// explored, stopping at the first expandable node.
func (s *Search) selectLeaf() *Node {
	cur := s.root
	for cur.IsFullyExplored(s.cfg.ExpansionCount) {
		next := cur.BestChild(s.cfg.ExplorationConstant)
		if next == nil {
			break
		}
		cur = next
	}
	return cur
}

// simulateAndBackpropagate executes the freshly expanded child, inserts it
// into the frontier, and propagates the frontier's deltas. A child that
// fails execution or insertion is detached from the tree so no partial node
// survives.
func (s *Search) simulateAndBackpropagate(ctx context.Context, parent, child *Node) error {
	deltas, err := s.simulateWithDeltas(ctx, child)
	if err != nil {
		parent.RemoveChild(child)
		return err
	}
	s.backpropagate(deltas, child)
	return nil
}

// simulate executes the node's plan and inserts it into the frontier,
// discarding the deltas. Used for the root, whose seeding contributes no
// reward.
func (s *Search) simulate(ctx context.Context, node *Node) error {
	_, err := s.simulateWithDeltas(ctx, node)
	return err
}

func (s *Search) simulateWithDeltas(ctx context.Context, node *Node) (map[*Node]float64, error) {
	ectx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	start := time.Now()
	cost, artifact, err := s.executor.Execute(ectx, node.Plan())
	executionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		node.Plan().MarkFailed()
		return nil, fmt.Errorf("%w: %s: %v", ErrExecutionFailure, node.Plan().Name, err)
	}
	if err := node.Plan().MarkExecuted(cost, artifact); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExecutionFailure, err)
	}

	deltas, err := s.frontier.Add(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("%w: frontier insert: %v", ErrExecutionFailure, err)
	}
	frontierSize.Record(ctx, int64(s.frontier.Size()))
	return deltas, nil
}

// backpropagate applies each affected node's delta along its own ancestor
// chain, then increments visits along the simulated node's chain exactly
// once. Value and visit propagation are deliberately decoupled.
func (s *Search) backpropagate(deltas map[*Node]float64, simulated *Node) {
	for node, delta := range deltas {
		if delta == 0 {
			continue
		}
		for cur := node; cur != nil; cur = cur.Parent() {
			cur.AddValue(delta)
		}
	}
	for cur := simulated; cur != nil; cur = cur.Parent() {
		cur.IncrementVisits()
	}
}

// noteExpansionFailure logs and counts one failed goal expansion.
func (s *Search) noteExpansionFailure(ctx context.Context, goal Goal, err error) {
	switch {
	case errors.Is(err, ErrExpansionExhausted):
		s.logger.Debug("goal exhausted", "goal", goal)
		expansionsTotal.Add(ctx, 1, goalAttrs(goal, "exhausted")...)
	case errors.Is(err, ErrUnknownDirective):
		s.logger.Warn("oracle chose unknown directive", "goal", goal, "error", err)
		expansionsTotal.Add(ctx, 1, goalAttrs(goal, "unknown_directive")...)
	case errors.Is(err, ErrInstantiationFailure):
		s.logger.Warn("directive instantiation failed", "goal", goal, "error", err)
		expansionsTotal.Add(ctx, 1, goalAttrs(goal, "instantiation_failed")...)
	default:
		s.logger.Warn("expansion failed", "goal", goal, "error", err)
		expansionsTotal.Add(ctx, 1, goalAttrs(goal, "failed")...)
	}
}

// loadSample reads a bounded excerpt of the sample-input file.
func loadSample(path string, maxBytes int, logger *slog.Logger) string {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("sample input unavailable", "path", path, "error", err)
		return ""
	}
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[:maxBytes]
	}
	return string(data)
}
