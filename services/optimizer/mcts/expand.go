// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"context"
	"fmt"
	"slices"

	"github.com/paretolabs/planopt/services/optimizer/directives"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// expand grows one child under leaf for the given goal: build the restricted
// candidate menu, ask the oracle for one action, instantiate the chosen
// directive, persist the derived plan, and attach the new node.
//
// Expansion never mutates the parent's plan; it only extends the tree and
// the parent's action bookkeeping.
func (s *Search) expand(ctx context.Context, leaf *Node, goal Goal) (*Node, error) {
	menu := s.buildMenu(leaf, goal)
	if len(menu) == 0 {
		return nil, fmt.Errorf("%w: goal %s on %s", ErrExpansionExhausted, goal, leaf.Plan().Name)
	}

	octx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	rec, err := s.oracle.Recommend(octx, RecommendRequest{
		Plan:               leaf.Plan(),
		Goal:               goal,
		Menu:               menu,
		CatalogDescription: s.registry.Describe(),
		SampleInput:        s.sampleInput,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("recommendation for goal %s: %w", goal, err)
	}

	directive, ok := s.registry.Get(rec.Directive)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDirective, rec.Directive)
	}

	// The oracle conventionally picks from the menu, but responses naming
	// operators outside it are applied as-is. Known correctness gap.
	for _, target := range rec.TargetOperators {
		if !menuOffers(menu, target, rec.Directive) {
			s.logger.Warn("oracle target outside candidate menu",
				"goal", goal, "directive", rec.Directive, "operator", target)
		}
	}

	// Mark on the expanded node first so this branch never re-offers the
	// same action, even if instantiation fails below.
	for _, target := range rec.TargetOperators {
		leaf.MarkActionUsed(goal, target, rec.Directive)
	}

	ictx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	newOps, interaction, err := directive.Instantiate(ictx, directives.InstantiateRequest{
		DefaultModel: leaf.Plan().Spec.DefaultModel,
		Operators:    leaf.Plan().Spec.Operations,
		Targets:      rec.TargetOperators,
		AgentModel:   s.cfg.AgentModel,
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInstantiationFailure, rec.Directive, err)
	}
	if len(newOps) == 0 {
		return nil, fmt.Errorf("%w: %s returned no operators", ErrInstantiationFailure, rec.Directive)
	}
	s.logger.Debug("directive instantiated",
		"goal", goal, "directive", rec.Directive,
		"targets", rec.TargetOperators, "interaction_turns", len(interaction))

	child, err := s.buildChild(leaf, goal, rec, newOps)
	if err != nil {
		return nil, err
	}

	leaf.AddChild(child)
	s.coupleBookkeeping(child, rec)
	nodesCreated.Add(ctx, 1)

	s.logger.Info("expanded",
		"goal", goal,
		"directive", rec.Directive,
		"targets", rec.TargetOperators,
		"child", child.Plan().Name)
	return child, nil
}

// buildMenu assembles the goal's restricted candidate menu. The accuracy
// goal offers every unused (operator, directive) pair; the cost goal offers
// only the model-substitution directive per operator.
func (s *Search) buildMenu(leaf *Node, goal Goal) []ActionOption {
	var menu []ActionOption
	for _, op := range leaf.Plan().Spec.Operations {
		if goal == GoalCost {
			if !leaf.ActionUsed(GoalCost, op.Name, directives.NameChangeModel) {
				menu = append(menu, ActionOption{Operator: op.Name, Directive: directives.NameChangeModel})
			}
			continue
		}
		for _, name := range s.registry.Names() {
			if !leaf.ActionUsed(GoalAccuracy, op.Name, name) {
				menu = append(menu, ActionOption{Operator: op.Name, Directive: name})
			}
		}
	}
	return menu
}

// buildChild derives, persists, and wraps the child plan.
func (s *Search) buildChild(leaf *Node, goal Goal, rec Recommendation, newOps []pipeline.Operator) (*Node, error) {
	spec, err := pipeline.Clone(leaf.Plan().Spec)
	if err != nil {
		return nil, fmt.Errorf("%w: clone spec: %v", ErrInstantiationFailure, err)
	}

	replacement := directives.ReplacementNames(spec.Operations, newOps, rec.TargetOperators)
	spec.Operations = newOps
	// Children always re-execute; cached results would hide the rewrite.
	spec.BypassCache = true
	pipeline.RewriteSteps(spec, rec.TargetOperators, replacement)
	pipeline.NormalizeModels(spec, s.cfg.ModelProvider)

	ordinal := leaf.ChildCount() + 1
	specPath, artifactPath := pipeline.ChildPaths(leaf.Plan().Path, ordinal, string(goal))
	spec.Pipeline.Output.Path = artifactPath

	plan := pipeline.NewPlan(specPath, spec)
	if err := pipeline.Save(plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanStorage, err)
	}
	return NewNode(plan, leaf), nil
}

// coupleBookkeeping records implied action usage on the fresh child so a
// logically equivalent rewrite is not immediately re-offered: gleaning
// subsumes chaining for the accuracy goal, and model substitution consumes
// the action for both goals.
func (s *Search) coupleBookkeeping(child *Node, rec Recommendation) {
	switch rec.Directive {
	case directives.NameGleaning:
		for _, target := range rec.TargetOperators {
			child.MarkActionUsed(GoalAccuracy, target, directives.NameChaining)
		}
	case directives.NameChangeModel:
		for _, target := range rec.TargetOperators {
			child.MarkActionUsed(GoalAccuracy, target, directives.NameChangeModel)
			child.MarkActionUsed(GoalCost, target, directives.NameChangeModel)
		}
	}
}

func menuOffers(menu []ActionOption, operator, directive string) bool {
	return slices.ContainsFunc(menu, func(opt ActionOption) bool {
		return opt.Operator == operator && opt.Directive == directive
	})
}
