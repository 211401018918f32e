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
	"log/slog"

	"github.com/paretolabs/planopt/services/optimizer/comparator"
)

// Value contributions for frontier membership changes.
const (
	rewardEnterFrontier = 1.0
	rewardEvicted       = -1.0
)

// ComparisonRecord accumulates a plan's pairwise accuracy outcomes, kept for
// the frontier export.
type ComparisonRecord struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Ties   int `json:"ties"`
}

// Frontier maintains the non-dominated set of executed plans under the
// (cost, accuracy) partial order. Cost is totally ordered; accuracy exists
// only through pairwise oracle comparison.
//
// Thread Safety: not safe for concurrent use; the controller serializes all
// insertions.
type Frontier struct {
	cmp    comparator.Comparator
	logger *slog.Logger

	// all nodes ever inserted, in insertion order
	plans []*Node

	// current frontier membership
	members map[*Node]struct{}

	// per-plan accuracy comparison record
	records map[*Node]*ComparisonRecord
}

// NewFrontier builds an empty frontier resolving accuracy through cmp.
func NewFrontier(cmp comparator.Comparator, logger *slog.Logger) *Frontier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontier{
		cmp:     cmp,
		logger:  logger,
		members: make(map[*Node]struct{}),
		records: make(map[*Node]*ComparisonRecord),
	}
}

// Size returns the current frontier membership count.
func (f *Frontier) Size() int {
	return len(f.members)
}

// TotalPlans returns the number of plans ever inserted.
func (f *Frontier) TotalPlans() int {
	return len(f.plans)
}

// Contains reports whether node is currently on the frontier.
func (f *Frontier) Contains(node *Node) bool {
	_, ok := f.members[node]
	return ok
}

// Members returns the current frontier members in insertion order.
func (f *Frontier) Members() []*Node {
	out := make([]*Node, 0, len(f.members))
	for _, n := range f.plans {
		if f.Contains(n) {
			out = append(out, n)
		}
	}
	return out
}

// Record returns the accuracy comparison record for node, zero-valued if
// the node was never compared.
func (f *Frontier) Record(node *Node) ComparisonRecord {
	if rec, ok := f.records[node]; ok {
		return *rec
	}
	return ComparisonRecord{}
}

// Add inserts a newly executed plan and returns the signed value deltas for
// every node whose frontier membership changed.
//
// Dominance: M weakly dominates P when cost_M <= cost_P and acc_M >= acc_P
// with a strict advantage on at least one axis. A dominated insert returns
// an empty delta map. Otherwise the entrant gets a positive delta and every
// member it dominates is evicted with a negative delta. Accuracy ties break
// on cost alone; a full tie retains both plans.
func (f *Frontier) Add(ctx context.Context, node *Node) (map[*Node]float64, error) {
	if !node.Plan().Executed() {
		return nil, fmt.Errorf("frontier: plan %q is not executed", node.Plan().Name)
	}

	members := f.Members()

	// Judge the entrant against every member first, so the scan-and-evict
	// below is atomic with respect to comparison failures.
	prefs := make(map[*Node]comparator.Preference, len(members))
	for _, m := range members {
		pref, err := f.cmp.Compare(ctx, node.Plan(), m.Plan())
		if err != nil {
			return nil, fmt.Errorf("frontier: compare %s vs %s: %w",
				node.Plan().Name, m.Plan().Name, err)
		}
		prefs[m] = pref
	}

	f.plans = append(f.plans, node)
	f.ensureRecord(node)
	for m, pref := range prefs {
		f.tally(node, m, pref)
	}

	// Rejected when any existing member weakly dominates the entrant.
	for _, m := range members {
		if dominates(m.Plan().Cost, node.Plan().Cost, prefs[m].Invert()) {
			f.logger.Debug("plan dominated on insert",
				"plan", node.Plan().Name, "by", m.Plan().Name)
			return map[*Node]float64{}, nil
		}
	}

	deltas := make(map[*Node]float64)
	for _, m := range members {
		if dominates(node.Plan().Cost, m.Plan().Cost, prefs[m]) {
			delete(f.members, m)
			deltas[m] = rewardEvicted
			f.logger.Debug("frontier eviction",
				"evicted", m.Plan().Name, "by", node.Plan().Name)
		}
	}

	f.members[node] = struct{}{}
	deltas[node] = rewardEnterFrontier
	f.logger.Info("frontier insertion",
		"plan", node.Plan().Name,
		"cost", node.Plan().Cost,
		"frontier_size", len(f.members),
		"evicted", len(deltas)-1)
	return deltas, nil
}

// dominates reports whether a plan with cost costA and accuracy preference
// prefA (relative to the other plan) weakly dominates the other: no worse on
// both axes, strictly better on at least one.
func dominates(costA, costB float64, prefA comparator.Preference) bool {
	accNoWorse := prefA == comparator.PreferA || prefA == comparator.Tie
	accBetter := prefA == comparator.PreferA
	costNoWorse := costA <= costB
	costBetter := costA < costB
	return costNoWorse && accNoWorse && (costBetter || accBetter)
}

func (f *Frontier) ensureRecord(node *Node) *ComparisonRecord {
	rec, ok := f.records[node]
	if !ok {
		rec = &ComparisonRecord{}
		f.records[node] = rec
	}
	return rec
}

// tally books the pairwise outcome on both plans' records.
func (f *Frontier) tally(entrant, member *Node, pref comparator.Preference) {
	e := f.ensureRecord(entrant)
	m := f.ensureRecord(member)
	switch pref {
	case comparator.PreferA:
		e.Wins++
		m.Losses++
	case comparator.PreferB:
		e.Losses++
		m.Wins++
	case comparator.Tie:
		e.Ties++
		m.Ties++
	}
}
