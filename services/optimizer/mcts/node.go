// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mcts implements the Pareto-guided Monte Carlo tree search over
// pipeline rewrite actions: UCB selection, dual-goal expansion, frontier
// maintenance, and delta-driven backpropagation.
package mcts

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// Goal is one of the two independent expansion objectives. Each goal keeps
// its own action-usage bookkeeping and exhaustion policy.
type Goal string

const (
	GoalAccuracy Goal = "acc"
	GoalCost     Goal = "cost"
)

// Per-operator exploration thresholds: a node only counts as fully explored
// once every operator has seen this many distinct directives per goal.
const (
	minAccuracyDirectivesPerOp = 3
	minCostDirectivesPerOp     = 1
)

// Node owns one executed plan and its position in the search tree.
//
// The parent reference is used for upward traversal only, never for
// lifecycle control; a node's children are exclusively owned by it.
//
// Thread Safety: visit counts are atomic; value and bookkeeping maps are
// mutex-guarded. The controller is the single writer for children.
type Node struct {
	plan   *pipeline.Plan
	parent *Node

	// Visits (atomic)
	visits int64

	// Protected by mu
	mu           sync.Mutex
	value        float64
	children     []*Node
	usedAccuracy map[string]map[string]struct{}
	usedCost     map[string]map[string]struct{}
}

// NewNode creates a node owning plan, attached under parent (nil for the
// root). The plan must already be executed before the node is selectable.
func NewNode(plan *pipeline.Plan, parent *Node) *Node {
	return &Node{
		plan:         plan,
		parent:       parent,
		usedAccuracy: make(map[string]map[string]struct{}),
		usedCost:     make(map[string]map[string]struct{}),
	}
}

// Plan returns the node's plan.
func (n *Node) Plan() *pipeline.Plan {
	return n.plan
}

// Parent returns the node's parent, nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns a snapshot of the node's children in insertion order.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildCount returns the number of children.
func (n *Node) ChildCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.children)
}

// AddChild appends child to the node's owned children.
func (n *Node) AddChild(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, child)
}

// RemoveChild detaches child, used when a freshly expanded child fails
// execution and must not survive in the tree.
func (n *Node) RemoveChild(child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// Visits returns the node's visit count.
func (n *Node) Visits() int64 {
	return atomic.LoadInt64(&n.visits)
}

// IncrementVisits adds one simulation visit.
func (n *Node) IncrementVisits() {
	atomic.AddInt64(&n.visits, 1)
}

// Value returns the accumulated value sum.
func (n *Node) Value() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

// AddValue accumulates delta into the node's running value sum. The UCB
// formula divides by visits at read time.
func (n *Node) AddValue(delta float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.value += delta
}

// UCB returns the node's selection score given its parent's visit count.
// A node with zero visits scores +Inf and is preferred unconditionally.
func (n *Node) UCB(c float64, parentVisits int64) float64 {
	visits := n.Visits()
	if visits == 0 {
		return math.Inf(1)
	}
	exploit := n.Value() / float64(visits)
	explore := c * math.Sqrt(math.Log(float64(parentVisits))/float64(visits))
	return exploit + explore
}

// BestChild returns the child maximizing the UCB score. Ties, including
// multiple zero-visit children, resolve to the earliest-inserted child.
// Returns nil when the node has no children.
func (n *Node) BestChild(c float64) *Node {
	children := n.Children()
	if len(children) == 0 {
		return nil
	}

	parentVisits := n.Visits()
	best := children[0]
	bestScore := best.UCB(c, parentVisits)
	for _, child := range children[1:] {
		if score := child.UCB(c, parentVisits); score > bestScore {
			best = child
			bestScore = score
		}
	}
	return best
}

// MarkActionUsed records that directive was applied to operator for goal.
// Idempotent.
func (n *Node) MarkActionUsed(goal Goal, operator, directive string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	used := n.usedAccuracy
	if goal == GoalCost {
		used = n.usedCost
	}
	set, ok := used[operator]
	if !ok {
		set = make(map[string]struct{})
		used[operator] = set
	}
	set[directive] = struct{}{}
}

// ActionUsed reports whether directive was already applied to operator for
// goal on this node's branch.
func (n *Node) ActionUsed(goal Goal, operator, directive string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	used := n.usedAccuracy
	if goal == GoalCost {
		used = n.usedCost
	}
	_, ok := used[operator][directive]
	return ok
}

// UsedCount returns how many distinct directives were applied to operator
// for goal.
func (n *Node) UsedCount(goal Goal, operator string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	if goal == GoalCost {
		return len(n.usedCost[operator])
	}
	return len(n.usedAccuracy[operator])
}

// IsFullyExplored reports whether the node offers no further expansion:
// either it already carries expansionCount children, or every operator in
// its plan has seen at least 3 distinct accuracy directives and 1 distinct
// cost directive.
func (n *Node) IsFullyExplored(expansionCount int) bool {
	if n.ChildCount() >= expansionCount {
		return true
	}
	for _, op := range n.plan.Spec.Operations {
		if n.UsedCount(GoalAccuracy, op.Name) < minAccuracyDirectivesPerOp {
			return false
		}
		if n.UsedCount(GoalCost, op.Name) < minCostDirectivesPerOp {
			return false
		}
	}
	return true
}

// Depth returns the node's distance from the root.
func (n *Node) Depth() int {
	depth := 0
	for cur := n.parent; cur != nil; cur = cur.parent {
		depth++
	}
	return depth
}
