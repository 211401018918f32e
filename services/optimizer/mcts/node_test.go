// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"math"
	"testing"

	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

func testPlan(name string) *pipeline.Plan {
	return pipeline.NewPlan(name+".yaml", &pipeline.Spec{
		Operations: []pipeline.Operator{
			{Name: "extract", Type: "map", Prompt: "from {{ input.text }}"},
		},
		Pipeline: pipeline.Graph{
			Steps: []pipeline.Step{{Name: "main", Operations: []string{"extract"}}},
		},
	})
}

func childWith(t *testing.T, parent *Node, name string, visits int64, value float64) *Node {
	t.Helper()
	child := NewNode(testPlan(name), parent)
	for i := int64(0); i < visits; i++ {
		child.IncrementVisits()
	}
	child.AddValue(value)
	parent.AddChild(child)
	return child
}

func TestBestChild(t *testing.T) {
	t.Run("zero visit child is preferred unconditionally", func(t *testing.T) {
		root := NewNode(testPlan("root"), nil)
		for i := int64(0); i < 10; i++ {
			root.IncrementVisits()
		}
		childWith(t, root, "a", 5, 100.0)
		fresh := childWith(t, root, "b", 0, 0)

		if got := root.BestChild(1.41); got != fresh {
			t.Errorf("BestChild = %s, want the unvisited child", got.Plan().Name)
		}
	})

	t.Run("strict maximum among visited children", func(t *testing.T) {
		root := NewNode(testPlan("root"), nil)
		for i := int64(0); i < 10; i++ {
			root.IncrementVisits()
		}
		childWith(t, root, "low", 5, 1.0)
		high := childWith(t, root, "high", 5, 4.0)

		if got := root.BestChild(1.41); got != high {
			t.Errorf("BestChild = %s, want high", got.Plan().Name)
		}
	})

	t.Run("exploration bonus favors less visited child", func(t *testing.T) {
		root := NewNode(testPlan("root"), nil)
		for i := int64(0); i < 100; i++ {
			root.IncrementVisits()
		}
		// Same average value; fewer visits means a larger bonus.
		childWith(t, root, "heavy", 50, 50.0)
		light := childWith(t, root, "light", 2, 2.0)

		if got := root.BestChild(1.41); got != light {
			t.Errorf("BestChild = %s, want light", got.Plan().Name)
		}
	})

	t.Run("equal scores resolve to insertion order", func(t *testing.T) {
		root := NewNode(testPlan("root"), nil)
		for i := int64(0); i < 10; i++ {
			root.IncrementVisits()
		}
		first := childWith(t, root, "first", 5, 2.0)
		childWith(t, root, "second", 5, 2.0)

		if got := root.BestChild(1.41); got != first {
			t.Errorf("BestChild = %s, want first inserted", got.Plan().Name)
		}
	})

	t.Run("no children returns nil", func(t *testing.T) {
		root := NewNode(testPlan("root"), nil)
		if got := root.BestChild(1.41); got != nil {
			t.Errorf("BestChild = %v, want nil", got)
		}
	})
}

func TestUCBZeroVisits(t *testing.T) {
	node := NewNode(testPlan("n"), nil)
	if got := node.UCB(1.41, 10); !math.IsInf(got, 1) {
		t.Errorf("UCB with zero visits = %f, want +Inf", got)
	}
}

func TestMarkActionUsedIdempotent(t *testing.T) {
	node := NewNode(testPlan("n"), nil)

	node.MarkActionUsed(GoalAccuracy, "extract", "chaining")
	node.MarkActionUsed(GoalAccuracy, "extract", "chaining")

	if got := node.UsedCount(GoalAccuracy, "extract"); got != 1 {
		t.Errorf("UsedCount = %d, want 1 after duplicate marking", got)
	}
	if !node.ActionUsed(GoalAccuracy, "extract", "chaining") {
		t.Error("ActionUsed = false, want true")
	}
	if node.ActionUsed(GoalCost, "extract", "chaining") {
		t.Error("accuracy marking leaked into the cost goal")
	}
}

func TestIsFullyExplored(t *testing.T) {
	t.Run("child count reaches expansion limit", func(t *testing.T) {
		root := NewNode(testPlan("root"), nil)
		childWith(t, root, "a", 1, 0)
		childWith(t, root, "b", 1, 0)

		if !root.IsFullyExplored(2) {
			t.Error("IsFullyExplored = false with children at the limit")
		}
		if root.IsFullyExplored(3) {
			t.Error("IsFullyExplored = true below the child limit with unused actions")
		}
	})

	t.Run("per operator directive thresholds", func(t *testing.T) {
		node := NewNode(testPlan("n"), nil)

		node.MarkActionUsed(GoalAccuracy, "extract", "chaining")
		node.MarkActionUsed(GoalAccuracy, "extract", "gleaning")
		if node.IsFullyExplored(10) {
			t.Error("fully explored with only 2 accuracy directives used")
		}

		node.MarkActionUsed(GoalAccuracy, "extract", "doc summarization")
		if node.IsFullyExplored(10) {
			t.Error("fully explored with no cost directive used")
		}

		node.MarkActionUsed(GoalCost, "extract", "change model")
		if !node.IsFullyExplored(10) {
			t.Error("not fully explored with 3 accuracy + 1 cost directives per operator")
		}
	})
}

func TestRemoveChild(t *testing.T) {
	root := NewNode(testPlan("root"), nil)
	a := childWith(t, root, "a", 0, 0)
	b := childWith(t, root, "b", 0, 0)

	root.RemoveChild(a)

	children := root.Children()
	if len(children) != 1 || children[0] != b {
		t.Errorf("children after removal = %d, want only b", len(children))
	}

	// Removing a detached node is a no-op.
	root.RemoveChild(a)
	if root.ChildCount() != 1 {
		t.Errorf("ChildCount = %d, want 1", root.ChildCount())
	}
}

func TestValueIsRunningSum(t *testing.T) {
	node := NewNode(testPlan("n"), nil)
	node.AddValue(1.0)
	node.AddValue(-1.0)
	node.AddValue(1.0)

	if got := node.Value(); got != 1.0 {
		t.Errorf("Value = %f, want the sum of all deltas (1.0)", got)
	}
}

func TestDepth(t *testing.T) {
	root := NewNode(testPlan("root"), nil)
	child := childWith(t, root, "c", 0, 0)
	grand := NewNode(testPlan("g"), child)
	child.AddChild(grand)

	if root.Depth() != 0 || child.Depth() != 1 || grand.Depth() != 2 {
		t.Errorf("depths = %d/%d/%d, want 0/1/2", root.Depth(), child.Depth(), grand.Depth())
	}
}
