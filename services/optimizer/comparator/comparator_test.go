// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package comparator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
	"github.com/paretolabs/planopt/services/optimizer/store"
)

func executedPlan(t *testing.T, dir, name, artifact string) *pipeline.Plan {
	t.Helper()
	path := filepath.Join(dir, name+".json")
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o644))

	plan := pipeline.NewPlan(filepath.Join(dir, name+".yaml"), &pipeline.Spec{})
	require.NoError(t, plan.MarkExecuted(1.0, path))
	return plan
}

func TestCompareAntisymmetry(t *testing.T) {
	dir := t.TempDir()
	planA := executedPlan(t, dir, "alpha", `[{"names": ["Ada", "Grace"]}]`)
	planB := executedPlan(t, dir, "beta", `[{"names": ["Ada"]}]`)

	// The judge prefers output A of the canonical (alpha, beta) pair.
	client := &llm.Scripted{Responses: []llm.Response{
		{Content: `{"winner": "A", "rationale": "more complete"}`},
		{Content: `{"winner": "A", "rationale": "more complete"}`},
	}}
	c := NewLLMComparator(client, "gpt-4.1")

	pref, err := c.Compare(context.Background(), planA, planB)
	require.NoError(t, err)
	assert.Equal(t, PreferA, pref)

	// Swapped arguments produce the inverted verdict.
	pref, err = c.Compare(context.Background(), planB, planA)
	require.NoError(t, err)
	assert.Equal(t, PreferB, pref)
}

func TestCompareUsesCache(t *testing.T) {
	dir := t.TempDir()
	planA := executedPlan(t, dir, "alpha", `[{"x": 1}]`)
	planB := executedPlan(t, dir, "beta", `[{"x": 2}]`)

	cache, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	client := &llm.Scripted{Responses: []llm.Response{
		{Content: `{"winner": "B", "rationale": "better"}`},
	}}
	c := NewLLMComparator(client, "gpt-4.1", WithCache(cache))

	pref, err := c.Compare(context.Background(), planA, planB)
	require.NoError(t, err)
	assert.Equal(t, PreferB, pref)
	assert.Equal(t, 1, client.CallCount())

	// Second comparison of the same pair, either order, is served from
	// the cache without another LLM call.
	pref, err = c.Compare(context.Background(), planB, planA)
	require.NoError(t, err)
	assert.Equal(t, PreferA, pref)
	assert.Equal(t, 1, client.CallCount())
}

func TestCompareTie(t *testing.T) {
	dir := t.TempDir()
	planA := executedPlan(t, dir, "alpha", `[]`)
	planB := executedPlan(t, dir, "beta", `[]`)

	client := &llm.Scripted{Responses: []llm.Response{
		{Content: `{"winner": "tie", "rationale": "identical"}`},
	}}
	c := NewLLMComparator(client, "gpt-4.1")

	pref, err := c.Compare(context.Background(), planA, planB)
	require.NoError(t, err)
	assert.Equal(t, Tie, pref)
}

func TestCompareSamePlanIsTie(t *testing.T) {
	dir := t.TempDir()
	plan := executedPlan(t, dir, "alpha", `[]`)

	client := &llm.Scripted{}
	c := NewLLMComparator(client, "gpt-4.1")

	pref, err := c.Compare(context.Background(), plan, plan)
	require.NoError(t, err)
	assert.Equal(t, Tie, pref)
	assert.Equal(t, 0, client.CallCount())
}

func TestCompareRequiresExecutedPlans(t *testing.T) {
	dir := t.TempDir()
	executed := executedPlan(t, dir, "alpha", `[]`)
	pending := pipeline.NewPlan(filepath.Join(dir, "beta.yaml"), &pipeline.Spec{})

	c := NewLLMComparator(&llm.Scripted{}, "gpt-4.1")
	_, err := c.Compare(context.Background(), executed, pending)
	assert.Error(t, err)
}

func TestCompareUnknownVerdict(t *testing.T) {
	dir := t.TempDir()
	planA := executedPlan(t, dir, "alpha", `[]`)
	planB := executedPlan(t, dir, "beta", `[]`)

	client := &llm.Scripted{Responses: []llm.Response{
		{Content: `{"winner": "C"}`},
	}}
	c := NewLLMComparator(client, "gpt-4.1")

	_, err := c.Compare(context.Background(), planA, planB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown winner")
}

func TestPreferenceInvert(t *testing.T) {
	assert.Equal(t, PreferB, PreferA.Invert())
	assert.Equal(t, PreferA, PreferB.Invert())
	assert.Equal(t, Tie, Tie.Invert())
}
