// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package directives

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

func fusionPayload() *OperatorFusionPayload {
	return &OperatorFusionPayload{
		FusedPrompt: "Do both tasks on {{ input.text }}",
		Model:       "gpt-4o-mini",
	}
}

func TestFusionMapMap(t *testing.T) {
	ops := []pipeline.Operator{
		{Name: "extract", Type: "map", Prompt: "a {{ input.text }}",
			Output: &pipeline.Output{Schema: map[string]string{"raw": "string"}}},
		{Name: "clean", Type: "map", Prompt: "b {{ input.raw }}",
			Output: &pipeline.Output{Schema: map[string]string{"clean": "string"}}},
	}

	d := &OperatorFusion{}
	newOps, err := d.Apply(ops, []string{"extract", "clean"}, fusionPayload())
	require.NoError(t, err)
	require.Len(t, newOps, 1)
	assert.Equal(t, "extract_clean_fused", newOps[0].Name)
	assert.Equal(t, "map", newOps[0].Type)
	assert.Equal(t, []string{"clean"}, newOps[0].OutputKeys())
}

func TestFusionMapReduce(t *testing.T) {
	ops := []pipeline.Operator{
		{Name: "themes", Type: "map", Prompt: "a {{ input.text }}",
			Output: &pipeline.Output{Schema: map[string]string{"theme": "string"}}},
		{Name: "summarize", Type: "reduce", Prompt: "b {{ input.theme }}",
			Output: &pipeline.Output{Schema: map[string]string{"summary": "string"}},
			Extras: map[string]any{"reduce_key": "theme"}},
	}

	d := &OperatorFusion{}
	newOps, err := d.Apply(ops, []string{"themes", "summarize"}, fusionPayload())
	require.NoError(t, err)
	require.Len(t, newOps, 1)
	assert.Equal(t, "reduce", newOps[0].Type)
	assert.Equal(t, "theme", newOps[0].Extras["reduce_key"], "grouping config survives fusion")
}

func TestFusionFilterMap(t *testing.T) {
	ops := []pipeline.Operator{
		{Name: "keep_valid", Type: "filter", Prompt: "valid? {{ input.text }}",
			Output: &pipeline.Output{Schema: map[string]string{"is_valid": "bool"}}},
		{Name: "extract", Type: "map", Prompt: "extract {{ input.text }}",
			Output: &pipeline.Output{Schema: map[string]string{"info": "string"}}},
	}

	d := &OperatorFusion{}
	newOps, err := d.Apply(ops, []string{"keep_valid", "extract"}, fusionPayload())
	require.NoError(t, err)
	require.Len(t, newOps, 2)

	assert.Equal(t, "map", newOps[0].Type)
	assert.Equal(t, "bool", newOps[0].Output.Schema["is_valid"])
	assert.Equal(t, "string", newOps[0].Output.Schema["info"])

	assert.Equal(t, "code_filter", newOps[1].Type)
	assert.Contains(t, newOps[1].Extras["code"], `"is_valid"`)
}

func TestFusionMapFilter(t *testing.T) {
	ops := []pipeline.Operator{
		{Name: "sentiment", Type: "map", Prompt: "score {{ input.text }}",
			Output: &pipeline.Output{Schema: map[string]string{"sentiment": "string"}}},
		{Name: "keep_positive", Type: "filter", Prompt: "positive? {{ input.sentiment }}",
			Output: &pipeline.Output{Schema: map[string]string{"is_positive": "bool"}}},
	}

	d := &OperatorFusion{}
	newOps, err := d.Apply(ops, []string{"sentiment", "keep_positive"}, fusionPayload())
	require.NoError(t, err)
	require.Len(t, newOps, 2)
	assert.Equal(t, "map", newOps[0].Type)
	assert.Equal(t, "code_filter", newOps[1].Type)
}

func TestFusionFilterFilter(t *testing.T) {
	ops := []pipeline.Operator{
		{Name: "keep_valid", Type: "filter", Prompt: "valid? {{ input.text }}",
			Output: &pipeline.Output{Schema: map[string]string{"is_valid": "bool"}}},
		{Name: "keep_recent", Type: "filter", Prompt: "recent? {{ input.date }}",
			Output: &pipeline.Output{Schema: map[string]string{"is_recent": "bool"}}},
	}

	d := &OperatorFusion{}
	newOps, err := d.Apply(ops, []string{"keep_valid", "keep_recent"}, fusionPayload())
	require.NoError(t, err)
	require.Len(t, newOps, 1)
	assert.Equal(t, "filter", newOps[0].Type)
}

func TestFusionRejectsBadInput(t *testing.T) {
	ops := []pipeline.Operator{
		{Name: "a", Type: "map", Output: &pipeline.Output{Schema: map[string]string{"x": "string"}}},
		{Name: "b", Type: "map", Output: &pipeline.Output{Schema: map[string]string{"y": "string"}}},
		{Name: "c", Type: "resolve"},
	}
	d := &OperatorFusion{}

	_, err := d.Apply(ops, []string{"a"}, fusionPayload())
	assert.Error(t, err, "needs exactly two targets")

	_, err = d.Apply(ops, []string{"a", "c"}, fusionPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type pairing")

	_, err = d.Apply(ops, []string{"a", "b"}, &OperatorFusionPayload{FusedPrompt: "no template"})
	assert.Error(t, err)
}
