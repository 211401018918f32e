// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package directives

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

func singleMapOps() []pipeline.Operator {
	return []pipeline.Operator{{
		Name:   "extract_info",
		Type:   "map",
		Prompt: "Extract names and dates from {{ input.text }}",
		Output: &pipeline.Output{Schema: map[string]string{
			"names": "list[string]",
			"dates": "list[string]",
		}},
	}}
}

func TestRegistryCatalog(t *testing.T) {
	reg := NewRegistry(&llm.Scripted{}, nil)

	want := []string{
		NameChaining, NameGleaning, NameChangeModel,
		NameDocSummarization, NameDocCompression,
		NameIsolatingSubtasks, NameOperatorFusion,
	}
	assert.Equal(t, want, reg.Names())

	for _, name := range want {
		d, ok := reg.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, d.Name())
		assert.NotEmpty(t, d.Summary())
	}

	_, ok := reg.Get("rewrite everything")
	assert.False(t, ok)

	desc := reg.Describe()
	for _, name := range want {
		assert.Contains(t, desc, name)
	}
}

func TestChainingApply(t *testing.T) {
	ops := singleMapOps()
	payload := &ChainingPayload{NewOps: []ChainStep{
		{
			Name:       "find_names",
			Prompt:     "List every person named in {{ input.text }}",
			OutputKeys: []string{"names"},
		},
		{
			Name:       "find_dates",
			Prompt:     "Given names {{ input.names }}, list dates in {{ input.text }}",
			OutputKeys: []string{"names", "dates"},
		},
	}}

	d := &Chaining{}
	newOps, err := d.Apply(ops, []string{"extract_info"}, payload)
	require.NoError(t, err)
	require.Len(t, newOps, 2)

	assert.Equal(t, "find_names", newOps[0].Name)
	assert.Equal(t, "map", newOps[0].Type)
	// Types are carried over from the original schema where keys match.
	assert.Equal(t, "list[string]", newOps[0].Output.Schema["names"])

	// Structural contract: the final operator's output keys equal the
	// original operator's output keys.
	assert.ElementsMatch(t, []string{"names", "dates"}, newOps[1].OutputKeys())

	// The original list is untouched.
	assert.Equal(t, "extract_info", ops[0].Name)
}

func TestChainingApplyRejectsBrokenChains(t *testing.T) {
	ops := singleMapOps()
	d := &Chaining{}

	tests := []struct {
		name    string
		payload *ChainingPayload
		wantErr string
	}{
		{
			"final keys mismatch",
			&ChainingPayload{NewOps: []ChainStep{
				{Name: "a", Prompt: "from {{ input.text }}", OutputKeys: []string{"names"}},
				{Name: "b", Prompt: "from {{ input.names }}", OutputKeys: []string{"names"}},
			}},
			"do not match",
		},
		{
			"input key dropped",
			&ChainingPayload{NewOps: []ChainStep{
				{Name: "a", Prompt: "from {{ input.other }}", OutputKeys: []string{"names"}},
				{Name: "b", Prompt: "from {{ input.names }}", OutputKeys: []string{"names", "dates"}},
			}},
			"not referenced",
		},
		{
			"prompt without input reference",
			&ChainingPayload{NewOps: []ChainStep{
				{Name: "a", Prompt: "no template here", OutputKeys: []string{"names"}},
				{Name: "b", Prompt: "from {{ input.text }}", OutputKeys: []string{"names", "dates"}},
			}},
			"no {{ input.key }}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Apply(ops, []string{"extract_info"}, tt.payload)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChainingInstantiate(t *testing.T) {
	payload := ChainingPayload{NewOps: []ChainStep{
		{Name: "find_names", Prompt: "Names in {{ input.text }}", OutputKeys: []string{"names"}},
		{Name: "find_dates", Prompt: "Dates in {{ input.text }} for {{ input.names }}", OutputKeys: []string{"names", "dates"}},
	}}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	client := &llm.Scripted{Responses: []llm.Response{{Content: string(raw)}}}
	d := &Chaining{client: client}

	newOps, log, err := d.Instantiate(context.Background(), InstantiateRequest{
		DefaultModel: "gpt-4o-mini",
		Operators:    singleMapOps(),
		Targets:      []string{"extract_info"},
		AgentModel:   "gpt-4.1",
	})
	require.NoError(t, err)
	require.Len(t, newOps, 2)
	assert.Equal(t, "gpt-4o-mini", newOps[0].Model, "unset model falls back to the default")

	// The interaction log captures system, user, and assistant turns.
	require.Len(t, log, 3)
	assert.Equal(t, llm.RoleAssistant, log[2].Role)

	// The instantiation call itself uses the agent model in JSON mode.
	require.Equal(t, 1, client.CallCount())
	assert.Equal(t, "gpt-4.1", client.Requests[0].Model)
	assert.True(t, client.Requests[0].JSONMode)
}

func TestGleaningApply(t *testing.T) {
	ops := singleMapOps()
	payload := &GleaningPayload{
		ValidationPrompt: "Verify every name appears verbatim in the text.",
		NumRounds:        2,
	}

	d := &Gleaning{}
	newOps, err := d.Apply(ops, []string{"extract_info"}, payload)
	require.NoError(t, err)
	require.Len(t, newOps, 1)
	require.NotNil(t, newOps[0].Gleaning)
	assert.Equal(t, 2, newOps[0].Gleaning.NumRounds)

	// Applying gleaning twice to the same operator is rejected.
	_, err = d.Apply(newOps, []string{"extract_info"}, payload)
	assert.Error(t, err)
}

func TestChangeModelApply(t *testing.T) {
	ops := singleMapOps()
	d := &ChangeModel{allowedModels: []string{"gpt-4o", "gpt-4o-mini"}}

	newOps, err := d.Apply(ops, []string{"extract_info"}, &ChangeModelPayload{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", newOps[0].Model)

	_, err = d.Apply(ops, []string{"extract_info"}, &ChangeModelPayload{Model: "claude-opus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed menu")
}

func TestDocSummarizationApply(t *testing.T) {
	ops := singleMapOps()
	payload := &DocSummarizationPayload{
		Name:        "summarize_text",
		DocumentKey: "text",
		Prompt:      "Summarize {{ input.text }} keeping all names and dates.",
	}

	d := &DocSummarization{}
	newOps, err := d.Apply(ops, []string{"extract_info"}, payload)
	require.NoError(t, err)
	require.Len(t, newOps, 2)
	assert.Equal(t, "summarize_text", newOps[0].Name)
	assert.Equal(t, "map", newOps[0].Type)
	// Summarizing in place under the document key keeps downstream prompts valid.
	assert.Equal(t, "string", newOps[0].Output.Schema["text"])
	assert.Equal(t, "extract_info", newOps[1].Name)

	bad := &DocSummarizationPayload{Name: "s", DocumentKey: "text", Prompt: "no reference"}
	_, err = d.Apply(ops, []string{"extract_info"}, bad)
	assert.Error(t, err)
}

func TestDocCompressionApply(t *testing.T) {
	ops := singleMapOps()
	payload := &DocCompressionPayload{
		Name:        "compress_text",
		DocumentKey: "text",
		Prompt:      "Keep only sentences mentioning a person or a date.",
	}

	d := &DocCompression{}
	newOps, err := d.Apply(ops, []string{"extract_info"}, payload)
	require.NoError(t, err)
	require.Len(t, newOps, 2)
	assert.Equal(t, "extract", newOps[0].Type)
	assert.Equal(t, []any{"text"}, newOps[0].Extras["document_keys"])
}

func TestIsolatingSubtasksApply(t *testing.T) {
	ops := singleMapOps()
	payload := &IsolatingSubtasksPayload{
		Subtasks: []Subtask{
			{Name: "names_only", Prompt: "Names in {{ input.text }}", OutputKeys: []string{"names"}},
			{Name: "dates_only", Prompt: "Dates in {{ input.text }}", OutputKeys: []string{"dates"}},
		},
		AggregationPrompt: "Combine {{ input.names }} and {{ input.dates }} into the final record.",
	}

	d := &IsolatingSubtasks{}
	newOps, err := d.Apply(ops, []string{"extract_info"}, payload)
	require.NoError(t, err)
	require.Len(t, newOps, 2)
	assert.Equal(t, "parallel_map", newOps[0].Type)
	assert.Equal(t, "extract_info_subtasks", newOps[0].Name)
	assert.ElementsMatch(t, []string{"names", "dates"}, newOps[0].OutputKeys())
	assert.Equal(t, "map", newOps[1].Type)
	assert.Equal(t, "extract_info_aggregate", newOps[1].Name)
}

func TestIsolatingSubtasksNoAggregation(t *testing.T) {
	ops := singleMapOps()
	payload := &IsolatingSubtasksPayload{
		Subtasks: []Subtask{
			{Name: "names_only", Prompt: "Names in {{ input.text }}", OutputKeys: []string{"names"}},
			{Name: "dates_only", Prompt: "Dates in {{ input.text }}", OutputKeys: []string{"dates"}},
		},
	}

	d := &IsolatingSubtasks{}
	newOps, err := d.Apply(ops, []string{"extract_info"}, payload)
	require.NoError(t, err)
	require.Len(t, newOps, 1)
	assert.Equal(t, "parallel_map", newOps[0].Type)
}

func TestIsolatingSubtasksCoverage(t *testing.T) {
	ops := singleMapOps()
	payload := &IsolatingSubtasksPayload{
		Subtasks: []Subtask{
			{Name: "names_only", Prompt: "Names in {{ input.text }}", OutputKeys: []string{"names"}},
		},
	}

	d := &IsolatingSubtasks{}
	_, err := d.Apply(ops, []string{"extract_info"}, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cover")
}

func TestReplacementNames(t *testing.T) {
	oldOps := []pipeline.Operator{
		{Name: "a", Type: "map"},
		{Name: "b", Type: "map"},
		{Name: "c", Type: "reduce"},
	}

	tests := []struct {
		name    string
		newOps  []pipeline.Operator
		targets []string
		want    []string
	}{
		{
			"chaining replaces the target",
			[]pipeline.Operator{
				{Name: "a", Type: "map"},
				{Name: "b_1", Type: "map"},
				{Name: "b_2", Type: "map"},
				{Name: "c", Type: "reduce"},
			},
			[]string{"b"},
			[]string{"b_1", "b_2"},
		},
		{
			"in-place rewrite keeps the target",
			oldOps,
			[]string{"b"},
			[]string{"b"},
		},
		{
			"insertion before the target",
			[]pipeline.Operator{
				{Name: "a", Type: "map"},
				{Name: "summarize_b", Type: "map"},
				{Name: "b", Type: "map"},
				{Name: "c", Type: "reduce"},
			},
			[]string{"b"},
			[]string{"summarize_b", "b"},
		},
		{
			"fusion collapses two targets",
			[]pipeline.Operator{
				{Name: "a", Type: "map"},
				{Name: "b_c_fused", Type: "reduce"},
			},
			[]string{"b", "c"},
			[]string{"b_c_fused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReplacementNames(oldOps, tt.newOps, tt.targets)
			assert.Equal(t, tt.want, got)
		})
	}
}
