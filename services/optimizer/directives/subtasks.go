// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package directives

import (
	"context"
	"fmt"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// Subtask is one prompt of the parallel-map phase.
type Subtask struct {
	Name       string   `json:"name" validate:"required"`
	Prompt     string   `json:"prompt" validate:"required"`
	OutputKeys []string `json:"output_keys" validate:"required,min=1"`
}

// IsolatingSubtasksPayload rewrites a map into a parallel map of isolated
// subtasks, optionally followed by an aggregation map.
type IsolatingSubtasksPayload struct {
	Subtasks          []Subtask `json:"subtasks" validate:"required,min=2,dive"`
	AggregationPrompt string    `json:"aggregation_prompt,omitempty"`
}

// IsolatingSubtasks splits one overloaded map operator into a parallel_map
// whose prompts each handle a single subtask. The subtasks must cover the
// original output keys exactly.
type IsolatingSubtasks struct {
	client llm.Client
}

func (d *IsolatingSubtasks) Name() string { return NameIsolatingSubtasks }

func (d *IsolatingSubtasks) Summary() string {
	return "Rewrite a map operator into a parallel map of isolated subtask prompts " +
		"(optionally followed by an aggregation map), so each prompt does one focused job."
}

// Apply replaces the single target with a parallel_map, plus an aggregation
// map when the payload carries a non-empty aggregation prompt.
func (d *IsolatingSubtasks) Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error) {
	p, ok := payload.(*IsolatingSubtasksPayload)
	if !ok {
		return nil, fmt.Errorf("isolating subtasks: payload is %T, want *IsolatingSubtasksPayload", payload)
	}
	if len(targets) != 1 {
		return nil, fmt.Errorf("isolating subtasks: want exactly 1 target, got %d", len(targets))
	}

	resolved, err := findTargets(ops, targets)
	if err != nil {
		return nil, fmt.Errorf("isolating subtasks: %w", err)
	}
	orig := resolved[0]

	if err := d.validatePayload(orig, p); err != nil {
		return nil, fmt.Errorf("isolating subtasks: %w", err)
	}

	cloned, err := cloneOps(ops)
	if err != nil {
		return nil, fmt.Errorf("isolating subtasks: %w", err)
	}

	schema := make(map[string]string)
	prompts := make([]any, len(p.Subtasks))
	for i, st := range p.Subtasks {
		keys := make([]any, len(st.OutputKeys))
		for j, key := range st.OutputKeys {
			schema[key] = schemaTypeFor(orig, key)
			keys[j] = key
		}
		prompts[i] = map[string]any{
			"name":        st.Name,
			"prompt":      st.Prompt,
			"output_keys": keys,
		}
	}

	parallel := pipeline.Operator{
		Name:   orig.Name + "_subtasks",
		Type:   "parallel_map",
		Model:  orig.Model,
		Output: &pipeline.Output{Schema: schema},
		Extras: map[string]any{"prompts": prompts},
	}

	replacement := []pipeline.Operator{parallel}
	if p.AggregationPrompt != "" {
		var aggSchema map[string]string
		if orig.Output != nil {
			aggSchema = make(map[string]string, len(orig.Output.Schema))
			for k, v := range orig.Output.Schema {
				aggSchema[k] = v
			}
		}
		replacement = append(replacement, pipeline.Operator{
			Name:   orig.Name + "_aggregate",
			Type:   "map",
			Prompt: p.AggregationPrompt,
			Model:  orig.Model,
			Output: &pipeline.Output{Schema: aggSchema},
		})
	}

	return spliceOps(cloned, targets[0], replacement), nil
}

// validatePayload checks subtask coverage and aggregation references.
func (d *IsolatingSubtasks) validatePayload(orig *pipeline.Operator, p *IsolatingSubtasksPayload) error {
	var covered []string
	for _, st := range p.Subtasks {
		if !referencesAnyInputKey(st.Prompt) {
			return fmt.Errorf("subtask %q prompt has no {{ input.key }} reference", st.Name)
		}
		covered = append(covered, st.OutputKeys...)
	}
	if want := orig.OutputKeys(); !sameKeySet(dedupe(covered), want) {
		return fmt.Errorf("subtask output keys %v must cover the original keys %v exactly", covered, want)
	}

	if p.AggregationPrompt != "" {
		for _, st := range p.Subtasks {
			for _, key := range st.OutputKeys {
				if !referencesInputKey(p.AggregationPrompt, key) {
					return fmt.Errorf("aggregation prompt must reference {{ input.%s }}", key)
				}
			}
		}
	}
	return nil
}

// Instantiate asks the LLM to split the target into isolated subtasks.
func (d *IsolatingSubtasks) Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error) {
	resolved, err := findTargets(req.Operators, req.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("isolating subtasks: %w", err)
	}
	orig := resolved[0]

	user := fmt.Sprintf(`Split the operator %q into independent subtasks run as a parallel map.

Current operators:
%s
Rules:
- Each subtask prompt is a Jinja template referencing the SAME input keys the
  original used (as {{ input.key }}), handling one focused part of the task.
- Subtask output_keys must together cover the original output keys %v exactly.
- aggregation_prompt may be empty; when present it must reference every
  subtask output key as {{ input.key }}.

Return JSON: {"subtasks": [{"name": str, "prompt": str, "output_keys": [str]}], "aggregation_prompt": str}`,
		orig.Name, renderOps(req.Operators), orig.OutputKeys())

	var payload IsolatingSubtasksPayload
	log, err := requestPayload(ctx, d.client, req.AgentModel, instantiateSystemPrompt, user, &payload)
	if err != nil {
		return nil, log, fmt.Errorf("isolating subtasks: %w", err)
	}

	newOps, err := d.Apply(req.Operators, req.Targets, &payload)
	if err != nil {
		return nil, log, err
	}
	return newOps, log, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	var out []string
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
