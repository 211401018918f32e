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
	"strings"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// OperatorFusionPayload carries the combined prompt for two fused operators.
type OperatorFusionPayload struct {
	FusedPrompt string `json:"fused_prompt" validate:"required"`
	Model       string `json:"model,omitempty"`
}

// OperatorFusion merges two adjacent operators into one LLM call. The shape
// of the result depends on the pair's types: map+map and filter+filter fuse
// into a single operator, map+reduce into a reduce, and pairs involving one
// filter produce a fused map followed by a code_filter guard so the filter
// decision stays a cheap deterministic step.
type OperatorFusion struct {
	client llm.Client
}

func (d *OperatorFusion) Name() string { return NameOperatorFusion }

func (d *OperatorFusion) Summary() string {
	return "Fuse two adjacent operators into a single LLM call (map+map, map+reduce, " +
		"or filter variants with a deterministic guard), saving one pass over the data."
}

// Apply fuses exactly two adjacent target operators.
func (d *OperatorFusion) Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error) {
	p, ok := payload.(*OperatorFusionPayload)
	if !ok {
		return nil, fmt.Errorf("operator fusion: payload is %T, want *OperatorFusionPayload", payload)
	}
	if len(targets) != 2 {
		return nil, fmt.Errorf("operator fusion: want exactly 2 targets, got %d", len(targets))
	}
	if !referencesAnyInputKey(p.FusedPrompt) {
		return nil, fmt.Errorf("operator fusion: fused prompt has no {{ input.key }} reference")
	}

	resolved, err := findTargets(ops, targets)
	if err != nil {
		return nil, fmt.Errorf("operator fusion: %w", err)
	}
	first, second := resolved[0], resolved[1]

	replacement, err := d.fuse(first, second, p)
	if err != nil {
		return nil, fmt.Errorf("operator fusion: %w", err)
	}

	cloned, err := cloneOps(ops)
	if err != nil {
		return nil, fmt.Errorf("operator fusion: %w", err)
	}
	spliced := spliceOps(cloned, targets[0], replacement)
	return removeOp(spliced, targets[1]), nil
}

// fuse builds the replacement operators for one type pairing.
func (d *OperatorFusion) fuse(first, second *pipeline.Operator, p *OperatorFusionPayload) ([]pipeline.Operator, error) {
	fusedName := fmt.Sprintf("%s_%s_fused", first.Name, second.Name)
	pair := first.Type + "+" + second.Type

	switch pair {
	case "map+map":
		return []pipeline.Operator{{
			Name:   fusedName,
			Type:   "map",
			Prompt: p.FusedPrompt,
			Model:  p.Model,
			Output: copyOutput(second.Output),
		}}, nil

	case "map+reduce":
		fused := pipeline.Operator{
			Name:   fusedName,
			Type:   "reduce",
			Prompt: p.FusedPrompt,
			Model:  p.Model,
			Output: copyOutput(second.Output),
		}
		// The reduce side keeps its grouping configuration.
		if len(second.Extras) > 0 {
			fused.Extras = make(map[string]any, len(second.Extras))
			for k, v := range second.Extras {
				fused.Extras[k] = v
			}
		}
		return []pipeline.Operator{fused}, nil

	case "filter+filter":
		return []pipeline.Operator{{
			Name:   fusedName,
			Type:   "filter",
			Prompt: p.FusedPrompt,
			Model:  p.Model,
			Output: copyOutput(second.Output),
		}}, nil

	case "filter+map", "map+filter":
		filter := first
		producer := second
		if first.Type == "map" {
			filter = second
			producer = first
		}
		boolKey, err := filterBoolKey(filter)
		if err != nil {
			return nil, err
		}

		schema := make(map[string]string)
		if producer.Output != nil {
			for k, v := range producer.Output.Schema {
				schema[k] = v
			}
		}
		schema[boolKey] = "bool"

		fused := pipeline.Operator{
			Name:   fusedName,
			Type:   "map",
			Prompt: p.FusedPrompt,
			Model:  p.Model,
			Output: &pipeline.Output{Schema: schema},
		}
		guard := pipeline.Operator{
			Name: fusedName + "_guard",
			Type: "code_filter",
			Extras: map[string]any{
				"code": fmt.Sprintf(
					"def code_filter(input_doc):\n    return bool(input_doc.get(%q, False))\n",
					boolKey,
				),
			},
		}
		return []pipeline.Operator{fused, guard}, nil

	default:
		return nil, fmt.Errorf("unsupported type pairing %s", pair)
	}
}

// Instantiate asks the LLM for a combined prompt covering both targets.
func (d *OperatorFusion) Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error) {
	if len(req.Targets) != 2 {
		return nil, nil, fmt.Errorf("operator fusion: want exactly 2 targets, got %d", len(req.Targets))
	}
	resolved, err := findTargets(req.Operators, req.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("operator fusion: %w", err)
	}
	first, second := resolved[0], resolved[1]

	user := fmt.Sprintf(`Fuse the adjacent operators %q (%s) and %q (%s) into one prompt.

Current operators:
%s
Write a single Jinja prompt that performs both tasks in one pass, referencing
inputs as {{ input.key }}. The combined output must cover the keys the second
operator produced (%v)%s.

Return JSON: {"fused_prompt": str, "model": str}`,
		first.Name, first.Type, second.Name, second.Type,
		renderOps(req.Operators), second.OutputKeys(),
		filterNote(first, second))

	var payload OperatorFusionPayload
	log, err := requestPayload(ctx, d.client, req.AgentModel, instantiateSystemPrompt, user, &payload)
	if err != nil {
		return nil, log, fmt.Errorf("operator fusion: %w", err)
	}
	if payload.Model == "" {
		payload.Model = req.DefaultModel
	}

	newOps, err := d.Apply(req.Operators, req.Targets, &payload)
	if err != nil {
		return nil, log, err
	}
	return newOps, log, nil
}

func filterNote(first, second *pipeline.Operator) string {
	if first.Type == "filter" || second.Type == "filter" {
		return ", plus the filter's boolean decision key"
	}
	return ""
}

// filterBoolKey finds the single boolean key a filter operator decides on.
func filterBoolKey(filter *pipeline.Operator) (string, error) {
	if filter.Output == nil {
		return "", fmt.Errorf("filter %q has no output schema", filter.Name)
	}
	for key, typ := range filter.Output.Schema {
		if strings.HasPrefix(strings.ToLower(typ), "bool") {
			return key, nil
		}
	}
	return "", fmt.Errorf("filter %q has no boolean output key", filter.Name)
}

func copyOutput(out *pipeline.Output) *pipeline.Output {
	if out == nil {
		return nil
	}
	schema := make(map[string]string, len(out.Schema))
	for k, v := range out.Schema {
		schema[k] = v
	}
	return &pipeline.Output{Schema: schema}
}

// removeOp drops the named operator from the list.
func removeOp(ops []pipeline.Operator, name string) []pipeline.Operator {
	out := ops[:0]
	for _, op := range ops {
		if op.Name != name {
			out = append(out, op)
		}
	}
	return out
}
