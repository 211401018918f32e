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

// GleaningPayload configures iterative refinement on a target operator.
type GleaningPayload struct {
	ValidationPrompt string `json:"validation_prompt" validate:"required"`
	NumRounds        int    `json:"num_rounds" validate:"required,min=1,max=5"`
	Model            string `json:"model,omitempty"`
}

// Gleaning attaches an iterative validate-and-refine loop to a map or reduce
// operator. This is the refinement action that structurally subsumes
// chaining for bookkeeping purposes.
type Gleaning struct {
	client llm.Client
}

func (d *Gleaning) Name() string { return NameGleaning }

func (d *Gleaning) Summary() string {
	return "Attach an iterative validation-and-refinement loop to a map or reduce operator: " +
		"the output is checked against a validation prompt and regenerated up to num_rounds times."
}

// Apply sets the gleaning block on each target operator.
func (d *Gleaning) Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error) {
	p, ok := payload.(*GleaningPayload)
	if !ok {
		return nil, fmt.Errorf("gleaning: payload is %T, want *GleaningPayload", payload)
	}
	if _, err := findTargets(ops, targets); err != nil {
		return nil, fmt.Errorf("gleaning: %w", err)
	}

	cloned, err := cloneOps(ops)
	if err != nil {
		return nil, fmt.Errorf("gleaning: %w", err)
	}

	for _, name := range targets {
		for i := range cloned {
			if cloned[i].Name != name {
				continue
			}
			if cloned[i].Gleaning != nil {
				return nil, fmt.Errorf("gleaning: operator %q already has a gleaning block", name)
			}
			cloned[i].Gleaning = &pipeline.Gleaning{
				ValidationPrompt: p.ValidationPrompt,
				NumRounds:        p.NumRounds,
				Model:            p.Model,
			}
		}
	}
	return cloned, nil
}

// Instantiate asks the LLM for a validation prompt tuned to the target.
func (d *Gleaning) Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error) {
	resolved, err := findTargets(req.Operators, req.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("gleaning: %w", err)
	}
	orig := resolved[0]

	user := fmt.Sprintf(`Write a validation prompt for the operator %q so its output can be checked and refined.

Current operators:
%s
The validation prompt should state concrete criteria the output must satisfy
(completeness, faithfulness to the input, schema conformance for keys %v).

Return JSON: {"validation_prompt": str, "num_rounds": int, "model": str}`,
		orig.Name, renderOps(req.Operators), orig.OutputKeys())

	var payload GleaningPayload
	log, err := requestPayload(ctx, d.client, req.AgentModel, instantiateSystemPrompt, user, &payload)
	if err != nil {
		return nil, log, fmt.Errorf("gleaning: %w", err)
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
