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
	"slices"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// DefaultAllowedModels is used when a registry is built without an explicit
// model menu.
var DefaultAllowedModels = []string{"gpt-4.1", "gpt-4.1-nano", "gpt-4o", "gpt-4o-mini"}

// ChangeModelPayload names the replacement model.
type ChangeModelPayload struct {
	Model string `json:"model" validate:"required"`
}

// ChangeModel swaps the target operator's model for another from the allowed
// menu. It is the only directive offered for the cost goal.
type ChangeModel struct {
	client        llm.Client
	allowedModels []string
}

func (d *ChangeModel) Name() string { return NameChangeModel }

func (d *ChangeModel) Summary() string {
	return "Swap the operator's model for a cheaper or stronger one from the allowed menu, " +
		"trading cost against quality without changing pipeline structure."
}

func (d *ChangeModel) allowed() []string {
	if len(d.allowedModels) == 0 {
		return DefaultAllowedModels
	}
	return d.allowedModels
}

// Apply sets the model on each target operator. The payload model must be
// in the allowed menu.
func (d *ChangeModel) Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error) {
	p, ok := payload.(*ChangeModelPayload)
	if !ok {
		return nil, fmt.Errorf("change model: payload is %T, want *ChangeModelPayload", payload)
	}
	if !slices.Contains(d.allowed(), p.Model) {
		return nil, fmt.Errorf("change model: %q is not in the allowed menu %v", p.Model, d.allowed())
	}
	if _, err := findTargets(ops, targets); err != nil {
		return nil, fmt.Errorf("change model: %w", err)
	}

	cloned, err := cloneOps(ops)
	if err != nil {
		return nil, fmt.Errorf("change model: %w", err)
	}
	for _, name := range targets {
		for i := range cloned {
			if cloned[i].Name == name {
				cloned[i].Model = p.Model
			}
		}
	}
	return cloned, nil
}

// Instantiate asks the LLM to pick a model from the menu for the target.
func (d *ChangeModel) Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error) {
	resolved, err := findTargets(req.Operators, req.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("change model: %w", err)
	}
	orig := resolved[0]

	current := orig.Model
	if current == "" {
		current = req.DefaultModel
	}

	user := fmt.Sprintf(`Choose a new model for the operator %q (currently %q).

Current operators:
%s
Allowed models: %v
Pick a cheaper model when the task looks simple, a stronger one only when the
prompt clearly demands it. The choice must differ from the current model.

Return JSON: {"model": str}`,
		orig.Name, current, renderOps(req.Operators), d.allowed())

	var payload ChangeModelPayload
	log, err := requestPayload(ctx, d.client, req.AgentModel, instantiateSystemPrompt, user, &payload)
	if err != nil {
		return nil, log, fmt.Errorf("change model: %w", err)
	}

	newOps, err := d.Apply(req.Operators, req.Targets, &payload)
	if err != nil {
		return nil, log, err
	}
	return newOps, log, nil
}
