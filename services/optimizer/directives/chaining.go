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

// ChainStep is one map operator in a chaining rewrite.
type ChainStep struct {
	Name       string   `json:"name" validate:"required"`
	Prompt     string   `json:"prompt" validate:"required"`
	OutputKeys []string `json:"output_keys" validate:"required,min=1"`
	Model      string   `json:"model,omitempty"`
}

// ChainingPayload is the parameter set for the chaining directive.
type ChainingPayload struct {
	NewOps []ChainStep `json:"new_ops" validate:"required,min=2,dive"`
}

// Chaining decomposes a single map operator into a chain of simpler map
// operators. The final operator in the chain must produce exactly the
// original operator's output keys, and every input key the original prompt
// consumed must be referenced somewhere in the chain.
type Chaining struct {
	client llm.Client
}

func (d *Chaining) Name() string { return NameChaining }

func (d *Chaining) Summary() string {
	return "Decompose a complex map operator into a chain of simpler map operators, " +
		"each handling one part of the task, improving accuracy on multi-part prompts."
}

// Apply replaces the single target operator with the chain described by
// payload, which must be a *ChainingPayload.
func (d *Chaining) Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error) {
	p, ok := payload.(*ChainingPayload)
	if !ok {
		return nil, fmt.Errorf("chaining: payload is %T, want *ChainingPayload", payload)
	}
	if len(targets) != 1 {
		return nil, fmt.Errorf("chaining: want exactly 1 target, got %d", len(targets))
	}

	resolved, err := findTargets(ops, targets)
	if err != nil {
		return nil, fmt.Errorf("chaining: %w", err)
	}
	orig := resolved[0]

	if err := d.validateChain(orig, p); err != nil {
		return nil, fmt.Errorf("chaining: %w", err)
	}

	cloned, err := cloneOps(ops)
	if err != nil {
		return nil, fmt.Errorf("chaining: %w", err)
	}

	chain := make([]pipeline.Operator, len(p.NewOps))
	for i, step := range p.NewOps {
		schema := make(map[string]string, len(step.OutputKeys))
		for _, key := range step.OutputKeys {
			schema[key] = schemaTypeFor(orig, key)
		}
		chain[i] = pipeline.Operator{
			Name:   step.Name,
			Type:   "map",
			Prompt: step.Prompt,
			Model:  step.Model,
			Output: &pipeline.Output{Schema: schema},
		}
	}

	return spliceOps(cloned, targets[0], chain), nil
}

// validateChain enforces the structural contract: every input key the
// original prompt references appears in at least one chain prompt, and the
// final step's output keys equal the original's output keys as a set.
func (d *Chaining) validateChain(orig *pipeline.Operator, p *ChainingPayload) error {
	for _, step := range p.NewOps {
		if !referencesAnyInputKey(step.Prompt) {
			return fmt.Errorf("step %q prompt has no {{ input.key }} reference", step.Name)
		}
	}

	for _, key := range promptInputKeys(orig.Prompt) {
		covered := false
		for _, step := range p.NewOps {
			if referencesInputKey(step.Prompt, key) {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Errorf("input key %q is not referenced by any chain prompt", key)
		}
	}

	final := p.NewOps[len(p.NewOps)-1]
	if want := orig.OutputKeys(); !sameKeySet(final.OutputKeys, want) {
		return fmt.Errorf("final step output keys %v do not match original %v", final.OutputKeys, want)
	}
	return nil
}

// Instantiate asks the LLM for a chain decomposition of the target operator.
func (d *Chaining) Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error) {
	resolved, err := findTargets(req.Operators, req.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("chaining: %w", err)
	}
	orig := resolved[0]

	user := fmt.Sprintf(`Decompose the operator %q into a chain of 2-4 simpler map operators.

Current operators:
%s
Rules:
- Each new operator's prompt is a Jinja template referencing inputs as {{ input.key }}.
- Intermediate operators may introduce new output keys for downstream steps to consume.
- The FINAL operator's output_keys must be exactly %v.
- Every input key the original prompt references must appear in at least one new prompt.

Return JSON: {"new_ops": [{"name": str, "prompt": str, "output_keys": [str], "model": str}]}`,
		orig.Name, renderOps(req.Operators), orig.OutputKeys())

	var payload ChainingPayload
	log, err := requestPayload(ctx, d.client, req.AgentModel, instantiateSystemPrompt, user, &payload)
	if err != nil {
		return nil, log, fmt.Errorf("chaining: %w", err)
	}
	for i := range payload.NewOps {
		if payload.NewOps[i].Model == "" {
			payload.NewOps[i].Model = req.DefaultModel
		}
	}

	newOps, err := d.Apply(req.Operators, req.Targets, &payload)
	if err != nil {
		return nil, log, err
	}
	return newOps, log, nil
}

// spliceOps replaces the named operator with replacement, in place.
func spliceOps(ops []pipeline.Operator, target string, replacement []pipeline.Operator) []pipeline.Operator {
	out := make([]pipeline.Operator, 0, len(ops)+len(replacement)-1)
	for _, op := range ops {
		if op.Name == target {
			out = append(out, replacement...)
			continue
		}
		out = append(out, op)
	}
	return out
}
