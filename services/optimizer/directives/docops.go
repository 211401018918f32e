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

// DocSummarizationPayload describes a summarizing map inserted before the
// target operator.
type DocSummarizationPayload struct {
	Name        string `json:"name" validate:"required"`
	DocumentKey string `json:"document_key" validate:"required"`
	Prompt      string `json:"prompt" validate:"required"`
	Model       string `json:"model,omitempty"`
}

// DocSummarization inserts a map operator that rewrites a long document
// field into a shorter summary under the same key, so downstream prompts are
// unchanged but cheaper to run.
type DocSummarization struct {
	client llm.Client
}

func (d *DocSummarization) Name() string { return NameDocSummarization }

func (d *DocSummarization) Summary() string {
	return "Insert a map operator before the target that summarizes a long document field " +
		"in place, shrinking downstream token usage while preserving needed information."
}

// Apply inserts the summarization map immediately before the single target.
func (d *DocSummarization) Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error) {
	p, ok := payload.(*DocSummarizationPayload)
	if !ok {
		return nil, fmt.Errorf("doc summarization: payload is %T, want *DocSummarizationPayload", payload)
	}
	if len(targets) != 1 {
		return nil, fmt.Errorf("doc summarization: want exactly 1 target, got %d", len(targets))
	}
	if !referencesInputKey(p.Prompt, p.DocumentKey) {
		return nil, fmt.Errorf("doc summarization: prompt must reference {{ input.%s }}", p.DocumentKey)
	}

	summarizer := pipeline.Operator{
		Name:   p.Name,
		Type:   "map",
		Prompt: p.Prompt,
		Model:  p.Model,
		// Writing back under the document key keeps downstream prompts valid.
		Output: &pipeline.Output{Schema: map[string]string{p.DocumentKey: "string"}},
	}
	return insertBefore(ops, targets[0], summarizer)
}

// Instantiate asks the LLM which document field to summarize and how.
func (d *DocSummarization) Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error) {
	resolved, err := findTargets(req.Operators, req.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("doc summarization: %w", err)
	}
	orig := resolved[0]

	user := fmt.Sprintf(`Insert a summarization step before the operator %q.

Current operators:
%s
Pick the input key holding long document content (the target prompt references
input keys %v). Write a Jinja prompt that summarizes {{ input.<document_key> }}
while preserving everything the downstream prompt needs.

Return JSON: {"name": str, "document_key": str, "prompt": str, "model": str}`,
		orig.Name, renderOps(req.Operators), promptInputKeys(orig.Prompt))

	var payload DocSummarizationPayload
	log, err := requestPayload(ctx, d.client, req.AgentModel, instantiateSystemPrompt, user, &payload)
	if err != nil {
		return nil, log, fmt.Errorf("doc summarization: %w", err)
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

// DocCompressionPayload describes an extract operator inserted before the
// target. The prompt is plain instructions, not a Jinja template; the
// extract operator assembles the document itself.
type DocCompressionPayload struct {
	Name        string `json:"name" validate:"required"`
	DocumentKey string `json:"document_key" validate:"required"`
	Prompt      string `json:"prompt" validate:"required"`
	Model       string `json:"model,omitempty"`
}

// DocCompression inserts an extract operator that pulls only the relevant
// spans out of a long document field before the target consumes it.
type DocCompression struct {
	client llm.Client
}

func (d *DocCompression) Name() string { return NameDocCompression }

func (d *DocCompression) Summary() string {
	return "Insert an extract operator before the target that keeps only the document spans " +
		"relevant to the downstream task, compressing long inputs."
}

// Apply inserts the extract operator immediately before the single target.
func (d *DocCompression) Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error) {
	p, ok := payload.(*DocCompressionPayload)
	if !ok {
		return nil, fmt.Errorf("doc compression: payload is %T, want *DocCompressionPayload", payload)
	}
	if len(targets) != 1 {
		return nil, fmt.Errorf("doc compression: want exactly 1 target, got %d", len(targets))
	}

	extractor := pipeline.Operator{
		Name:   p.Name,
		Type:   "extract",
		Prompt: p.Prompt,
		Model:  p.Model,
		Extras: map[string]any{
			"document_keys": []any{p.DocumentKey},
		},
	}
	return insertBefore(ops, targets[0], extractor)
}

// Instantiate asks the LLM which field to compress and what to extract.
func (d *DocCompression) Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error) {
	resolved, err := findTargets(req.Operators, req.Targets)
	if err != nil {
		return nil, nil, fmt.Errorf("doc compression: %w", err)
	}
	orig := resolved[0]

	user := fmt.Sprintf(`Insert an extraction step before the operator %q to compress a long document field.

Current operators:
%s
Pick the input key holding long content (the target prompt references input
keys %v). The prompt is plain-text extraction instructions, NOT a Jinja
template; name exactly what spans must be kept for the downstream task.

Return JSON: {"name": str, "document_key": str, "prompt": str, "model": str}`,
		orig.Name, renderOps(req.Operators), promptInputKeys(orig.Prompt))

	var payload DocCompressionPayload
	log, err := requestPayload(ctx, d.client, req.AgentModel, instantiateSystemPrompt, user, &payload)
	if err != nil {
		return nil, log, fmt.Errorf("doc compression: %w", err)
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

// insertBefore clones ops and places the new operator directly before the
// named target.
func insertBefore(ops []pipeline.Operator, target string, inserted pipeline.Operator) ([]pipeline.Operator, error) {
	if _, err := findTargets(ops, []string{target}); err != nil {
		return nil, err
	}
	cloned, err := cloneOps(ops)
	if err != nil {
		return nil, err
	}

	out := make([]pipeline.Operator, 0, len(cloned)+1)
	for _, op := range cloned {
		if op.Name == target {
			out = append(out, inserted)
		}
		out = append(out, op)
	}
	return out, nil
}
