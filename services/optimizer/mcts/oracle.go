// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// ActionOption is one (operator, directive) pair in the candidate menu.
type ActionOption struct {
	Operator  string
	Directive string
}

// RecommendRequest carries everything the oracle sees for one expansion.
type RecommendRequest struct {
	// Plan is the leaf's plan being expanded.
	Plan *pipeline.Plan

	// Goal is the objective this expansion serves.
	Goal Goal

	// Menu is the restricted candidate menu, never empty.
	Menu []ActionOption

	// CatalogDescription lists every directive's name and semantics.
	CatalogDescription string

	// SampleInput is a representative excerpt of the input data.
	SampleInput string
}

// Recommendation is the oracle's single chosen rewrite action.
type Recommendation struct {
	Directive       string   `json:"directive" validate:"required"`
	TargetOperators []string `json:"operators" validate:"required,min=1"`
}

// Oracle picks exactly one (directive, target operators) action from a
// restricted menu. The chosen directive name must be validated against the
// catalog by the caller.
type Oracle interface {
	Recommend(ctx context.Context, req RecommendRequest) (Recommendation, error)
}

// LLMOracle implements Oracle with a single JSON-mode completion.
type LLMOracle struct {
	client   llm.Client
	model    string
	validate *validator.Validate
}

// NewLLMOracle builds an oracle recommending with the given model.
func NewLLMOracle(client llm.Client, model string) *LLMOracle {
	return &LLMOracle{client: client, model: model, validate: validator.New()}
}

// Recommend implements the Oracle interface.
func (o *LLMOracle) Recommend(ctx context.Context, req RecommendRequest) (Recommendation, error) {
	resp, err := o.client.Complete(ctx, llm.Request{
		Model: o.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: oracleSystemPrompt},
			{Role: llm.RoleUser, Content: o.buildPrompt(req)},
		},
		JSONMode: true,
	})
	if err != nil {
		return Recommendation{}, fmt.Errorf("oracle call: %w", err)
	}

	var rec Recommendation
	if err := json.Unmarshal([]byte(resp.Content), &rec); err != nil {
		return Recommendation{}, fmt.Errorf("decode oracle response: %w", err)
	}
	if err := o.validate.Struct(&rec); err != nil {
		return Recommendation{}, fmt.Errorf("invalid oracle response: %w", err)
	}
	return rec, nil
}

const oracleSystemPrompt = "You are an expert at optimizing declarative LLM data-processing pipelines. " +
	"Respond with a single JSON object and no other text."

// buildPrompt renders the oracle prompt: pipeline description, directive
// catalog, restricted menu, and an input sample.
func (o *LLMOracle) buildPrompt(req RecommendRequest) string {
	objective := "improve the accuracy of the query result"
	if req.Goal == GoalCost {
		objective = "reduce the monetary cost of running the plan"
	}

	var menu strings.Builder
	for _, opt := range req.Menu {
		fmt.Fprintf(&menu, "Operator: %s, Rewrite directive: %s\n", opt.Operator, opt.Directive)
	}

	specYAML := "(unavailable)"
	if data, err := yamlMarshal(req.Plan.Spec); err == nil {
		specYAML = data
	}

	return fmt.Sprintf(`I have a pipeline of operations that process documents, along with a list of
rewrite directives. Recommend ONE rewrite directive (by its name) that would
%s, and name the operators in the pipeline it should be applied to.
Your choice must come from the valid combinations listed below.

Rewrite directives:
%s
Your valid choices of operator and rewrite directive. Only choose one of these:
%s
Input data sample:
%s

The current pipeline in YAML:
%s

Return JSON: {"directive": str, "operators": [str]}`,
		objective, req.CatalogDescription, menu.String(), req.SampleInput, specYAML)
}

func yamlMarshal(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
