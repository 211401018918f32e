// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package directives implements the catalog of pipeline rewrite actions.
//
// Each directive exposes a deterministic Apply and an LLM-driven Instantiate.
// The catalog is built once at startup and shared read-only by every search.
package directives

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
)

// Stable catalog identifiers.
const (
	NameChaining          = "chaining"
	NameGleaning          = "gleaning"
	NameChangeModel       = "change model"
	NameDocSummarization  = "doc summarization"
	NameDocCompression    = "doc compression"
	NameIsolatingSubtasks = "isolating subtasks"
	NameOperatorFusion    = "operator fusion"
)

// InstantiateRequest carries everything a directive needs to produce a
// concrete rewrite of the target operators.
type InstantiateRequest struct {
	// DefaultModel is the pipeline's default model, used when the payload
	// leaves a model unset.
	DefaultModel string

	// Operators is the full current operator list.
	Operators []pipeline.Operator

	// Targets names the operators the rewrite applies to, in order.
	Targets []string

	// AgentModel is the model used for the instantiation call itself.
	AgentModel string
}

// Directive is one named rewrite action in the catalog.
//
// Apply is pure and deterministic given the payload. Instantiate obtains the
// payload from the LLM, validates it, then applies it; the returned message
// log records the interaction for export.
type Directive interface {
	Name() string
	Summary() string
	Apply(ops []pipeline.Operator, targets []string, payload any) ([]pipeline.Operator, error)
	Instantiate(ctx context.Context, req InstantiateRequest) ([]pipeline.Operator, []llm.Message, error)
}

// Registry is the closed, read-only directive catalog.
type Registry struct {
	byName  map[string]Directive
	ordered []Directive
}

// NewRegistry builds the full catalog against the given LLM client.
func NewRegistry(client llm.Client, allowedModels []string) *Registry {
	all := []Directive{
		&Chaining{client: client},
		&Gleaning{client: client},
		&ChangeModel{client: client, allowedModels: allowedModels},
		&DocSummarization{client: client},
		&DocCompression{client: client},
		&IsolatingSubtasks{client: client},
		&OperatorFusion{client: client},
	}

	byName := make(map[string]Directive, len(all))
	for _, d := range all {
		byName[d.Name()] = d
	}
	return &Registry{byName: byName, ordered: all}
}

// Get looks a directive up by its catalog name.
func (r *Registry) Get(name string) (Directive, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns all catalog names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.ordered))
	for i, d := range r.ordered {
		names[i] = d.Name()
	}
	return names
}

// Describe renders the catalog as "name: semantics" lines for inclusion in
// oracle prompts.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, d := range r.ordered {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name(), d.Summary())
	}
	return b.String()
}

var validate = validator.New()

var inputKeyPattern = regexp.MustCompile(`\{\{\s*input\.([^}\s]+)\s*\}\}`)

// referencesInputKey reports whether prompt contains {{ input.<key> }}.
func referencesInputKey(prompt, key string) bool {
	pattern := regexp.MustCompile(`\{\{\s*input\.` + regexp.QuoteMeta(key) + `\s*\}\}`)
	return pattern.MatchString(prompt)
}

// referencesAnyInputKey reports whether prompt contains any input reference.
func referencesAnyInputKey(prompt string) bool {
	return inputKeyPattern.MatchString(prompt)
}

// promptInputKeys returns every distinct key referenced as {{ input.key }}.
func promptInputKeys(prompt string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, m := range inputKeyPattern.FindAllStringSubmatch(prompt, -1) {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		keys = append(keys, m[1])
	}
	return keys
}

// findTargets resolves target names against the operator list, preserving
// target order. Errors if any name is missing.
func findTargets(ops []pipeline.Operator, targets []string) ([]*pipeline.Operator, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target operators given")
	}
	out := make([]*pipeline.Operator, len(targets))
	for i, name := range targets {
		found := false
		for j := range ops {
			if ops[j].Name == name {
				out[i] = &ops[j]
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("target operator %q not found", name)
		}
	}
	return out, nil
}

// cloneOps deep-copies an operator list so Apply never aliases its input.
func cloneOps(ops []pipeline.Operator) ([]pipeline.Operator, error) {
	spec := &pipeline.Spec{Operations: ops}
	cloned, err := pipeline.Clone(spec)
	if err != nil {
		return nil, err
	}
	return cloned.Operations, nil
}

// renderOps serializes operators to YAML for inclusion in prompts.
func renderOps(ops []pipeline.Operator) string {
	data, err := yaml.Marshal(ops)
	if err != nil {
		return fmt.Sprintf("(unrenderable operators: %v)", err)
	}
	return string(data)
}

// requestPayload runs one JSON-mode completion and unmarshals the reply into
// payload. The full interaction is returned for the expansion log.
func requestPayload(ctx context.Context, client llm.Client, model, system, user string, payload any) ([]llm.Message, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}

	resp, err := client.Complete(ctx, llm.Request{
		Model:    model,
		Messages: messages,
		JSONMode: true,
	})
	if err != nil {
		return messages, fmt.Errorf("instantiation call: %w", err)
	}
	log := append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

	if err := json.Unmarshal([]byte(resp.Content), payload); err != nil {
		return log, fmt.Errorf("decode instantiation payload: %w", err)
	}
	if err := validate.Struct(payload); err != nil {
		return log, fmt.Errorf("invalid instantiation payload: %w", err)
	}
	return log, nil
}

// schemaTypeFor picks the output type for key, reusing the original
// operator's declared type when present.
func schemaTypeFor(orig *pipeline.Operator, key string) string {
	if orig != nil && orig.Output != nil {
		if t, ok := orig.Output.Schema[key]; ok {
			return t
		}
	}
	return "string"
}

// sameKeySet reports whether two key lists cover the same set.
func sameKeySet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

const instantiateSystemPrompt = "You are an expert at rewriting declarative LLM data-processing pipelines. " +
	"Respond with a single JSON object matching the requested schema exactly. Do not include any other text."

// ReplacementNames computes which operator names take the target group's
// place in pipeline step references after a rewrite: every operator new
// relative to the old list, plus any target that survived, in new-list order.
func ReplacementNames(oldOps, newOps []pipeline.Operator, targets []string) []string {
	oldSet := make(map[string]struct{}, len(oldOps))
	for _, op := range oldOps {
		oldSet[op.Name] = struct{}{}
	}
	targetSet := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		targetSet[t] = struct{}{}
	}

	var names []string
	for _, op := range newOps {
		_, isOld := oldSet[op.Name]
		_, isTarget := targetSet[op.Name]
		if !isOld || isTarget {
			names = append(names, op.Name)
		}
	}
	return names
}
