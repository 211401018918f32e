// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline defines the plan data model: a declarative pipeline of
// LLM-backed operators, its YAML persistence, and the structural rewrites
// the optimizer applies when deriving child plans.
package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Status tracks a plan through its lifecycle. A plan is executed at most
// once; after that its cost and artifact fields are frozen.
type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// Gleaning configures iterative refinement on an operator: the operator's
// output is re-validated and re-generated up to NumRounds times.
type Gleaning struct {
	ValidationPrompt string `yaml:"validation_prompt" json:"validation_prompt"`
	NumRounds        int    `yaml:"num_rounds" json:"num_rounds"`
	Model            string `yaml:"model,omitempty" json:"model,omitempty"`
}

// Output declares the schema an operator emits, as key -> type name.
type Output struct {
	Schema map[string]string `yaml:"schema" json:"schema"`
}

// Operator is one named stage of the pipeline. Fields the optimizer does not
// model (sampling params, code blocks, reduce keys) survive YAML round-trips
// through Extras.
type Operator struct {
	Name     string    `yaml:"name" json:"name"`
	Type     string    `yaml:"type" json:"type"`
	Prompt   string    `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Model    string    `yaml:"model,omitempty" json:"model,omitempty"`
	Output   *Output   `yaml:"output,omitempty" json:"output,omitempty"`
	Gleaning *Gleaning `yaml:"gleaning,omitempty" json:"gleaning,omitempty"`

	Extras map[string]any `yaml:",inline" json:"-"`
}

// OutputKeys returns the operator's declared output keys in sorted order.
// Nil when the operator declares no output schema.
func (o *Operator) OutputKeys() []string {
	if o.Output == nil || len(o.Output.Schema) == 0 {
		return nil
	}
	keys := make([]string, 0, len(o.Output.Schema))
	for k := range o.Output.Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Step names one stage of the pipeline graph: an input dataset (or prior
// step) and the ordered operator references applied to it.
type Step struct {
	Name       string   `yaml:"name" json:"name"`
	Input      string   `yaml:"input,omitempty" json:"input,omitempty"`
	Operations []string `yaml:"operations" json:"operations"`
}

// SinkOutput locates the pipeline's final artifact.
type SinkOutput struct {
	Type            string `yaml:"type,omitempty" json:"type,omitempty"`
	Path            string `yaml:"path" json:"path"`
	IntermediateDir string `yaml:"intermediate_dir,omitempty" json:"intermediate_dir,omitempty"`
}

// Graph is the pipeline section of a spec: its steps and output sink.
type Graph struct {
	Steps  []Step     `yaml:"steps" json:"steps"`
	Output SinkOutput `yaml:"output" json:"output"`
}

// Dataset declares one named input source.
type Dataset struct {
	Type string `yaml:"type" json:"type"`
	Path string `yaml:"path" json:"path"`
}

// Spec is the full declarative pipeline definition as persisted to YAML.
type Spec struct {
	DefaultModel string             `yaml:"default_model,omitempty" json:"default_model,omitempty"`
	SystemPrompt map[string]string  `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Datasets     map[string]Dataset `yaml:"datasets,omitempty" json:"datasets,omitempty"`
	Operations   []Operator         `yaml:"operations" json:"operations"`
	Pipeline     Graph              `yaml:"pipeline" json:"pipeline"`
	BypassCache  bool               `yaml:"bypass_cache,omitempty" json:"bypass_cache,omitempty"`

	Extras map[string]any `yaml:",inline" json:"-"`
}

// OperatorNames returns the names of all operators in declaration order.
func (s *Spec) OperatorNames() []string {
	names := make([]string, len(s.Operations))
	for i, op := range s.Operations {
		names[i] = op.Name
	}
	return names
}

// FindOperator returns the operator with the given name and its index.
func (s *Spec) FindOperator(name string) (*Operator, int, bool) {
	for i := range s.Operations {
		if s.Operations[i].Name == name {
			return &s.Operations[i], i, true
		}
	}
	return nil, -1, false
}

// Validate checks the structural invariants a spec must satisfy before the
// optimizer will touch it.
func (s *Spec) Validate() error {
	if len(s.Operations) == 0 {
		return fmt.Errorf("spec has no operations")
	}

	seen := make(map[string]struct{}, len(s.Operations))
	for _, op := range s.Operations {
		if op.Name == "" {
			return fmt.Errorf("operator with empty name")
		}
		if op.Type == "" {
			return fmt.Errorf("operator %q has no type", op.Name)
		}
		if _, dup := seen[op.Name]; dup {
			return fmt.Errorf("duplicate operator name %q", op.Name)
		}
		seen[op.Name] = struct{}{}
	}

	if len(s.Pipeline.Steps) == 0 {
		return fmt.Errorf("pipeline has no steps")
	}
	for _, step := range s.Pipeline.Steps {
		for _, ref := range step.Operations {
			if _, ok := seen[ref]; !ok {
				return fmt.Errorf("step %q references unknown operator %q", step.Name, ref)
			}
		}
	}
	return nil
}

// Plan binds a spec to its on-disk identity and its post-execution results.
//
// Thread Safety: not safe for concurrent mutation; the search controller is
// the single writer.
type Plan struct {
	// Name is the plan's identity, derived from the file stem.
	Name string `json:"name"`

	// Path is where the spec is persisted as YAML.
	Path string `json:"path"`

	Spec *Spec `json:"-"`

	// Derived fields, populated by MarkExecuted exactly once.
	Cost       float64 `json:"cost"`
	ResultPath string  `json:"result_path,omitempty"`
	Status     Status  `json:"status"`
}

// NewPlan wraps a spec with the identity derived from path.
func NewPlan(path string, spec *Spec) *Plan {
	return &Plan{
		Name:   Stem(path),
		Path:   path,
		Spec:   spec,
		Status: StatusPending,
	}
}

// MarkExecuted freezes the plan with its realized cost and artifact.
//
// Inputs:
//   - cost: Realized monetary cost, must be non-negative
//   - resultPath: Path to the output artifact
//
// Outputs:
//   - error: If the plan was already executed or cost is negative
func (p *Plan) MarkExecuted(cost float64, resultPath string) error {
	if p.Status != StatusPending {
		return fmt.Errorf("plan %q already %s", p.Name, p.Status)
	}
	if cost < 0 {
		return fmt.Errorf("plan %q: negative cost %f", p.Name, cost)
	}
	p.Cost = cost
	p.ResultPath = resultPath
	p.Status = StatusExecuted
	return nil
}

// MarkFailed records that execution was attempted and did not complete.
func (p *Plan) MarkFailed() {
	if p.Status == StatusPending {
		p.Status = StatusFailed
	}
}

// Executed reports whether the plan has a realized cost and artifact.
func (p *Plan) Executed() bool {
	return p.Status == StatusExecuted
}

// Stem returns the file name without directory or .yaml/.yml suffix.
func Stem(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".yaml")
	base = strings.TrimSuffix(base, ".yml")
	return base
}
