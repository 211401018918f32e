// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a plan spec from a YAML file and wraps it with the identity
// derived from the file stem.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}

	return NewPlan(path, &spec), nil
}

// Save writes the plan's spec to its own path as YAML.
func Save(plan *Plan) error {
	return SaveTo(plan, plan.Path)
}

// SaveTo writes the plan's spec to an arbitrary path as YAML.
func SaveTo(plan *Plan, path string) error {
	data, err := yaml.Marshal(plan.Spec)
	if err != nil {
		return fmt.Errorf("marshal plan %s: %w", plan.Name, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plan dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan %s: %w", path, err)
	}
	return nil
}

// Clone deep-copies a spec via a YAML round-trip, so a child plan can be
// mutated without touching its parent.
func Clone(spec *Spec) (*Spec, error) {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("clone spec: %w", err)
	}
	var out Spec
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone spec: %w", err)
	}
	return &out, nil
}

// ChildPaths derives the deterministic spec and artifact paths for a child
// plan from its parent's path, the child's ordinal among siblings, and the
// optimization goal tag.
func ChildPaths(parentPath string, ordinal int, goal string) (specPath, artifactPath string) {
	stem := strings.TrimSuffix(parentPath, ".yaml")
	stem = strings.TrimSuffix(stem, ".yml")
	specPath = fmt.Sprintf("%s_%d_%s.yaml", stem, ordinal, goal)
	artifactPath = fmt.Sprintf("%s_%d.json", stem, ordinal)
	return specPath, artifactPath
}

// RewriteSteps substitutes a replaced operator group inside every step's
// reference list. Wherever a step references the anchor (first) target
// operator, the full ordered list of new operator names is spliced in;
// references to the remaining target operators are removed; references to
// untouched operators are preserved in place.
func RewriteSteps(spec *Spec, targets, newNames []string) {
	if len(targets) == 0 {
		return
	}
	anchor := targets[0]
	replaced := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		replaced[t] = struct{}{}
	}

	for si := range spec.Pipeline.Steps {
		step := &spec.Pipeline.Steps[si]
		rewritten := make([]string, 0, len(step.Operations)+len(newNames))
		for _, ref := range step.Operations {
			switch {
			case ref == anchor:
				rewritten = append(rewritten, newNames...)
			case hasKey(replaced, ref):
				// Absorbed into the replacement group.
			default:
				rewritten = append(rewritten, ref)
			}
		}
		step.Operations = rewritten
	}
}

// NormalizeModels prefixes every model name in the spec with the active
// provider, skipping names that already carry a provider prefix.
func NormalizeModels(spec *Spec, provider string) {
	if provider == "" {
		return
	}
	prefix := provider + "/"
	norm := func(model string) string {
		if model == "" || strings.Contains(model, "/") {
			return model
		}
		return prefix + model
	}

	spec.DefaultModel = norm(spec.DefaultModel)
	for i := range spec.Operations {
		op := &spec.Operations[i]
		op.Model = norm(op.Model)
		if op.Gleaning != nil {
			op.Gleaning.Model = norm(op.Gleaning.Model)
		}
		normalizeExtras(op.Extras, norm)
	}
	normalizeExtras(spec.Extras, norm)
}

// normalizeExtras walks free-form YAML fragments rewriting "model" values.
func normalizeExtras(obj any, norm func(string) string) {
	switch v := obj.(type) {
	case map[string]any:
		for key, val := range v {
			if key == "model" {
				if s, ok := val.(string); ok {
					v[key] = norm(s)
					continue
				}
			}
			normalizeExtras(val, norm)
		}
	case []any:
		for _, item := range v {
			normalizeExtras(item, norm)
		}
	}
}

func hasKey(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
