// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PlanSummary is the per-plan line of the search export.
type PlanSummary struct {
	Name       string           `json:"name"`
	ConfigPath string           `json:"config_path"`
	Cost       float64          `json:"cost"`
	OnFrontier bool             `json:"is_frontier"`
	Accuracy   ComparisonRecord `json:"accuracy_record"`
	Visits     int64            `json:"visits"`
	Value      float64          `json:"value"`
	Artifact   string           `json:"artifact,omitempty"`
}

// SearchSummary is the full result of one session.
type SearchSummary struct {
	SearchID     string        `json:"search_id"`
	State        string        `json:"state"`
	Iterations   int           `json:"iterations"`
	TotalPlans   int           `json:"total_plans"`
	FrontierSize int           `json:"frontier_size"`
	Plans        []PlanSummary `json:"plans"`
}

// Summary exports the session: every known plan with its frontier status,
// cost, accuracy record, and tree statistics, in insertion order.
func (s *Search) Summary() *SearchSummary {
	plans := make([]PlanSummary, 0, s.frontier.TotalPlans())
	byNode := make(map[*Node]struct{}, s.frontier.TotalPlans())
	for _, node := range s.frontier.plans {
		byNode[node] = struct{}{}
		plans = append(plans, s.planSummary(node))
	}

	return &SearchSummary{
		SearchID:     s.id,
		State:        s.State().String(),
		Iterations:   s.iterations,
		TotalPlans:   len(plans),
		FrontierSize: s.frontier.Size(),
		Plans:        plans,
	}
}

func (s *Search) planSummary(node *Node) PlanSummary {
	plan := node.Plan()
	return PlanSummary{
		Name:       plan.Name,
		ConfigPath: plan.Path,
		Cost:       plan.Cost,
		OnFrontier: s.frontier.Contains(node),
		Accuracy:   s.frontier.Record(node),
		Visits:     node.Visits(),
		Value:      node.Value(),
		Artifact:   plan.ResultPath,
	}
}

// WriteSummary persists the summary and the frontier subset as JSON files
// in dir: summary.json with every plan, frontier.json with members only.
func WriteSummary(summary *SearchSummary, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir %s: %w", dir, err)
	}

	if err := writeJSON(filepath.Join(dir, "summary.json"), summary); err != nil {
		return err
	}

	var frontier []PlanSummary
	for _, p := range summary.Plans {
		if p.OnFrontier {
			frontier = append(frontier, p)
		}
	}
	return writeJSON(filepath.Join(dir, "frontier.json"), frontier)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
