// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paretolabs/planopt/services/optimizer/mcts"
)

func TestReadSummary(t *testing.T) {
	dir := t.TempDir()
	want := &mcts.SearchSummary{
		SearchID:     "abc",
		Iterations:   3,
		TotalPlans:   2,
		FrontierSize: 1,
		Plans: []mcts.PlanSummary{
			{Name: "base", Cost: 1.5, OnFrontier: true},
			{Name: "base_1_acc", Cost: 2.0},
		},
	}
	data, err := json.Marshal(want)
	require.NoError(t, err)
	path := filepath.Join(dir, "summary.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := readSummary(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadSummaryMissingFile(t *testing.T) {
	_, err := readSummary(filepath.Join(t.TempDir(), "summary.json"))
	assert.Error(t, err)
}

func TestReadSummaryBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := readSummary(path)
	assert.Error(t, err)
}
