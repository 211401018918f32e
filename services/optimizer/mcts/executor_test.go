// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import "testing"

func TestParseReport(t *testing.T) {
	tests := []struct {
		name     string
		stdout   string
		wantCost float64
		wantPath string
		wantErr  bool
	}{
		{
			name:     "bare report",
			stdout:   `{"cost": 1.25, "output_path": "out.json"}`,
			wantCost: 1.25,
			wantPath: "out.json",
		},
		{
			name: "report after engine chatter",
			stdout: "loading dataset\nrunning operator extract\n" +
				`{"cost": 0.5, "output_path": ""}`,
			wantCost: 0.5,
		},
		{
			name:    "no report",
			stdout:  "it all went wrong",
			wantErr: true,
		},
		{
			name:    "empty output",
			stdout:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := parseReport([]byte(tt.stdout))
			if tt.wantErr {
				if err == nil {
					t.Error("parseReport accepted invalid output")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReport: %v", err)
			}
			if report.Cost != tt.wantCost {
				t.Errorf("cost = %f, want %f", report.Cost, tt.wantCost)
			}
			if report.OutputPath != tt.wantPath {
				t.Errorf("output_path = %q, want %q", report.OutputPath, tt.wantPath)
			}
		})
	}
}
