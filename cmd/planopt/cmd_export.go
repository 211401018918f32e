// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paretolabs/planopt/services/optimizer/mcts"
)

// runExport re-reads a previous session's summary.json and prints it,
// either as a table or as raw JSON.
func runExport(_ *cobra.Command, args []string) error {
	summary, err := readSummary(filepath.Join(args[0], "summary.json"))
	if err != nil {
		return err
	}

	if frontierOnly {
		kept := summary.Plans[:0]
		for _, p := range summary.Plans {
			if p.OnFrontier {
				kept = append(kept, p)
			}
		}
		summary.Plans = kept
	}

	if exportAsJSON {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printSummary(summary)
	return nil
}

func readSummary(path string) (*mcts.SearchSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var summary mcts.SearchSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &summary, nil
}

// printSummary writes the per-plan table to stdout. Frontier members are
// flagged with an asterisk.
func printSummary(summary *mcts.SearchSummary) {
	fmt.Printf("Search %s: %d iterations, %d plans, frontier size %d\n\n",
		summary.SearchID, summary.Iterations, summary.TotalPlans, summary.FrontierSize)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tCOST\tW/L/T\tVISITS\tVALUE")
	for _, p := range summary.Plans {
		name := p.Name
		if p.OnFrontier {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t$%.4f\t%d/%d/%d\t%d\t%.1f\n",
			name, p.Cost,
			p.Accuracy.Wins, p.Accuracy.Losses, p.Accuracy.Ties,
			p.Visits, p.Value)
	}
	w.Flush()
}
