// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package comparator resolves the accuracy axis of plan dominance.
//
// Accuracy has no global scalar: two executed plans are compared by judging
// their output artifacts pairwise. The LLM-backed comparator is the oracle
// for that judgement; results are cached so a pair is judged at most once.
package comparator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/paretolabs/planopt/services/llm"
	"github.com/paretolabs/planopt/services/optimizer/pipeline"
	"github.com/paretolabs/planopt/services/optimizer/store"
)

// Preference is the outcome of one pairwise accuracy comparison.
type Preference int

const (
	PreferA Preference = -1
	Tie     Preference = 0
	PreferB Preference = 1
)

// String returns a short human-readable label.
func (p Preference) String() string {
	switch p {
	case PreferA:
		return "prefer_a"
	case PreferB:
		return "prefer_b"
	case Tie:
		return "tie"
	default:
		return "unknown"
	}
}

// Invert flips the preference for swapped arguments.
func (p Preference) Invert() Preference {
	return Preference(-int(p))
}

// Comparator judges which of two executed plans produced the more accurate
// output.
type Comparator interface {
	Compare(ctx context.Context, a, b *pipeline.Plan) (Preference, error)
}

// LLMComparator implements Comparator with a judge model over the two plans'
// output artifacts.
//
// Thread Safety: Safe for concurrent use when the underlying cache is.
type LLMComparator struct {
	client llm.Client
	model  string
	cache  *store.ComparisonCache
	logger *slog.Logger

	// maxArtifactBytes bounds how much of each artifact goes into the
	// judge prompt.
	maxArtifactBytes int
}

// Option configures an LLMComparator.
type Option func(*LLMComparator)

// WithCache persists comparison results across frontier scans and sessions.
func WithCache(cache *store.ComparisonCache) Option {
	return func(c *LLMComparator) { c.cache = cache }
}

// WithLogger sets the comparator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *LLMComparator) { c.logger = logger }
}

// WithMaxArtifactBytes bounds the artifact excerpt size per plan.
func WithMaxArtifactBytes(n int) Option {
	return func(c *LLMComparator) { c.maxArtifactBytes = n }
}

// NewLLMComparator builds a comparator judging with the given model.
func NewLLMComparator(client llm.Client, model string, opts ...Option) *LLMComparator {
	c := &LLMComparator{
		client:           client,
		model:            model,
		logger:           slog.Default(),
		maxArtifactBytes: 16 * 1024,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare judges plans a and b on output accuracy.
//
// The pair is canonicalized by plan name before judging so the verdict is
// antisymmetric by construction: Compare(a, b) == Compare(b, a).Invert().
func (c *LLMComparator) Compare(ctx context.Context, a, b *pipeline.Plan) (Preference, error) {
	if !a.Executed() || !b.Executed() {
		return Tie, fmt.Errorf("compare %s vs %s: both plans must be executed", a.Name, b.Name)
	}
	if a.Name == b.Name {
		return Tie, nil
	}

	swapped := b.Name < a.Name
	if swapped {
		a, b = b, a
	}

	pref, err := c.compareCanonical(ctx, a, b)
	if err != nil {
		return Tie, err
	}
	if swapped {
		pref = pref.Invert()
	}
	return pref, nil
}

func (c *LLMComparator) compareCanonical(ctx context.Context, a, b *pipeline.Plan) (Preference, error) {
	if c.cache != nil {
		rec, err := c.cache.Get(a.Name, b.Name)
		if err == nil {
			return Preference(rec.Preference), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Tie, fmt.Errorf("comparison cache: %w", err)
		}
	}

	outA, err := c.readArtifact(a)
	if err != nil {
		return Tie, err
	}
	outB, err := c.readArtifact(b)
	if err != nil {
		return Tie, err
	}

	verdict, rationale, err := c.judge(ctx, a, b, outA, outB)
	if err != nil {
		return Tie, err
	}

	if c.cache != nil {
		rec := store.Record{
			First:      a.Name,
			Second:     b.Name,
			Preference: int(verdict),
			Rationale:  rationale,
		}
		if err := c.cache.Put(rec); err != nil {
			c.logger.Warn("failed to cache comparison", "pair", a.Name+"/"+b.Name, "error", err)
		}
	}

	c.logger.Debug("accuracy comparison",
		"a", a.Name, "b", b.Name, "verdict", verdict.String())
	return verdict, nil
}

// judgeResponse is the JSON shape the judge model must return.
type judgeResponse struct {
	Winner    string `json:"winner"`
	Rationale string `json:"rationale"`
}

func (c *LLMComparator) judge(ctx context.Context, a, b *pipeline.Plan, outA, outB string) (Preference, string, error) {
	user := fmt.Sprintf(`Two pipeline variants processed the same input data. Judge which output
is more accurate: more complete, more faithful to the source, better
structured for its declared schema. Ignore cost, speed, and formatting.

Output A (plan %s):
%s

Output B (plan %s):
%s

Return JSON: {"winner": "A" | "B" | "tie", "rationale": str}`,
		a.Name, outA, b.Name, outB)

	resp, err := c.client.Complete(ctx, llm.Request{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a meticulous judge of data-extraction quality. Respond with a single JSON object."},
			{Role: llm.RoleUser, Content: user},
		},
		JSONMode: true,
	})
	if err != nil {
		return Tie, "", fmt.Errorf("judge %s vs %s: %w", a.Name, b.Name, err)
	}

	var out judgeResponse
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return Tie, "", fmt.Errorf("decode judge verdict: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(out.Winner)) {
	case "A":
		return PreferA, out.Rationale, nil
	case "B":
		return PreferB, out.Rationale, nil
	case "TIE":
		return Tie, out.Rationale, nil
	default:
		return Tie, "", fmt.Errorf("judge returned unknown winner %q", out.Winner)
	}
}

// readArtifact loads a bounded excerpt of the plan's output artifact.
func (c *LLMComparator) readArtifact(p *pipeline.Plan) (string, error) {
	data, err := os.ReadFile(p.ResultPath)
	if err != nil {
		return "", fmt.Errorf("read artifact for %s: %w", p.Name, err)
	}
	if len(data) > c.maxArtifactBytes {
		data = data[:c.maxArtifactBytes]
	}
	return string(data), nil
}
