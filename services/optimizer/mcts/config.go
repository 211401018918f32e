// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SearchConfig holds all tunables for one search session.
type SearchConfig struct {
	// ExplorationConstant is the UCB exploration weight c.
	ExplorationConstant float64 `yaml:"exploration_constant" json:"exploration_constant"`

	// MaxIterations bounds the number of search iterations.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// MaxDuration bounds wall-clock time. Zero disables the time cutoff
	// independently of the iteration cutoff.
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`

	// ExpansionCount is the per-node child limit.
	ExpansionCount int `yaml:"expansion_count" json:"expansion_count"`

	// AgentModel runs oracle recommendations and directive instantiation.
	AgentModel string `yaml:"agent_model" json:"agent_model"`

	// JudgeModel runs pairwise accuracy comparisons.
	JudgeModel string `yaml:"judge_model" json:"judge_model"`

	// ModelProvider prefixes model names in generated plans ("azure",
	// "openai"). Empty leaves model names untouched.
	ModelProvider string `yaml:"model_provider" json:"model_provider"`

	// AllowedModels is the menu for the change-model directive.
	AllowedModels []string `yaml:"allowed_models" json:"allowed_models"`

	// OracleTimeout bounds each recommendation and instantiation call.
	OracleTimeout time.Duration `yaml:"oracle_timeout" json:"oracle_timeout"`

	// ExecTimeout bounds each plan execution.
	ExecTimeout time.Duration `yaml:"exec_timeout" json:"exec_timeout"`

	// SampleInputPath points to a representative input excerpt included in
	// oracle prompts. Optional.
	SampleInputPath string `yaml:"sample_input_path" json:"sample_input_path"`

	// MaxSampleBytes bounds the sample excerpt size.
	MaxSampleBytes int `yaml:"max_sample_bytes" json:"max_sample_bytes"`
}

// DefaultSearchConfig returns the tunables used by the reference setup.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		ExplorationConstant: 1.41,
		MaxIterations:       24,
		MaxDuration:         0,
		ExpansionCount:      8,
		AgentModel:          "gpt-4.1",
		JudgeModel:          "gpt-4.1",
		ModelProvider:       "azure",
		AllowedModels:       []string{"gpt-4.1", "gpt-4.1-nano", "gpt-4o", "gpt-4o-mini"},
		OracleTimeout:       2 * time.Minute,
		ExecTimeout:         30 * time.Minute,
		MaxSampleBytes:      5000,
	}
}

// Validate checks the configuration for values the search cannot run with.
func (c *SearchConfig) Validate() error {
	if c.ExplorationConstant <= 0 {
		return fmt.Errorf("exploration_constant must be positive, got %f", c.ExplorationConstant)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("max_duration must be non-negative, got %s", c.MaxDuration)
	}
	if c.ExpansionCount <= 0 {
		return fmt.Errorf("expansion_count must be positive, got %d", c.ExpansionCount)
	}
	if c.AgentModel == "" {
		return fmt.Errorf("agent_model is required")
	}
	if c.JudgeModel == "" {
		return fmt.Errorf("judge_model is required")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be positive, got %s", c.OracleTimeout)
	}
	if c.ExecTimeout <= 0 {
		return fmt.Errorf("exec_timeout must be positive, got %s", c.ExecTimeout)
	}
	return nil
}

// LoadSearchConfig reads a YAML config file over the defaults. Environment
// overrides win over both.
func LoadSearchConfig(path string) (SearchConfig, error) {
	cfg := DefaultSearchConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read search config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse search config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid search config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays PLANOPT_* environment variables on the config.
// Unset variables leave the config untouched.
func (c *SearchConfig) ApplyEnv() {
	if v := os.Getenv("PLANOPT_AGENT_MODEL"); v != "" {
		c.AgentModel = v
	}
	if v := os.Getenv("PLANOPT_JUDGE_MODEL"); v != "" {
		c.JudgeModel = v
	}
	if v, ok := os.LookupEnv("PLANOPT_MODEL_PROVIDER"); ok {
		c.ModelProvider = v
	}
	if v := os.Getenv("PLANOPT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIterations = n
		}
	}
	if v := os.Getenv("PLANOPT_EXEC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ExecTimeout = d
		}
	}
}
