// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists pairwise accuracy-comparison results in BadgerDB.
//
// Comparing two plans costs an LLM call, and the frontier re-compares the
// same pairs across insertions and across restarted sessions. The cache keys
// records by the canonically ordered plan-name pair so a result is written
// once and reused regardless of argument order.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get when no record exists for the pair.
var ErrNotFound = errors.New("comparison not found")

// Config holds configuration for the comparison cache.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: persistent, synchronous writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: no disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Record is one cached comparison outcome between an ordered plan pair.
type Record struct {
	// First and Second are the plan names in canonical (lexicographic) order.
	First  string `json:"first"`
	Second string `json:"second"`

	// Preference is -1 when First wins, 0 for a tie, 1 when Second wins.
	Preference int `json:"preference"`

	// Rationale is the comparator's stated reason, kept for export.
	Rationale string `json:"rationale,omitempty"`

	CreatedAt int64 `json:"created_at"` // Unix milliseconds UTC
}

// ComparisonCache is a BadgerDB-backed store of comparison records.
//
// Thread Safety: Safe for concurrent use.
type ComparisonCache struct {
	db *badger.DB
}

// Open creates the cache with the given configuration.
func Open(cfg Config) (*ComparisonCache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open comparison cache: %w", err)
	}
	return &ComparisonCache{db: db}, nil
}

// Put stores a record under its canonical pair key.
func (c *ComparisonCache) Put(rec Record) error {
	if rec.First == "" || rec.Second == "" {
		return errors.New("record needs both plan names")
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal comparison record: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pairKey(rec.First, rec.Second), data)
	})
	if err != nil {
		return fmt.Errorf("store comparison %s/%s: %w", rec.First, rec.Second, err)
	}
	return nil
}

// Get fetches the record for a pair, in either argument order.
// Returns ErrNotFound when the pair has never been compared.
func (c *ComparisonCache) Get(a, b string) (Record, error) {
	var rec Record
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(a, b))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load comparison %s/%s: %w", a, b, err)
	}
	return rec, nil
}

// Len returns the number of cached records.
func (c *ComparisonCache) Len() (int, error) {
	count := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close releases the underlying database.
func (c *ComparisonCache) Close() error {
	return c.db.Close()
}

// pairKey builds the canonical key for a plan pair: lexicographically
// smaller name first.
func pairKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte("cmp/" + a + "\x00" + b)
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
