// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *ComparisonCache {
	t.Helper()
	cache, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestPutGetEitherOrder(t *testing.T) {
	cache := openTestCache(t)

	rec := Record{First: "base", Second: "base_1_acc", Preference: 1, Rationale: "more complete"}
	require.NoError(t, cache.Put(rec))

	got, err := cache.Get("base", "base_1_acc")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Preference)
	assert.NotZero(t, got.CreatedAt)

	// Same record regardless of argument order.
	flipped, err := cache.Get("base_1_acc", "base")
	require.NoError(t, err)
	assert.Equal(t, got.Preference, flipped.Preference)
}

func TestGetMissing(t *testing.T) {
	cache := openTestCache(t)

	_, err := cache.Get("a", "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutValidatesNames(t *testing.T) {
	cache := openTestCache(t)

	assert.Error(t, cache.Put(Record{First: "", Second: "b"}))
	assert.Error(t, cache.Put(Record{First: "a", Second: ""}))
}

func TestLen(t *testing.T) {
	cache := openTestCache(t)

	require.NoError(t, cache.Put(Record{First: "a", Second: "b", Preference: -1}))
	require.NoError(t, cache.Put(Record{First: "a", Second: "c", Preference: 0}))
	// Overwrites do not grow the cache.
	require.NoError(t, cache.Put(Record{First: "a", Second: "b", Preference: 1}))

	n, err := cache.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
