// Copyright (C) 2025 Pareto Labs (oss@paretolabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcts

import "errors"

// Sentinel errors for the mcts package.
var (
	// Expansion errors, all recoverable at the iteration level.
	ErrExpansionExhausted   = errors.New("expansion candidate menu is empty")
	ErrUnknownDirective     = errors.New("oracle chose a directive outside the catalog")
	ErrInstantiationFailure = errors.New("directive produced no new operator list")
	ErrExecutionFailure     = errors.New("plan execution failed")

	// Persistence errors below the controller are fatal to the session.
	ErrPlanStorage = errors.New("plan storage unavailable")

	// Lifecycle errors
	ErrSearchTerminated = errors.New("search already terminated")
	ErrSearchRunning    = errors.New("search already running")
)
