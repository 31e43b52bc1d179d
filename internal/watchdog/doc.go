// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog implements the supervised-process state machine:
// Offline, Starting, Online, ReplacingOnline, Terminating, and
// Reattaching, over zero, one, or two internal/session.Controller
// instances bound to an instance's primary/secondary deployment slots.
// Every transition is taken under one mutex so external observers
// never see a state snapshot caught mid-transition, per spec.md §5's
// "transitions are atomic" requirement.
package watchdog
