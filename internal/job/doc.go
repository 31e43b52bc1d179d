// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package job implements the job manager: a cooperative scheduler for
// long-running operations with monotonic progress, cooperative
// cancellation, and per-right authorization. Each job runs in its own
// goroutine; a *Progress handle passed to the operation reports
// progress and exposes the cancellation signal the operation is
// expected to poll at reasonable checkpoints.
package job
