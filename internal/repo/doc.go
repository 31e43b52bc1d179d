// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package repo implements the repository engine: clone, fetch, reset,
// and merge operations over one instance's working copy, each
// cancellable and reporting progress through internal/job.
//
// Every mutating operation is serialised per repository by a mutex held
// for the operation's duration; readers (IsSHA) take the same lock so
// they never observe a half-finished fetch or merge. Network
// operations poll ctx at each git invocation boundary — git itself is
// shelled out to via lib/git.Repository, so cancellation takes effect
// at process-exec granularity rather than mid-transfer, which is the
// best an exec.CommandContext wrapper can offer without a native git
// library in the dependency pack.
package repo
