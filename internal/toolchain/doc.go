// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolchain installs and caches compiler versions, keyed by
// version string, under one cache directory per version. Two lock
// kinds guard each version: an exclusive lock held during install,
// and any number of concurrent shared locks held by a
// running SessionController using that version. CleanCache evicts
// versions that are neither pinned (via the operator-edited YAML pin
// list) nor currently held by a shared lock.
package toolchain
