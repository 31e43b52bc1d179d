// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package autoupdate drives the scheduled half of the repository
// auto-update operation spec.md §4.3 lists alongside clone/fetch/merge:
// a Poller wakes periodically, evaluates each instance's
// RepositorySettings.AutoUpdateCron expression against the clock, and
// registers an internal/job operation that fetches and fast-forwards
// the tracked branch for any instance whose schedule has come due.
package autoupdate
