// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package reattach persists and recovers the record a SessionController
// needs to rebind to an already-running game-server process across a
// controller restart. It reuses lib/watchdog's atomic
// write-temp-file-then-rename-then-fsync discipline and staleness
// check; the fields differ (PID, bound port, access identifier instead
// of binary paths) but the on-disk safety property — readers never see
// a partial write — is the same one lib/watchdog exists to provide for
// binary-update transitions.
package reattach
