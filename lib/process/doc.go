// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for gameward's
// daemon and CLI binaries. These functions centralize the two
// legitimate raw I/O patterns that exist before or after the
// structured logger:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main().
//
// All other raw I/O in the controller binary should go through
// log/slog rather than fmt.Fprintf/fmt.Printf directly.
package process
