// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the controller's Global Database: SQLite
// persistence (zombiezen.com/go/sqlite via lib/sqlitepool) for
// instances, their per-instance users, and jobs. Each entity's
// queryable columns (id, path, state, ...) are stored as real SQLite
// columns; the rest of the struct travels as a CBOR blob (lib/codec),
// so adding a field to internal/domain never requires a migration.
package store
