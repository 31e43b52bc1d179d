// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package domain defines the entities the controller persists and
// passes between components: Instance, Job, Repository snapshot,
// Deployment, Launch parameters, Reattach record, and Session.
//
// Every entity is a plain Go struct with both `cbor` and `json` struct
// tags where it crosses both boundaries (on-disk snapshots and the
// control surface respectively), following the tag convention
// documented in lib/codec. Entities carry no behavior beyond small
// invariant checks and enum validity predicates — component packages
// (internal/instance, internal/job, internal/session, ...) own the
// operations that create, mutate, and persist them.
package domain
