// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Package instance implements the instance manager: create-or-attach,
// detach, update (rename / relocate / online-toggle / settings), list,
// and get-by-id over the controller's Instance entities. Relocation
// runs as a background move job through internal/job; going online
// runs as a cancellable launch job through internal/job, and going
// offline is a synchronous handoff; both call a caller-supplied
// Lifecycle.
package instance
